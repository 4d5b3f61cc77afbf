package httpapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/voicekit-labs/speakerd/internal/config"
	"github.com/voicekit-labs/speakerd/internal/embedding"
	"github.com/voicekit-labs/speakerd/internal/recognizer"
	"github.com/voicekit-labs/speakerd/internal/store"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func voicePCM(f0 float64, rate int, seconds float64) []byte {
	n := int(float64(rate) * seconds)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(rate)
		v := 0.6*math.Sin(2*math.Pi*f0*t) + 0.25*math.Sin(2*math.Pi*2.3*f0*t)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*20000)))
	}
	return out
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	tmp := t.TempDir()
	regCfg := config.RegistryConfig{Path: filepath.Join(tmp, "speakerd.db")}
	embCfg := config.EmbeddingsConfig{Dir: filepath.Join(tmp, "embeddings"), Dimension: 256}
	st, err := store.Open(context.Background(), regCfg, embCfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	enc, err := embedding.NewAnalyzerEncoder(embCfg.Dimension)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	recCfg := config.RecognizerConfig{
		Mode: "analyzer", SampleRate: 16000, Channels: 1,
		MinConfidence: 0.5, MaxAudioSeconds: 30,
	}
	svc, err := recognizer.NewService(context.Background(), recCfg, enc, st, newLogger())
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}

	api := New(config.HTTPConfig{MaxBodyBytes: 16 << 20}, svc, newLogger())
	mux := http.NewServeMux()
	api.Register(mux)
	server := httptest.NewServer(AccessLog(newLogger(), mux))
	t.Cleanup(server.Close)
	return server
}

func enrollSpeaker(t *testing.T, server *httptest.Server, name string, f0 float64) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost,
		server.URL+"/v1/speakers?name="+name, bytes.NewReader(voicePCM(f0, 16000, 1.0)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", "16000")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("enroll request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var sp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sp); err != nil {
		t.Fatalf("decode enroll response: %v", err)
	}
	if sp.ID == "" {
		t.Fatal("expected speaker id in response")
	}
	return sp.ID
}

func TestEnrollListAndDelete(t *testing.T) {
	server := newTestServer(t)
	id := enrollSpeaker(t, server, "Alice", 210)

	resp, err := http.Get(server.URL + "/v1/speakers")
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Speakers []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Samples int    `json:"samples"`
		} `json:"speakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Speakers) != 1 || list.Speakers[0].Name != "Alice" || list.Speakers[0].Samples != 1 {
		t.Fatalf("unexpected roster: %+v", list.Speakers)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/v1/speakers/"+id, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delResp.StatusCode)
	}

	getResp, err := http.Get(server.URL + "/v1/speakers/" + id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getResp.StatusCode)
	}
}

func TestEnrollMultipart(t *testing.T) {
	server := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("name", "Bob"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile("sample", "bob.pcm")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(voicePCM(520, 16000, 1.0)); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	writer.Close()

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/speakers", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Sample-Rate", "16000")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("enroll request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
}

func TestIdentifyFlow(t *testing.T) {
	server := newTestServer(t)
	aliceID := enrollSpeaker(t, server, "Alice", 210)
	enrollSpeaker(t, server, "Bob", 520)

	req, _ := http.NewRequest(http.MethodPost,
		server.URL+"/v1/identify?session_id=s1", bytes.NewReader(voicePCM(210, 16000, 1.0)))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", "16000")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("identify request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var result struct {
		SpeakerID string             `json:"speaker_id"`
		Name      string             `json:"name"`
		Matched   bool               `json:"matched"`
		Scores    map[string]float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.SpeakerID != aliceID || !result.Matched {
		t.Fatalf("expected confident alice match, got %+v", result)
	}
	if len(result.Scores) != 2 {
		t.Fatalf("expected scores for both speakers, got %v", result.Scores)
	}

	recResp, err := http.Get(server.URL + "/v1/recognitions?limit=5")
	if err != nil {
		t.Fatalf("recognitions request: %v", err)
	}
	defer recResp.Body.Close()
	var recs struct {
		Recognitions []struct {
			SessionID string `json:"session_id"`
			Kind      string `json:"kind"`
		} `json:"recognitions"`
	}
	if err := json.NewDecoder(recResp.Body).Decode(&recs); err != nil {
		t.Fatalf("decode recognitions: %v", err)
	}
	if len(recs.Recognitions) != 1 || recs.Recognitions[0].SessionID != "s1" {
		t.Fatalf("expected one logged recognition for s1, got %+v", recs.Recognitions)
	}
}

func TestIdentifyWithoutProfiles(t *testing.T) {
	server := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost,
		server.URL+"/v1/identify", bytes.NewReader(voicePCM(210, 16000, 0.5)))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("identify request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 with empty roster, got %d", resp.StatusCode)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	server := newTestServer(t)
	aliceID := enrollSpeaker(t, server, "Alice", 210)

	req, _ := http.NewRequest(http.MethodPost,
		server.URL+"/v1/speakers/"+aliceID+"/verify", bytes.NewReader(voicePCM(210, 16000, 1.0)))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("verify request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Matched bool `json:"matched"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Matched {
		t.Fatal("expected verification to pass")
	}
}

func TestBadRequests(t *testing.T) {
	server := newTestServer(t)

	// Empty body.
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/identify", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", resp.StatusCode)
	}

	// Unsupported content type.
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/identify", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}

	// Enroll without a name.
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/speakers", bytes.NewReader(voicePCM(210, 16000, 0.5)))
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", resp.StatusCode)
	}

	// Bad sample rate header.
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/identify", bytes.NewReader(voicePCM(210, 16000, 0.5)))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", "zero")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad sample rate, got %d", resp.StatusCode)
	}
}
