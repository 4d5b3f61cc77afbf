package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voicekit-labs/speakerd/internal/audio"
	"github.com/voicekit-labs/speakerd/internal/config"
	"github.com/voicekit-labs/speakerd/internal/embedding"
	"github.com/voicekit-labs/speakerd/internal/recognizer"
	"github.com/voicekit-labs/speakerd/internal/store"
)

// API serves the speaker recognition REST surface.
type API struct {
	cfg        config.HTTPConfig
	recognizer *recognizer.Service
	log        *slog.Logger
}

func New(cfg config.HTTPConfig, rec *recognizer.Service, log *slog.Logger) *API {
	return &API{
		cfg:        cfg,
		recognizer: rec,
		log:        log.With(slog.String("component", "httpapi")),
	}
}

// Register mounts the v1 routes on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/speakers", a.handleEnroll)
	mux.HandleFunc("GET /v1/speakers", a.handleListSpeakers)
	mux.HandleFunc("GET /v1/speakers/{id}", a.handleGetSpeaker)
	mux.HandleFunc("DELETE /v1/speakers/{id}", a.handleDeleteSpeaker)
	mux.HandleFunc("POST /v1/speakers/{id}/samples", a.handleAddSamples)
	mux.HandleFunc("POST /v1/speakers/{id}/verify", a.handleVerify)
	mux.HandleFunc("POST /v1/identify", a.handleIdentify)
	mux.HandleFunc("GET /v1/recognitions", a.handleRecognitions)
}

type speakerResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Samples   int    `json:"samples"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type recognitionResponse struct {
	SessionID string  `json:"session_id,omitempty"`
	SpeakerID string  `json:"speaker_id"`
	Score     float64 `json:"score"`
	Matched   bool    `json:"matched"`
	Kind      string  `json:"kind"`
	CreatedAt string  `json:"created_at"`
}

func (a *API) handleEnroll(w http.ResponseWriter, r *http.Request) {
	name, clips, err := a.readEnrollment(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	sp, err := a.recognizer.Enroll(r.Context(), name, clips)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toSpeakerResponse(sp))
}

func (a *API) handleListSpeakers(w http.ResponseWriter, r *http.Request) {
	speakers, err := a.recognizer.List(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]speakerResponse, 0, len(speakers))
	for _, sp := range speakers {
		out = append(out, toSpeakerResponse(sp))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"speakers": out})
}

func (a *API) handleGetSpeaker(w http.ResponseWriter, r *http.Request) {
	sp, err := a.recognizer.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toSpeakerResponse(sp))
}

func (a *API) handleDeleteSpeaker(w http.ResponseWriter, r *http.Request) {
	if err := a.recognizer.Remove(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddSamples(w http.ResponseWriter, r *http.Request) {
	clips, err := a.readAudio(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	sp, err := a.recognizer.AddSamples(r.Context(), r.PathValue("id"), clips)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toSpeakerResponse(sp))
}

func (a *API) handleIdentify(w http.ResponseWriter, r *http.Request) {
	clips, err := a.readAudio(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	result, err := a.recognizer.Identify(r.Context(), clips[0], r.URL.Query().Get("session_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	clips, err := a.readAudio(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	result, err := a.recognizer.Verify(r.Context(), r.PathValue("id"), clips[0])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRecognitions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			a.writeError(w, badRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	recs, err := a.recognizer.Recent(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]recognitionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recognitionResponse{
			SessionID: rec.SessionID,
			SpeakerID: rec.SpeakerID,
			Score:     rec.Score,
			Matched:   rec.Matched,
			Kind:      rec.Kind,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"recognitions": out})
}

// readEnrollment accepts multipart/form-data with a name field and one or
// more sample files, or a raw audio body with ?name=.
func (a *API) readEnrollment(r *http.Request) (string, []audio.Clip, error) {
	mediaType := requestMediaType(r)
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(a.cfg.MaxBodyBytes); err != nil {
			return "", nil, badRequest("invalid multipart payload")
		}
		name := r.FormValue("name")
		var clips []audio.Clip
		for _, files := range r.MultipartForm.File {
			for _, header := range files {
				f, err := header.Open()
				if err != nil {
					return "", nil, badRequest("unreadable sample file")
				}
				data, err := io.ReadAll(io.LimitReader(f, a.cfg.MaxBodyBytes))
				f.Close()
				if err != nil {
					return "", nil, badRequest("unreadable sample file")
				}
				clip, err := a.decodePayload(data, r)
				if err != nil {
					return "", nil, err
				}
				clips = append(clips, clip)
			}
		}
		if len(clips) == 0 {
			return "", nil, badRequest("at least one sample file is required")
		}
		return name, clips, nil
	}

	clips, err := a.readAudio(r)
	if err != nil {
		return "", nil, err
	}
	return r.URL.Query().Get("name"), clips, nil
}

// readAudio decodes a single-clip audio body: WAV, or raw PCM16 with an
// X-Sample-Rate header.
func (a *API) readAudio(r *http.Request) ([]audio.Clip, error) {
	body := http.MaxBytesReader(nil, r.Body, a.cfg.MaxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apiError{status: http.StatusRequestEntityTooLarge, message: "audio payload too large"}
		}
		return nil, badRequest("unreadable request body")
	}
	clip, err := a.decodePayload(data, r)
	if err != nil {
		return nil, err
	}
	return []audio.Clip{clip}, nil
}

func (a *API) decodePayload(data []byte, r *http.Request) (audio.Clip, error) {
	if len(data) == 0 {
		return audio.Clip{}, badRequest("audio payload is empty")
	}
	if audio.IsWAV(data) {
		clip, err := audio.DecodeWAV(data)
		if err != nil {
			return audio.Clip{}, badRequest(fmt.Sprintf("invalid wav payload: %v", err))
		}
		return clip, nil
	}

	switch requestMediaType(r) {
	case "audio/wav", "audio/x-wav":
		return audio.Clip{}, badRequest("payload does not carry a wav header")
	case "", "application/octet-stream", "audio/l16", "audio/pcm", "multipart/form-data":
		rate, err := strconv.Atoi(headerOrDefault(r, "X-Sample-Rate", "16000"))
		if err != nil || rate <= 0 {
			return audio.Clip{}, badRequest("X-Sample-Rate must be a positive integer")
		}
		channels, err := strconv.Atoi(headerOrDefault(r, "X-Channels", "1"))
		if err != nil || channels <= 0 {
			return audio.Clip{}, badRequest("X-Channels must be a positive integer")
		}
		clip, err := audio.DecodePCM16(data, rate, channels)
		if err != nil {
			return audio.Clip{}, badRequest(fmt.Sprintf("invalid pcm payload: %v", err))
		}
		return clip, nil
	default:
		return audio.Clip{}, apiError{
			status:  http.StatusUnsupportedMediaType,
			message: fmt.Sprintf("unsupported content type %q", requestMediaType(r)),
		}
	}
}

func requestMediaType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ct
	}
	return mediaType
}

func headerOrDefault(r *http.Request, key, fallback string) string {
	if v := r.Header.Get(key); v != "" {
		return v
	}
	return fallback
}

type apiError struct {
	status  int
	message string
}

func (e apiError) Error() string { return e.message }

func badRequest(message string) apiError {
	return apiError{status: http.StatusBadRequest, message: message}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var apiErr apiError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.status
		message = apiErr.message
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
		message = "speaker not found"
	case errors.Is(err, recognizer.ErrNoProfiles):
		status = http.StatusConflict
		message = "no speaker profiles enrolled"
	case errors.Is(err, recognizer.ErrEmptyName),
		errors.Is(err, recognizer.ErrNoSamples),
		errors.Is(err, recognizer.ErrAudioTooLong),
		errors.Is(err, embedding.ErrAudioTooShort):
		status = http.StatusBadRequest
		message = err.Error()
	default:
		a.log.Error("request failed", slog.String("error", err.Error()))
	}
	a.writeJSON(w, status, map[string]string{"error": message})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.log.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func toSpeakerResponse(sp store.Speaker) speakerResponse {
	return speakerResponse{
		ID:        sp.ID,
		Name:      sp.Name,
		Samples:   sp.Samples,
		CreatedAt: sp.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: sp.UpdatedAt.Format(time.RFC3339Nano),
	}
}
