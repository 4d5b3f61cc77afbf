package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/voicekit-labs/speakerd/internal/audio"
	"github.com/voicekit-labs/speakerd/internal/config"
)

func toneClip(freq float64, rate int, seconds float64) audio.Clip {
	n := int(float64(rate) * seconds)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.7*math.Sin(2*math.Pi*freq*float64(i)/float64(rate)) +
			0.2*math.Sin(2*math.Pi*3*freq*float64(i)/float64(rate))
	}
	return audio.Clip{Samples: samples, SampleRate: rate}
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestNewSelectsMode(t *testing.T) {
	emb := config.EmbeddingsConfig{Dimension: 256}
	for _, mode := range []string{"mock", "analyzer"} {
		enc, err := New(config.RecognizerConfig{Mode: mode}, emb)
		if err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
		if enc.Dimension() != 256 {
			t.Fatalf("mode %s: expected dimension 256, got %d", mode, enc.Dimension())
		}
	}
	if _, err := New(config.RecognizerConfig{Mode: "neural"}, emb); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestAnalyzerDimensionValidation(t *testing.T) {
	if _, err := NewAnalyzerEncoder(250); err == nil {
		t.Fatal("expected error for dimension not divisible by 4")
	}
	if _, err := NewAnalyzerEncoder(0); err == nil {
		t.Fatal("expected error for zero dimension")
	}
}

func TestAnalyzerEmbedProperties(t *testing.T) {
	enc, err := NewAnalyzerEncoder(256)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	clip := toneClip(220, 16000, 1.0)
	first, err := enc.Embed(context.Background(), clip)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(first) != 256 {
		t.Fatalf("expected 256 dims, got %d", len(first))
	}
	if n := vectorNorm(first); math.Abs(n-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", n)
	}

	// Same audio embeds identically.
	second, err := enc.Embed(context.Background(), clip)
	if err != nil {
		t.Fatalf("embed again: %v", err)
	}
	if Dot(first, second) < 0.9999 {
		t.Fatalf("expected identical embeddings, similarity=%v", Dot(first, second))
	}

	// A clearly different voice profile scores lower than self-similarity.
	other, err := enc.Embed(context.Background(), toneClip(900, 16000, 1.0))
	if err != nil {
		t.Fatalf("embed other: %v", err)
	}
	if Dot(first, other) >= Dot(first, second) {
		t.Fatalf("expected different tones to be less similar: same=%v other=%v",
			Dot(first, second), Dot(first, other))
	}
}

func TestAnalyzerRejectsShortAudio(t *testing.T) {
	enc, err := NewAnalyzerEncoder(256)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	_, err = enc.Embed(context.Background(), audio.Clip{Samples: make([]float64, 100), SampleRate: 16000})
	if err != ErrAudioTooShort {
		t.Fatalf("expected ErrAudioTooShort, got %v", err)
	}
}

func TestMockEncoderDeterministic(t *testing.T) {
	enc := NewMockEncoder(64)
	clip := toneClip(440, 16000, 0.2)
	a, err := enc.Embed(context.Background(), clip)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := enc.Embed(context.Background(), clip)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if Dot(a, b) < 0.9999 {
		t.Fatalf("expected deterministic mock embedding, similarity=%v", Dot(a, b))
	}
	if n := vectorNorm(a); math.Abs(n-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", n)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := make([]float32, 8)
	out := Normalize(v)
	for _, x := range out {
		if x != 0 {
			t.Fatalf("expected zero vector unchanged, got %v", out)
		}
	}
}
