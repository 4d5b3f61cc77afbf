package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/voicekit-labs/speakerd/internal/audio"
	"github.com/voicekit-labs/speakerd/internal/config"
)

var (
	ErrAudioTooShort = errors.New("audio too short to embed")
	ErrDimension     = errors.New("embedding dimension mismatch")
)

// Encoder turns a preprocessed audio clip into a fixed-dimension voice
// embedding. Embeddings are unit-norm, so similarity between two of them
// is their dot product.
type Encoder interface {
	Embed(ctx context.Context, clip audio.Clip) ([]float32, error)
	Dimension() int
}

// New builds the encoder selected by recognizer.mode.
func New(rec config.RecognizerConfig, emb config.EmbeddingsConfig) (Encoder, error) {
	switch rec.Mode {
	case "mock":
		return NewMockEncoder(emb.Dimension), nil
	case "analyzer":
		return NewAnalyzerEncoder(emb.Dimension)
	case "exec":
		return NewExecEncoder(rec, emb.Dimension)
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", rec.Mode)
	}
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Dot returns the inner product of two vectors of equal length.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
