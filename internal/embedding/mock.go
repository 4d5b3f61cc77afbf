package embedding

import (
	"context"
	"math"

	"github.com/voicekit-labs/speakerd/internal/audio"
)

// mockEncoder maps a clip to a coarse amplitude histogram. Deterministic,
// cheap, and distinct enough between different test clips.
type mockEncoder struct {
	dim int
}

func NewMockEncoder(dimension int) Encoder {
	return &mockEncoder{dim: dimension}
}

func (m *mockEncoder) Dimension() int { return m.dim }

func (m *mockEncoder) Embed(_ context.Context, clip audio.Clip) ([]float32, error) {
	if len(clip.Samples) == 0 {
		return nil, ErrAudioTooShort
	}
	out := make([]float32, m.dim)
	for i, s := range clip.Samples {
		bucket := int(math.Abs(s) * float64(m.dim))
		if bucket >= m.dim {
			bucket = m.dim - 1
		}
		out[bucket] += float32(1 + float64(i%7)/7)
	}
	return Normalize(out), nil
}
