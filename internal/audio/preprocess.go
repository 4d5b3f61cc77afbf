package audio

import "math"

const (
	trimWindowMS  = 30
	trimThreshold = 0.005 // RMS floor below which a window counts as silence
)

// Preprocess prepares a clip for embedding: resample to the target rate,
// peak normalize, and trim silent edges. Returns an empty clip when nothing
// but silence remains.
func Preprocess(clip Clip, targetRate int) Clip {
	if len(clip.Samples) == 0 || clip.SampleRate <= 0 {
		return Clip{SampleRate: targetRate}
	}
	out := clip
	if targetRate > 0 && clip.SampleRate != targetRate {
		out = resample(out, targetRate)
	}
	out.Samples = normalizePeak(out.Samples)
	out.Samples = trimSilence(out.Samples, out.SampleRate)
	return out
}

func resample(clip Clip, targetRate int) Clip {
	ratio := float64(clip.SampleRate) / float64(targetRate)
	n := int(float64(len(clip.Samples)) / ratio)
	if n == 0 {
		return Clip{SampleRate: targetRate}
	}
	resampled := make([]float64, n)
	for i := range resampled {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(clip.Samples)-1 {
			resampled[i] = clip.Samples[len(clip.Samples)-1]
			continue
		}
		frac := pos - float64(idx)
		resampled[i] = clip.Samples[idx]*(1-frac) + clip.Samples[idx+1]*frac
	}
	return Clip{Samples: resampled, SampleRate: targetRate}
}

func normalizePeak(samples []float64) []float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}
	out := make([]float64, len(samples))
	scale := 1 / peak
	for i, s := range samples {
		out[i] = s * scale
	}
	return out
}

func trimSilence(samples []float64, sampleRate int) []float64 {
	window := sampleRate * trimWindowMS / 1000
	if window <= 0 || len(samples) < window {
		return samples
	}

	firstVoiced, lastVoiced := -1, -1
	for start := 0; start+window <= len(samples); start += window {
		if windowRMS(samples[start:start+window]) >= trimThreshold {
			if firstVoiced < 0 {
				firstVoiced = start
			}
			lastVoiced = start + window
		}
	}
	if firstVoiced < 0 {
		return nil
	}
	return samples[firstVoiced:lastVoiced]
}

func windowRMS(window []float64) float64 {
	var sum float64
	for _, s := range window {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(window)))
}
