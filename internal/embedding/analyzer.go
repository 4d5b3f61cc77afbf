package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/voicekit-labs/speakerd/internal/audio"
)

const (
	analyzerFrameLen = 400 // 25 ms at 16 kHz
	analyzerFrameHop = 160 // 10 ms at 16 kHz
	analyzerFFTSize  = 512
	analyzerMinHz    = 60
	analyzerMaxHz    = 7600
)

// analyzerEncoder is the built-in voice profile encoder. It frames the
// clip, takes a Hamming-windowed power spectrum per frame, folds it through
// a mel filterbank, and summarizes each band's log-energy trajectory with
// mean, deviation, and delta statistics. The result is not a neural
// d-vector but is deterministic and separates voices well enough for a
// small household roster; the exec mode exists for anything stronger.
type analyzerEncoder struct {
	dim   int
	nMels int
	win   []float64
}

func NewAnalyzerEncoder(dimension int) (Encoder, error) {
	if dimension <= 0 || dimension%4 != 0 {
		return nil, fmt.Errorf("analyzer dimension must be a positive multiple of 4, got %d", dimension)
	}
	return &analyzerEncoder{
		dim:   dimension,
		nMels: dimension / 4,
		win:   window.Hamming(analyzerFrameLen),
	}, nil
}

func (e *analyzerEncoder) Dimension() int { return e.dim }

func (e *analyzerEncoder) Embed(_ context.Context, clip audio.Clip) ([]float32, error) {
	if len(clip.Samples) < analyzerFrameLen {
		return nil, ErrAudioTooShort
	}

	bank := melFilterbank(e.nMels, analyzerFFTSize, clip.SampleRate)
	nFrames := 1 + (len(clip.Samples)-analyzerFrameLen)/analyzerFrameHop

	// logMel[b] holds band b's log energy for every frame.
	logMel := make([][]float64, e.nMels)
	for b := range logMel {
		logMel[b] = make([]float64, nFrames)
	}

	frame := make([]float64, analyzerFFTSize)
	for f := 0; f < nFrames; f++ {
		start := f * analyzerFrameHop
		for i := 0; i < analyzerFrameLen; i++ {
			frame[i] = clip.Samples[start+i] * e.win[i]
		}
		for i := analyzerFrameLen; i < analyzerFFTSize; i++ {
			frame[i] = 0
		}

		spectrum := fft.FFTReal(frame)
		power := make([]float64, analyzerFFTSize/2+1)
		for i := range power {
			power[i] = real(spectrum[i])*real(spectrum[i]) + imag(spectrum[i])*imag(spectrum[i])
		}

		for b, filter := range bank {
			var energy float64
			for i, w := range filter {
				if w > 0 {
					energy += w * power[i]
				}
			}
			logMel[b][f] = math.Log(energy + 1e-10)
		}
	}

	// Per band: mean, standard deviation, mean absolute delta, delta
	// deviation. Concatenated and unit-normalized.
	out := make([]float32, 0, e.dim)
	for b := 0; b < e.nMels; b++ {
		mean, std := meanStd(logMel[b])
		deltas := make([]float64, 0, nFrames-1)
		for f := 1; f < nFrames; f++ {
			deltas = append(deltas, math.Abs(logMel[b][f]-logMel[b][f-1]))
		}
		dMean, dStd := meanStd(deltas)
		out = append(out, float32(mean), float32(std), float32(dMean), float32(dStd))
	}
	return Normalize(out), nil
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds triangular mel filters over the FFT bins.
func melFilterbank(nMels, fftSize, sampleRate int) [][]float64 {
	nBins := fftSize/2 + 1
	maxHz := float64(analyzerMaxHz)
	if nyquist := float64(sampleRate) / 2; maxHz > nyquist {
		maxHz = nyquist
	}
	loMel := hzToMel(analyzerMinHz)
	hiMel := hzToMel(maxHz)

	centers := make([]int, nMels+2)
	for i := range centers {
		mel := loMel + (hiMel-loMel)*float64(i)/float64(nMels+1)
		hz := melToHz(mel)
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		if bin >= nBins {
			bin = nBins - 1
		}
		centers[i] = bin
	}

	bank := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		filter := make([]float64, nBins)
		left, center, right := centers[m], centers[m+1], centers[m+2]
		if center == left {
			center = left + 1
		}
		if right <= center {
			right = center + 1
		}
		for bin := left; bin <= right && bin < nBins; bin++ {
			switch {
			case bin < center:
				filter[bin] = float64(bin-left) / float64(center-left)
			case bin == center:
				filter[bin] = 1
			default:
				filter[bin] = float64(right-bin) / float64(right-center)
			}
		}
		bank[m] = filter
	}
	return bank
}
