package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrEmptyAudio     = errors.New("audio payload is empty")
	ErrUnalignedPCM   = errors.New("pcm payload not aligned to 16-bit samples")
	ErrInvalidWAV     = errors.New("invalid wav data")
	ErrBadSampleRate  = errors.New("sample rate must be positive")
	ErrUnsupportedWAV = errors.New("unsupported wav encoding")
)

// Clip is a mono audio clip normalized to [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into a clip,
// downmixing interleaved channels to mono.
func DecodePCM16(pcm []byte, sampleRate, channels int) (Clip, error) {
	if len(pcm) == 0 {
		return Clip{}, ErrEmptyAudio
	}
	if len(pcm)%2 != 0 {
		return Clip{}, ErrUnalignedPCM
	}
	if sampleRate <= 0 {
		return Clip{}, ErrBadSampleRate
	}
	if channels <= 0 {
		channels = 1
	}

	frames := len(pcm) / 2 / channels
	if frames == 0 {
		return Clip{}, ErrEmptyAudio
	}
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[off:]))
			sum += float64(s) / 32768.0
		}
		samples[i] = sum / float64(channels)
	}
	return Clip{Samples: samples, SampleRate: sampleRate}, nil
}

// DecodeWAV parses a PCM WAV payload into a mono clip.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, ErrEmptyAudio
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return Clip{}, ErrEmptyAudio
	}
	if dec.BitDepth != 16 {
		return Clip{}, fmt.Errorf("%w: bit depth %d", ErrUnsupportedWAV, dec.BitDepth)
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	if frames == 0 {
		return Clip{}, ErrEmptyAudio
	}
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf.Data[i*channels+ch]) / 32768.0
		}
		samples[i] = sum / float64(channels)
	}
	return Clip{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// IsWAV reports whether the payload carries a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// EncodeWAV writes the clip as a 16-bit mono PCM WAV stream.
func EncodeWAV(w io.WriteSeeker, clip Clip) error {
	if len(clip.Samples) == 0 {
		return ErrEmptyAudio
	}
	if clip.SampleRate <= 0 {
		return ErrBadSampleRate
	}
	buf := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: 1, SampleRate: clip.SampleRate}}
	buf.Data = make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}

	enc := wav.NewEncoder(w, clip.SampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
