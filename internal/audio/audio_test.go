package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sinePCM16(freq float64, sampleRate int, seconds float64, amplitude float64) []byte {
	n := int(float64(sampleRate) * seconds)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

func TestDecodePCM16(t *testing.T) {
	pcm := sinePCM16(440, 16000, 0.5, 0.8)
	clip, err := DecodePCM16(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", clip.SampleRate)
	}
	if len(clip.Samples) != 8000 {
		t.Fatalf("expected 8000 samples, got %d", len(clip.Samples))
	}
	for _, s := range clip.Samples {
		if s < -1 || s > 1 {
			t.Fatalf("sample out of range: %v", s)
		}
	}
}

func TestDecodePCM16Rejects(t *testing.T) {
	if _, err := DecodePCM16(nil, 16000, 1); err != ErrEmptyAudio {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
	if _, err := DecodePCM16([]byte{1, 2, 3}, 16000, 1); err != ErrUnalignedPCM {
		t.Fatalf("expected ErrUnalignedPCM, got %v", err)
	}
	if _, err := DecodePCM16([]byte{1, 2}, 0, 1); err != ErrBadSampleRate {
		t.Fatalf("expected ErrBadSampleRate, got %v", err)
	}
}

func TestDecodePCM16Stereo(t *testing.T) {
	// Two interleaved channels with opposite signs should mix to silence.
	pcm := make([]byte, 400)
	left, right := int16(1000), int16(-1000)
	for i := 0; i < 100; i++ {
		binary.LittleEndian.PutUint16(pcm[i*4:], uint16(left))
		binary.LittleEndian.PutUint16(pcm[i*4+2:], uint16(right))
	}
	clip, err := DecodePCM16(pcm, 16000, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clip.Samples) != 100 {
		t.Fatalf("expected 100 frames, got %d", len(clip.Samples))
	}
	for _, s := range clip.Samples {
		if math.Abs(s) > 0.001 {
			t.Fatalf("expected downmix near zero, got %v", s)
		}
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := sinePCM16(220, 16000, 0.25, 0.5)
	clip, err := DecodePCM16(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("decode pcm: %v", err)
	}

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := EncodeWAV(f, clip); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if !IsWAV(data) {
		t.Fatal("expected RIFF/WAVE header")
	}
	decoded, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if decoded.SampleRate != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", decoded.SampleRate)
	}
	if len(decoded.Samples) != len(clip.Samples) {
		t.Fatalf("expected %d samples, got %d", len(clip.Samples), len(decoded.Samples))
	}
	for i := range decoded.Samples {
		if math.Abs(decoded.Samples[i]-clip.Samples[i]) > 0.001 {
			t.Fatalf("sample %d drifted: %v vs %v", i, decoded.Samples[i], clip.Samples[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV(nil); err != ErrEmptyAudio {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
	if _, err := DecodeWAV([]byte("definitely not a wav file")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestPreprocessResamples(t *testing.T) {
	pcm := sinePCM16(440, 48000, 0.5, 0.8)
	clip, err := DecodePCM16(pcm, 48000, 1)
	if err != nil {
		t.Fatalf("decode pcm: %v", err)
	}
	out := Preprocess(clip, 16000)
	if out.SampleRate != 16000 {
		t.Fatalf("expected 16000 after resample, got %d", out.SampleRate)
	}
	// A continuous tone should not be trimmed away.
	if len(out.Samples) < 7000 {
		t.Fatalf("expected roughly 8000 samples, got %d", len(out.Samples))
	}
}

func TestPreprocessTrimsSilence(t *testing.T) {
	rate := 16000
	silence := make([]float64, rate/2)
	tone := make([]float64, rate/2)
	for i := range tone {
		tone[i] = 0.8 * math.Sin(2*math.Pi*300*float64(i)/float64(rate))
	}
	samples := append(append(append([]float64{}, silence...), tone...), silence...)
	out := Preprocess(Clip{Samples: samples, SampleRate: rate}, rate)
	if len(out.Samples) >= len(samples) {
		t.Fatalf("expected trimmed clip, got %d of %d samples", len(out.Samples), len(samples))
	}
	if len(out.Samples) < len(tone)/2 {
		t.Fatalf("trimmed too aggressively: %d samples left", len(out.Samples))
	}
}

func TestPreprocessAllSilence(t *testing.T) {
	out := Preprocess(Clip{Samples: make([]float64, 16000), SampleRate: 16000}, 16000)
	if len(out.Samples) != 0 {
		t.Fatalf("expected empty clip for silence, got %d samples", len(out.Samples))
	}
}
