package identify

import (
	"encoding/binary"
	"testing"
)

func TestDecodeFrameDefaults(t *testing.T) {
	pcm := make([]byte, 640)
	for i := 0; i < 320; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(1000)))
	}

	clip, err := decodeFrame(pcm, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.SampleRate != defaultFrameRate {
		t.Fatalf("expected default sample rate %d, got %d", defaultFrameRate, clip.SampleRate)
	}
	if len(clip.Samples) != 320 {
		t.Fatalf("expected 320 samples, got %d", len(clip.Samples))
	}
}

func TestDecodeFrameStereo(t *testing.T) {
	pcm := make([]byte, 400)
	clip, err := decodeFrame(pcm, 8000, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.SampleRate != 8000 {
		t.Fatalf("expected sample rate 8000, got %d", clip.SampleRate)
	}
	if len(clip.Samples) != 100 {
		t.Fatalf("expected 100 frames, got %d", len(clip.Samples))
	}
}

func TestDecodeFrameEmpty(t *testing.T) {
	if _, err := decodeFrame(nil, 16000, 1); err == nil {
		t.Fatal("expected error for empty frame")
	}
}
