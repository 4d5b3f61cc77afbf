package identify

import "github.com/voicekit-labs/speakerd/internal/audio"

const defaultFrameRate = 16000

func decodeFrame(pcm []byte, sampleRate, channels int) (audio.Clip, error) {
	if sampleRate <= 0 {
		sampleRate = defaultFrameRate
	}
	if channels <= 0 {
		channels = 1
	}
	return audio.DecodePCM16(pcm, sampleRate, channels)
}
