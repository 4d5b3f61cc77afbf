package protocol

import "time"

// AudioFrame represents PCM audio data streamed from edge devices.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Identity represents a speaker identification broadcast on the bus.
type Identity struct {
	SessionID string             `json:"session_id"`
	SpeakerID string             `json:"speaker_id"`
	Name      string             `json:"name"`
	Score     float64            `json:"score"`
	Matched   bool               `json:"matched"`
	Partial   bool               `json:"partial"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// SpeakerDetected is fired whenever a confident match is made, mirroring
// the identity messages but without per-speaker score detail. Consumers
// that only care about "who is talking" subscribe here.
type SpeakerDetected struct {
	SessionID string    `json:"session_id"`
	SpeakerID string    `json:"speaker_id"`
	Name      string    `json:"name"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectIdentityPartial  = "speaker.identity.partial"
	SubjectIdentityFinal    = "speaker.identity.final"
	SubjectSpeakerDetected  = "speaker.detected"
)
