package protocol

import "time"

// ToneRequest asks a tone node to render a single waveform.
type ToneRequest struct {
	SessionID  string   `json:"session_id"`
	Waveform   string   `json:"waveform"`
	Frequency  float64  `json:"frequency"`
	DurationMS int      `json:"duration_ms"`
	Amplitude  *float64 `json:"amplitude,omitempty"`
	Target     string   `json:"target,omitempty"`
	TraceID    string   `json:"trace_id,omitempty"`
}

// AudioChunk carries little-endian signed 16-bit mono PCM.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// ToneStatus is published once per request after the last chunk or on failure.
type ToneStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Samples   int       `json:"samples"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectToneRequest = "tone.request"
	SubjectToneAudio   = "tone.audio"
	SubjectToneDone    = "tone.done"
)
