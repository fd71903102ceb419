package tone

import "context"

// SynthRequest contains the parameters of a single tone.
type SynthRequest struct {
	SessionID  string
	Waveform   string
	Frequency  float64
	DurationMS int
	Amplitude  float64
}

// SynthChunk contains a slice of little-endian s16 mono PCM.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Samples    int
	Final      bool
}

// Synthesizer is the contract for producing tone audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Result summarizes what was written to a sink.
type Result struct {
	Samples int
	Bytes   int64
}
