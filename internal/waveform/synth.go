// Package waveform synthesizes fixed-duration tones as 16-bit mono samples.
//
// A Synth fixes the sample rate and quantization policy. Each call to Samples
// or Render walks the tone sample by sample: the index is folded into one
// cycle of the requested frequency, the generator maps that phase to an
// amplitude in [-1, 1], and the quantizer scales it to an int16.
package waveform

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

// ErrInvalidArgument marks parameters rejected before any sample is produced.
var ErrInvalidArgument = errors.New("invalid argument")

// FullScale is the magnitude of the most negative 16-bit sample. Amplitudes
// are expressed as a fraction of it, so an amplitude of 1.0 overflows on
// positive peaks.
const FullScale = 1 << 15

// Tone describes one synthesis request.
type Tone struct {
	Frequency  float64 // Hz, must be positive
	DurationMS int     // milliseconds, zero yields no samples
	Amplitude  float64 // fraction of FullScale, not range-checked
}

func (t Tone) validate() error {
	if math.IsNaN(t.Frequency) || math.IsInf(t.Frequency, 0) || t.Frequency <= 0 {
		return fmt.Errorf("%w: frequency must be positive, got %v", ErrInvalidArgument, t.Frequency)
	}
	if t.DurationMS < 0 {
		return fmt.Errorf("%w: duration must not be negative, got %dms", ErrInvalidArgument, t.DurationMS)
	}
	return nil
}

// Synth holds the sample rate and quantization policy shared by a series of
// tones. It is immutable and safe for concurrent use.
type Synth struct {
	sampleRate int
	quantizer  Quantizer
}

type Option func(*Synth)

// WithQuantizer overrides the default round-to-nearest, clamping quantizer.
func WithQuantizer(q Quantizer) Option {
	return func(s *Synth) { s.quantizer = q }
}

func New(sampleRate int, opts ...Option) (*Synth, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidArgument, sampleRate)
	}
	s := &Synth{sampleRate: sampleRate}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Synth) SampleRate() int { return s.sampleRate }

func (s *Synth) Quantizer() Quantizer { return s.quantizer }

// SampleCount is the number of samples in durationMS. Fractional samples are
// dropped. A duration whose count does not fit an int reports 0; Samples
// rejects it.
func (s *Synth) SampleCount(durationMS int) int {
	n, err := s.countSamples(durationMS)
	if err != nil {
		return 0
	}
	return n
}

func (s *Synth) countSamples(durationMS int) (int, error) {
	if durationMS <= 0 {
		return 0, nil
	}
	if int64(durationMS) > math.MaxInt64/int64(s.sampleRate) {
		return 0, fmt.Errorf("%w: duration %dms is too long at %d Hz", ErrInvalidArgument, durationMS, s.sampleRate)
	}
	n := int64(s.sampleRate) * int64(durationMS) / 1000
	if n > math.MaxInt {
		return 0, fmt.Errorf("%w: duration %dms is too long at %d Hz", ErrInvalidArgument, durationMS, s.sampleRate)
	}
	return int(n), nil
}

// Samples validates t and returns the lazy sample sequence for it. The
// sequence can be ranged over more than once and yields the same samples
// every time.
func (s *Synth) Samples(g Generator, t Tone) (iter.Seq[int16], error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil generator", ErrInvalidArgument)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	total, err := s.countSamples(t.DurationMS)
	if err != nil {
		return nil, err
	}
	cycleWidth := float64(s.sampleRate) / t.Frequency
	q := s.quantizer
	maxAmplitude := q.peak(t.Amplitude)

	return func(yield func(int16) bool) {
		for i := 0; i < total; i++ {
			phase := math.Mod(float64(i), cycleWidth) / cycleWidth
			if !yield(q.Quantize(g(phase) * maxAmplitude)) {
				return
			}
		}
	}, nil
}

// Render synthesizes t into memory.
func (s *Synth) Render(g Generator, t Tone) ([]int16, error) {
	seq, err := s.Samples(g, t)
	if err != nil {
		return nil, err
	}
	out := make([]int16, 0, s.SampleCount(t.DurationMS))
	for v := range seq {
		out = append(out, v)
	}
	return out, nil
}
