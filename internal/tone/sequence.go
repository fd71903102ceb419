package tone

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-tone/internal/waveform"
	"github.com/mattn/go-shellwords"
)

// DefaultDurationMS applies to sequence steps that omit a duration.
const DefaultDurationMS = 1000

// DemoSequence is the four-waveform tour played when no sequence is given.
const DemoSequence = "sine:440:1000:0.3 triangle:440:1000:0.3 sawtooth:440:1000:0.3 square:440:1000:0.3"

// ParseSequence splits input into steps of the form waveform:frequency[:duration_ms[:amplitude]].
// Steps without an amplitude use defaultAmplitude.
func ParseSequence(input string, defaultAmplitude float64) ([]SynthRequest, error) {
	parser := shellwords.NewParser()
	words, err := parser.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("split sequence: %w", err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty sequence", waveform.ErrInvalidArgument)
	}

	steps := make([]SynthRequest, 0, len(words))
	for i, word := range words {
		step, err := parseStep(word, defaultAmplitude)
		if err != nil {
			return nil, fmt.Errorf("step %d %q: %w", i+1, word, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseStep(word string, defaultAmplitude float64) (SynthRequest, error) {
	fields := strings.Split(strings.TrimSpace(word), ":")
	if len(fields) < 2 || len(fields) > 4 {
		return SynthRequest{}, fmt.Errorf("%w: want waveform:frequency[:duration_ms[:amplitude]]", waveform.ErrInvalidArgument)
	}
	step := SynthRequest{
		Waveform:   strings.ToLower(fields[0]),
		DurationMS: DefaultDurationMS,
		Amplitude:  defaultAmplitude,
	}
	if step.Waveform == "" {
		return SynthRequest{}, fmt.Errorf("%w: missing waveform name", waveform.ErrInvalidArgument)
	}

	freq, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return SynthRequest{}, fmt.Errorf("%w: frequency: %v", waveform.ErrInvalidArgument, err)
	}
	step.Frequency = freq

	if len(fields) > 2 && fields[2] != "" {
		ms, err := strconv.Atoi(fields[2])
		if err != nil {
			return SynthRequest{}, fmt.Errorf("%w: duration: %v", waveform.ErrInvalidArgument, err)
		}
		step.DurationMS = ms
	}
	if len(fields) > 3 && fields[3] != "" {
		amp, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return SynthRequest{}, fmt.Errorf("%w: amplitude: %v", waveform.ErrInvalidArgument, err)
		}
		step.Amplitude = amp
	}
	return step, nil
}

// ValidateSequence checks every step without rendering anything.
func (l *LocalSynth) ValidateSequence(steps []SynthRequest) error {
	for i, step := range steps {
		if _, err := l.prepare(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// RenderSequence writes the steps back to back to w. Steps are validated before any byte is written.
func (l *LocalSynth) RenderSequence(ctx context.Context, w io.Writer, steps []SynthRequest) (Result, error) {
	if err := l.ValidateSequence(steps); err != nil {
		return Result{}, err
	}

	var total Result
	for i, step := range steps {
		res, err := l.StreamTo(ctx, w, step)
		total.Samples += res.Samples
		total.Bytes += res.Bytes
		if err != nil {
			return total, fmt.Errorf("render step %d (%s): %w", i+1, step.Waveform, err)
		}
	}
	return total, nil
}
