package tone

import (
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/loqalabs/loqa-tone/internal/pcm"
	"github.com/loqalabs/loqa-tone/internal/waveform"
)

// cancelCheckInterval is how many samples StreamTo writes between context checks.
const cancelCheckInterval = 1024

// LocalSynth renders tones in-process from a waveform registry.
type LocalSynth struct {
	engine        *waveform.Synth
	registry      *waveform.Registry
	chunkSamples  int
	maxDurationMS int
}

// NewLocalSynth builds a synthesizer that cuts output into chunks of chunkDurationMS.
// A maxDurationMS of zero disables the duration cap.
func NewLocalSynth(engine *waveform.Synth, registry *waveform.Registry, chunkDurationMS, maxDurationMS int) (*LocalSynth, error) {
	if engine == nil || registry == nil {
		return nil, fmt.Errorf("%w: engine and registry are required", waveform.ErrInvalidArgument)
	}
	if chunkDurationMS <= 0 {
		return nil, fmt.Errorf("%w: chunk duration must be positive, got %dms", waveform.ErrInvalidArgument, chunkDurationMS)
	}
	chunk := engine.SampleCount(chunkDurationMS)
	if chunk < 1 {
		chunk = 1
	}
	return &LocalSynth{
		engine:        engine,
		registry:      registry,
		chunkSamples:  chunk,
		maxDurationMS: maxDurationMS,
	}, nil
}

func (l *LocalSynth) SampleRate() int { return l.engine.SampleRate() }

func (l *LocalSynth) Registry() *waveform.Registry { return l.registry }

// SampleCount is the number of samples a tone of durationMS renders to.
func (l *LocalSynth) SampleCount(durationMS int) int { return l.engine.SampleCount(durationMS) }

// prepared is one tone ready to render: its samples, their count, and a check that
// reports a generator failure seen so far.
type prepared struct {
	seq    iter.Seq[int16]
	total  int
	failed func() error
}

func (r prepared) err(name string) error {
	if err := r.failed(); err != nil {
		return fmt.Errorf("%w: %s: %w", waveform.ErrGeneratorFailed, name, err)
	}
	return nil
}

func (l *LocalSynth) prepare(req SynthRequest) (prepared, error) {
	if l.maxDurationMS > 0 && req.DurationMS > l.maxDurationMS {
		return prepared{}, fmt.Errorf("%w: duration %dms exceeds limit of %dms", waveform.ErrInvalidArgument, req.DurationMS, l.maxDurationMS)
	}
	gen, failed, err := l.registry.Open(req.Waveform)
	if err != nil {
		return prepared{}, err
	}
	t := waveform.Tone{Frequency: req.Frequency, DurationMS: req.DurationMS, Amplitude: req.Amplitude}
	seq, err := l.engine.Samples(gen, t)
	if err != nil {
		return prepared{}, err
	}
	return prepared{seq: seq, total: l.engine.SampleCount(req.DurationMS), failed: failed}, nil
}

// Synthesize renders req and emits it as a series of chunks, the last one marked Final.
// A zero-length tone yields a single empty Final chunk.
func (l *LocalSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		rd, err := l.prepare(req)
		if err != nil {
			errs <- err
			return
		}
		total := rd.total

		chunkBytes := l.chunkSamples * pcm.BytesPerSample
		buf := make([]byte, 0, min(total, l.chunkSamples)*pcm.BytesPerSample)
		sequence := 0
		send := func(final bool) bool {
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: l.engine.SampleRate(),
				Channels:   1,
				PCM:        buf,
				Samples:    len(buf) / pcm.BytesPerSample,
				Final:      final,
			}
			select {
			case chunks <- chunk:
				sequence++
				return true
			case <-ctx.Done():
				errs <- ctx.Err()
				return false
			}
		}

		emitted := 0
		for s := range rd.seq {
			if err := rd.err(req.Waveform); err != nil {
				errs <- err
				return
			}
			buf = pcm.Append(buf, s)
			emitted++
			if len(buf) == chunkBytes && emitted < total {
				if !send(false) {
					return
				}
				buf = make([]byte, 0, chunkBytes)
			}
		}
		send(true)
	}()
	return chunks, errs
}

// StreamTo writes req as raw PCM to w. On failure the result reports the prefix the sink accepted.
func (l *LocalSynth) StreamTo(ctx context.Context, w io.Writer, req SynthRequest) (Result, error) {
	rd, err := l.prepare(req)
	if err != nil {
		return Result{}, err
	}

	var stopErr error
	guarded := func(yield func(int16) bool) {
		i := 0
		for s := range rd.seq {
			if stopErr = rd.err(req.Waveform); stopErr != nil {
				return
			}
			if i%cancelCheckInterval == 0 {
				if stopErr = ctx.Err(); stopErr != nil {
					return
				}
			}
			i++
			if !yield(s) {
				return
			}
		}
	}

	written, err := pcm.Stream(w, guarded)
	res := Result{Samples: int(written / pcm.BytesPerSample), Bytes: written}
	if err != nil {
		return res, err
	}
	return res, stopErr
}
