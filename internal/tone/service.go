package tone

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tone/internal/bus"
	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/history"
	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const requestTimeout = 45 * time.Second

// Service answers tone.request messages on the bus.
type Service struct {
	cfg     config.ToneConfig
	bus     *bus.Client
	synth   Synthesizer
	history *history.Store
	metrics *Metrics
	tracer  trace.Tracer
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.ToneConfig, busClient *bus.Client, synth Synthesizer, store *history.Store, metrics *Metrics, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		synth:   synth,
		history: store,
		metrics: metrics,
		tracer:  otel.Tracer(instrumentationName),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tone-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Subscribe(protocol.SubjectToneRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("tone service listening", slog.String("subject", protocol.SubjectToneRequest))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.ToneRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tone request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	amplitude := s.cfg.DefaultAmplitude
	if req.Amplitude != nil {
		amplitude = *req.Amplitude
	}
	synthReq := SynthRequest{
		SessionID:  req.SessionID,
		Waveform:   req.Waveform,
		Frequency:  req.Frequency,
		DurationMS: req.DurationMS,
		Amplitude:  amplitude,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.render(req, synthReq)
	}()
}

func (s *Service) render(req protocol.ToneRequest, synthReq SynthRequest) {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "tone.render", trace.WithAttributes(
		attribute.String("tone.session_id", req.SessionID),
		attribute.String("tone.waveform", synthReq.Waveform),
		attribute.Float64("tone.frequency", synthReq.Frequency),
		attribute.Int("tone.duration_ms", synthReq.DurationMS),
	))
	defer span.End()

	started := time.Now()
	samples, bytes, err := s.consume(ctx, req, synthReq)
	elapsed := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("tone synthesis failed",
			slog.String("session_id", req.SessionID),
			slog.String("waveform", synthReq.Waveform),
			slogError(err))
	}
	span.SetAttributes(attribute.Int("tone.samples", samples))

	s.metrics.Observe(ctx, "bus", synthReq.Waveform, samples, elapsed, err)

	entry := history.Entry{
		SessionID:  req.SessionID,
		Source:     "bus",
		Waveform:   synthReq.Waveform,
		Frequency:  synthReq.Frequency,
		DurationMS: synthReq.DurationMS,
		Amplitude:  synthReq.Amplitude,
		Samples:    samples,
		Bytes:      bytes,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if herr := s.history.Record(context.WithoutCancel(ctx), entry); herr != nil {
		s.logger.Warn("failed to record tone history", slogError(herr))
	}
	s.publishStatus(req, samples, err)
}

func (s *Service) consume(ctx context.Context, req protocol.ToneRequest, synthReq SynthRequest) (int, int64, error) {
	chunks, errs := s.synth.Synthesize(ctx, synthReq)
	var (
		samples  int
		bytes    int64
		finalErr error
		final    bool
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := s.publishChunk(req, chunk); err != nil {
				s.logger.Warn("failed to publish tone chunk", slogError(err))
			}
			samples += chunk.Samples
			bytes += int64(len(chunk.PCM))
			final = final || chunk.Final
		case err, ok := <-errs:
			if ok && err != nil {
				finalErr = err
			}
			errs = nil
		case <-ctx.Done():
			return samples, bytes, ctx.Err()
		}
	}
	if finalErr == nil && !final {
		finalErr = errors.New("synthesizer ended without a final chunk")
	}
	return samples, bytes, finalErr
}

func (s *Service) publishChunk(req protocol.ToneRequest, chunk SynthChunk) error {
	return s.bus.PublishJSON(protocol.SubjectToneAudio, protocol.AudioChunk{
		SessionID:  req.SessionID,
		Target:     req.Target,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	})
}

func (s *Service) publishStatus(req protocol.ToneRequest, samples int, err error) {
	status := protocol.ToneStatus{
		SessionID: req.SessionID,
		Target:    req.Target,
		Completed: err == nil,
		Samples:   samples,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	if perr := s.bus.PublishJSON(protocol.SubjectToneDone, status); perr != nil {
		s.logger.Warn("failed to publish tone status", slogError(perr))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
