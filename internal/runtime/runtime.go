package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tone/internal/bus"
	"github.com/loqalabs/loqa-tone/internal/capability"
	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/history"
	"github.com/loqalabs/loqa-tone/internal/natsserver"
	"github.com/loqalabs/loqa-tone/internal/plugin"
	"github.com/loqalabs/loqa-tone/internal/tone"
	"github.com/loqalabs/loqa-tone/internal/waveform"
)

const shutdownTimeout = 10 * time.Second

// Runtime owns the daemon's components from startup to shutdown.
type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	traceOut io.Writer

	ready atomic.Bool
	addr  atomic.Value
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger, traceOut: os.Stderr}
}

// Ready reports whether every component has started.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Addr is the HTTP listen address once the runtime is ready.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

// NewEngine builds the synthesis engine described by the tone section.
func NewEngine(cfg config.ToneConfig) (*waveform.Synth, error) {
	rounding, err := waveform.ParseRounding(cfg.Rounding)
	if err != nil {
		return nil, err
	}
	overflow, err := waveform.ParseOverflow(cfg.Quantization)
	if err != nil {
		return nil, err
	}
	return waveform.New(cfg.SampleRate, waveform.WithQuantizer(waveform.Quantizer{Rounding: rounding, Overflow: overflow}))
}

// Start runs until ctx is cancelled, then shuts every component down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	tel, err := setupTelemetry(ctx, r.cfg, r.traceOut, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	})

	engine, err := NewEngine(r.cfg.Tone)
	if err != nil {
		return fmt.Errorf("create tone engine: %w", err)
	}
	registry := waveform.NewRegistry()

	if r.cfg.Plugins.Enabled {
		rt, err := plugin.New(ctx, r.logger)
		if err != nil {
			return fmt.Errorf("create plugin runtime: %w", err)
		}
		closers = append(closers, func() { _ = rt.Close(context.Background()) })
		loaded, err := plugin.Discover(ctx, rt, r.cfg.Plugins.Directory, registry)
		if err != nil {
			r.logger.Warn("some waveform plugins failed to load", slog.String("error", err.Error()))
		}
		r.logger.Info("waveform plugins discovered", slog.Int("count", len(loaded)))
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger.With(slog.String("component", "history")))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	closers = append(closers, func() { _ = store.Close() })

	synth, err := tone.NewLocalSynth(engine, registry, r.cfg.Tone.ChunkDurationMS, r.cfg.Tone.MaxDurationMS)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}
	metrics, err := tone.NewMetrics()
	if err != nil {
		r.logger.Warn("failed to initialize tone metrics", slog.String("error", err.Error()))
	}

	var (
		service *tone.Service
		nodes   *capability.Registry
	)
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		closers = append(closers, srv.Shutdown)
		if srv != nil {
			busCfg.Servers = []string{srv.ClientURL()}
		}

		client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
		if err != nil {
			return err
		}
		closers = append(closers, client.Close)

		service = tone.NewService(ctx, r.cfg.Tone, client, synth, store, metrics, r.logger)
		if err := service.Start(); err != nil {
			return fmt.Errorf("start tone service: %w", err)
		}
		closers = append(closers, service.Close)

		caps := []capability.Capability{capability.ToneCapability(engine.SampleRate(), registry.Names())}
		nodes, err = capability.NewRegistry(ctx, r.cfg.Node, client, caps, r.logger)
		if err != nil {
			return fmt.Errorf("start capability registry: %w", err)
		}
		closers = append(closers, nodes.Close)
	}

	handler := newRouter(&api{
		synth:            synth,
		history:          store,
		metrics:          metrics,
		nodes:            nodes,
		defaultAmplitude: r.cfg.Tone.DefaultAmplitude,
		maxBodyBytes:     int64(r.cfg.HTTP.MaxBodyKB) * 1024,
		ready: func() bool {
			return r.ready.Load() && (service == nil || service.Healthy())
		},
		logger: r.logger.With(slog.String("component", "http")),
	}, tel.metrics, r.cfg.HTTP.CORSOrigins)

	ln, err := net.Listen("tcp", net.JoinHostPort(r.cfg.HTTP.Bind, fmt.Sprint(r.cfg.HTTP.Port)))
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.addr.Store(ln.Addr().String())
	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", ln.Addr().String()),
		slog.Int("sample_rate", engine.SampleRate()),
		slog.String("quantizer", fmt.Sprintf("%s/%s", engine.Quantizer().Rounding, engine.Quantizer().Overflow)),
		slog.Any("waveforms", registry.Names()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}
