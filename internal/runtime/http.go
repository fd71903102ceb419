package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/loqalabs/loqa-tone/internal/capability"
	"github.com/loqalabs/loqa-tone/internal/history"
	"github.com/loqalabs/loqa-tone/internal/pcm"
	"github.com/loqalabs/loqa-tone/internal/tone"
	"github.com/loqalabs/loqa-tone/internal/waveform"
)

// api holds the handler dependencies. nodes and metrics may be nil.
type api struct {
	synth            *tone.LocalSynth
	history          *history.Store
	metrics          *tone.Metrics
	nodes            *capability.Registry
	defaultAmplitude float64
	maxBodyBytes     int64
	ready            func() bool
	logger           *slog.Logger
}

func newRouter(a *api, metrics http.Handler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(a.logger))
	r.Use(chimw.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", headerRequestID},
			ExposedHeaders: []string{headerRequestID, "X-Sample-Rate", "X-Channels", "X-Sample-Format"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/waveforms", a.handleWaveforms)
		r.Get("/tones/{waveform}", a.handleTone)
		r.Post("/sequences", a.handleSequence)
		r.Get("/history", a.handleHistory)
		r.Get("/nodes", a.handleNodes)
	})
	return r
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.ready == nil || a.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type waveformsResponse struct {
	SampleRate int      `json:"sample_rate"`
	Channels   int      `json:"channels"`
	Format     string   `json:"format"`
	Waveforms  []string `json:"waveforms"`
}

func (a *api) handleWaveforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, waveformsResponse{
		SampleRate: a.synth.SampleRate(),
		Channels:   1,
		Format:     "s16le",
		Waveforms:  a.synth.Registry().Names(),
	})
}

func (a *api) handleTone(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := tone.SynthRequest{
		SessionID:  requestIDFrom(r.Context()),
		Waveform:   chi.URLParam(r, "waveform"),
		DurationMS: tone.DefaultDurationMS,
		Amplitude:  a.defaultAmplitude,
	}

	var err error
	if req.Frequency, err = strconv.ParseFloat(q.Get("frequency"), 64); err != nil {
		writeError(w, http.StatusBadRequest, "frequency: "+err.Error())
		return
	}
	if v := q.Get("duration_ms"); v != "" {
		if req.DurationMS, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "duration_ms: "+err.Error())
			return
		}
	}
	if v := q.Get("amplitude"); v != "" {
		if req.Amplitude, err = strconv.ParseFloat(v, 64); err != nil {
			writeError(w, http.StatusBadRequest, "amplitude: "+err.Error())
			return
		}
	}

	a.setAudioHeaders(w, a.synth.SampleCount(req.DurationMS))
	started := time.Now()
	res, err := a.synth.StreamTo(r.Context(), w, req)
	a.finish(r.Context(), w, "http", req, res, time.Since(started), err)
}

func (a *api) handleSequence(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}
	steps, err := tone.ParseSequence(string(body), a.defaultAmplitude)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	total := 0
	for _, step := range steps {
		total += a.synth.SampleCount(step.DurationMS)
	}
	a.setAudioHeaders(w, total)

	started := time.Now()
	res, err := a.synth.RenderSequence(r.Context(), w, steps)
	summary := tone.SynthRequest{
		SessionID: requestIDFrom(r.Context()),
		Waveform:  "sequence",
	}
	for _, step := range steps {
		summary.DurationMS += step.DurationMS
	}
	a.finish(r.Context(), w, "http-sequence", summary, res, time.Since(started), err)
}

func (a *api) setAudioHeaders(w http.ResponseWriter, samples int) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(samples*pcm.BytesPerSample))
	h.Set("X-Sample-Rate", strconv.Itoa(a.synth.SampleRate()))
	h.Set("X-Channels", "1")
	h.Set("X-Sample-Format", "s16le")
}

// finish reports err to the client if nothing has been streamed yet, then records metrics and history.
func (a *api) finish(ctx context.Context, w http.ResponseWriter, source string, req tone.SynthRequest, res tone.Result, elapsed time.Duration, err error) {
	if err != nil {
		if res.Bytes == 0 {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, waveform.ErrUnknownWaveform):
				status = http.StatusNotFound
			case errors.Is(err, waveform.ErrInvalidArgument):
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
		} else {
			a.logger.Warn("tone stream aborted",
				slog.String("request_id", req.SessionID),
				slog.Int64("bytes", res.Bytes),
				slog.String("error", err.Error()))
		}
	}

	a.metrics.Observe(ctx, source, req.Waveform, res.Samples, elapsed, err)
	entry := history.Entry{
		SessionID:  req.SessionID,
		Source:     source,
		Waveform:   req.Waveform,
		Frequency:  req.Frequency,
		DurationMS: req.DurationMS,
		Amplitude:  req.Amplitude,
		Samples:    res.Samples,
		Bytes:      res.Bytes,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if herr := a.history.Record(context.WithoutCancel(ctx), entry); herr != nil {
		a.logger.Warn("failed to record tone history", slog.String("error", herr.Error()))
	}
}

type historyEntry struct {
	SessionID  string    `json:"session_id"`
	Source     string    `json:"source"`
	Waveform   string    `json:"waveform"`
	Frequency  float64   `json:"frequency"`
	DurationMS int       `json:"duration_ms"`
	Amplitude  float64   `json:"amplitude"`
	Samples    int       `json:"samples"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := a.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			SessionID:  e.SessionID,
			Source:     e.Source,
			Waveform:   e.Waveform,
			Frequency:  e.Frequency,
			DurationMS: e.DurationMS,
			Amplitude:  e.Amplitude,
			Samples:    e.Samples,
			Bytes:      e.Bytes,
			Error:      e.Error,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleNodes(w http.ResponseWriter, r *http.Request) {
	if a.nodes == nil {
		writeJSON(w, http.StatusOK, []capability.NodeInfo{})
		return
	}
	filter := capability.HealthyOnly
	if r.URL.Query().Get("all") == "true" {
		filter = nil
	}
	nodes := a.nodes.Query(filter)
	if nodes == nil {
		nodes = []capability.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	h := w.Header()
	h.Del("Content-Length")
	h.Del("X-Sample-Rate")
	h.Del("X-Channels")
	h.Del("X-Sample-Format")
	writeJSON(w, status, map[string]string{"error": msg})
}
