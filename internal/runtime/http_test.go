package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/history"
	"github.com/loqalabs/loqa-tone/internal/pcm"
	"github.com/loqalabs/loqa-tone/internal/tone"
	"github.com/loqalabs/loqa-tone/internal/waveform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *history.Store) {
	t.Helper()
	return newTestServerWith(t, waveform.NewRegistry())
}

func newTestServerWith(t *testing.T, registry *waveform.Registry) (*httptest.Server, *history.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default().Tone
	cfg.SampleRate = 8000
	cfg.MaxDurationMS = 5000
	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	synth, err := tone.NewLocalSynth(engine, registry, cfg.ChunkDurationMS, cfg.MaxDurationMS)
	require.NoError(t, err)

	store, err := history.Open(context.Background(), config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "tones.db"),
		RetentionMode: "persistent",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	handler := newRouter(&api{
		synth:            synth,
		history:          store,
		defaultAmplitude: cfg.DefaultAmplitude,
		maxBodyBytes:     1024,
		logger:           logger,
	}, http.NotFoundHandler(), []string{"*"})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, store
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, _ = get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListWaveforms(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/v1/waveforms")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got waveformsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 8000, got.SampleRate)
	assert.Equal(t, []string{"sawtooth", "sine", "square", "triangle"}, got.Waveforms)
}

func TestStreamTone(t *testing.T) {
	srv, store := newTestServer(t)
	resp, body := get(t, srv.URL+"/v1/tones/sine?frequency=440&duration_ms=500&amplitude=0.5")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "8000", resp.Header.Get("X-Sample-Rate"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	require.Len(t, body, 4000*pcm.BytesPerSample)

	samples, err := pcm.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, int16(0), samples[0])
	var peak int16
	for _, s := range samples {
		peak = max(peak, s)
	}
	assert.InDelta(t, 16384, peak, 2)

	entries, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "http", entries[0].Source)
	assert.Equal(t, resp.Header.Get("X-Request-Id"), entries[0].SessionID)
	assert.Equal(t, 4000, entries[0].Samples)
}

func TestStreamToneErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := map[string]int{
		"/v1/tones/sine":                                 http.StatusBadRequest,
		"/v1/tones/sine?frequency=abc":                   http.StatusBadRequest,
		"/v1/tones/sine?frequency=-5":                    http.StatusBadRequest,
		"/v1/tones/sine?frequency=440&duration_ms=x":     http.StatusBadRequest,
		"/v1/tones/sine?frequency=440&duration_ms=60000": http.StatusBadRequest,
		"/v1/tones/kazoo?frequency=440":                  http.StatusNotFound,
	}
	for path, want := range cases {
		resp, body := get(t, srv.URL+path)
		assert.Equal(t, want, resp.StatusCode, path)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), path)
		assert.Empty(t, resp.Header.Get("X-Sample-Rate"), path)
		assert.Contains(t, string(body), "error", path)
	}
}

type failingSource struct{}

func (failingSource) NewGenerator() (waveform.Generator, func() error) {
	return func(float64) float64 { return 0 }, func() error { return errors.New("unreachable executed") }
}

func TestStreamToneGeneratorFailure(t *testing.T) {
	reg := waveform.NewRegistry()
	require.NoError(t, reg.RegisterSource("broken", failingSource{}))
	srv, store := newTestServerWith(t, reg)

	resp, body := get(t, srv.URL+"/v1/tones/broken?frequency=440&duration_ms=100")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "unreachable executed")

	entries, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Error, "unreachable executed")
	assert.Zero(t, entries[0].Samples)
}

func TestRequestIDPropagated(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	const id = "5f0c6a4e-8f7e-4f7e-9d53-0d8c1b7a9e11"
	req.Header.Set("X-Request-Id", id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get("X-Request-Id"))
}

func TestRenderSequence(t *testing.T) {
	srv, store := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/sequences", "text/plain", strings.NewReader("sine:440:250 square:220:250:0.1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body, 4000*pcm.BytesPerSample)

	entries, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "http-sequence", entries[0].Source)
	assert.Equal(t, 500, entries[0].DurationMS)
}

func TestRenderSequenceErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := map[string]int{
		"":                         http.StatusBadRequest,
		"sine:440 organ:220":       http.StatusNotFound,
		"sine":                     http.StatusBadRequest,
		strings.Repeat("x", 2048): http.StatusRequestEntityTooLarge,
	}
	for input, want := range cases {
		resp, err := http.Post(srv.URL+"/v1/sequences", "text/plain", strings.NewReader(input))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, "input %.20q", input)
	}
}

func TestHistoryAndNodes(t *testing.T) {
	srv, _ := newTestServer(t)
	get(t, srv.URL+"/v1/tones/triangle?frequency=100&duration_ms=10")

	resp, body := get(t, srv.URL+"/v1/history?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []historyEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "triangle", entries[0].Waveform)
	assert.Equal(t, 80, entries[0].Samples)

	resp, _ = get(t, srv.URL+"/v1/history?limit=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = get(t, srv.URL+"/v1/nodes")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}
