package tone

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tone/internal/bus"
	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/history"
	"github.com/loqalabs/loqa-tone/internal/natsserver"
	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/nats-io/nats.go"
)

type harness struct {
	bus     *bus.Client
	history *history.Store
	chunks  chan protocol.AudioChunk
	done    chan protocol.ToneStatus
}

func startService(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	busCfg := config.Default().Bus
	busCfg.Port = -1
	busCfg.StoreDir = t.TempDir()
	srv, err := natsserver.Start(busCfg, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	busCfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(ctx, busCfg, "tone-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	store, err := history.Open(ctx, config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "tones.db"),
		RetentionMode: "persistent",
	}, logger)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default().Tone
	cfg.SampleRate = 8000
	local := newLocal(t, cfg.SampleRate, cfg.ChunkDurationMS, cfg.MaxDurationMS)
	metrics, err := NewMetrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	h := &harness{
		bus:     client,
		history: store,
		chunks:  make(chan protocol.AudioChunk, 16),
		done:    make(chan protocol.ToneStatus, 4),
	}
	// one subscription keeps chunks ordered ahead of the status
	if _, err := client.Subscribe("tone.*", func(m *nats.Msg) {
		switch m.Subject {
		case protocol.SubjectToneAudio:
			var c protocol.AudioChunk
			if err := json.Unmarshal(m.Data, &c); err == nil {
				h.chunks <- c
			}
		case protocol.SubjectToneDone:
			var st protocol.ToneStatus
			if err := json.Unmarshal(m.Data, &st); err == nil {
				h.done <- st
			}
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	svc := NewService(ctx, cfg, client, local, store, metrics, logger)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}
	return h
}

func waitStatus(t *testing.T, h *harness) protocol.ToneStatus {
	t.Helper()
	select {
	case st := <-h.done:
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tone.done")
	}
	return protocol.ToneStatus{}
}

func TestServiceRendersRequest(t *testing.T) {
	h := startService(t)

	if err := h.bus.PublishJSON(protocol.SubjectToneRequest, protocol.ToneRequest{
		SessionID:  "session-a",
		Waveform:   "sawtooth",
		Frequency:  440,
		DurationMS: 1000,
		Target:     "speaker-1",
	}); err != nil {
		t.Fatal(err)
	}

	st := waitStatus(t, h)
	if !st.Completed || st.Error != "" {
		t.Fatalf("expected completed status, got %+v", st)
	}
	if st.Samples != 8000 || st.SessionID != "session-a" || st.Target != "speaker-1" {
		t.Fatalf("unexpected status %+v", st)
	}

	var total int
	var sawFinal bool
	for len(h.chunks) > 0 {
		c := <-h.chunks
		if c.SampleRate != 8000 || c.Channels != 1 {
			t.Fatalf("unexpected chunk format %+v", c)
		}
		total += len(c.PCM)
		sawFinal = sawFinal || c.Final
	}
	if total != 16000 || !sawFinal {
		t.Fatalf("expected 16000 bytes ending in a final chunk, got %d (final=%v)", total, sawFinal)
	}

	entries, err := h.history.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Source != "bus" || entries[0].Samples != 8000 {
		t.Fatalf("unexpected history %+v", entries)
	}
	if entries[0].Amplitude != 0.3 {
		t.Fatalf("expected default amplitude, got %v", entries[0].Amplitude)
	}
}

func TestServiceReportsUnknownWaveform(t *testing.T) {
	h := startService(t)

	amp := 0.5
	if err := h.bus.PublishJSON(protocol.SubjectToneRequest, protocol.ToneRequest{
		Waveform:   "kazoo",
		Frequency:  440,
		DurationMS: 100,
		Amplitude:  &amp,
	}); err != nil {
		t.Fatal(err)
	}

	st := waitStatus(t, h)
	if st.Completed || st.Error == "" {
		t.Fatalf("expected failed status, got %+v", st)
	}
	if st.SessionID == "" {
		t.Fatal("expected generated session id")
	}
}
