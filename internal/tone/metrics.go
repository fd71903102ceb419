package tone

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-tone/tone"

// Metrics records render counts, sample totals and latency.
type Metrics struct {
	requests metric.Int64Counter
	samples  metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("loqa.tone.requests", metric.WithDescription("Rendered tone requests"))
	if err != nil {
		return nil, err
	}
	samples, err := meter.Int64Counter("loqa.tone.samples", metric.WithDescription("Samples produced"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("loqa.tone.render.duration",
		metric.WithDescription("Time spent rendering a tone"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, samples: samples, latency: latency}, nil
}

// Observe is safe on a nil receiver.
func (m *Metrics) Observe(ctx context.Context, source, waveformName string, samples int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("waveform", waveformName),
		attribute.String("outcome", outcome),
	)
	m.requests.Add(ctx, 1, attrs)
	m.samples.Add(ctx, int64(samples), attrs)
	m.latency.Record(ctx, elapsed.Seconds(), attrs)
}
