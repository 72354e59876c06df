package store

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/promptshelf/internal/store"

// metrics records store activity on the global meter provider.
type metrics struct {
	writes    metric.Int64Counter
	chunks    metric.Int64Histogram
	bytes     metric.Int64Histogram
	malformed metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	m := &metrics{}

	var err error
	if m.writes, err = meter.Int64Counter("promptshelf.store.writes",
		metric.WithDescription("Template collection writes")); err != nil {
		log.Warn().Err(err).Msg("Failed to create writes counter")
	}
	if m.chunks, err = meter.Int64Histogram("promptshelf.store.chunks",
		metric.WithDescription("Chunks per template collection write")); err != nil {
		log.Warn().Err(err).Msg("Failed to create chunks histogram")
	}
	if m.bytes, err = meter.Int64Histogram("promptshelf.store.payload_bytes",
		metric.WithDescription("Serialized template collection size"),
		metric.WithUnit("By")); err != nil {
		log.Warn().Err(err).Msg("Failed to create payload histogram")
	}
	if m.malformed, err = meter.Int64Counter("promptshelf.store.malformed_reads",
		metric.WithDescription("Reads that found undecodable template data")); err != nil {
		log.Warn().Err(err).Msg("Failed to create malformed counter")
	}
	return m
}

func (m *metrics) recordWrite(ctx context.Context, ok bool, chunks, size int) {
	mode := "single"
	if chunks > 0 {
		mode = "chunked"
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("ok", ok),
	)
	if m.writes != nil {
		m.writes.Add(ctx, 1, attrs)
	}
	if !ok {
		return
	}
	if m.chunks != nil {
		m.chunks.Record(ctx, int64(chunks))
	}
	if m.bytes != nil {
		m.bytes.Record(ctx, int64(size))
	}
}

func (m *metrics) recordMalformed(ctx context.Context) {
	if m.malformed != nil {
		m.malformed.Add(ctx, 1)
	}
}
