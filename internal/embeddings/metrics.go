package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/answerd/internal/embeddings"

// Metrics holds all embedding-related metrics.
type Metrics struct {
	meter      metric.Meter
	logger     *zap.Logger
	duration   metric.Float64Histogram
	chunkCount metric.Int64Histogram
	errors     metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for embeddings.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Metrics{
		meter:  otel.Meter(embeddingsInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"answerd.embedding.vectorize_duration_seconds",
		metric.WithDescription("Duration of question vectorization in seconds, labeled by model. Covers tokenization, per-chunk API calls, and mean reduction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	// Chunk counts above 1 mean the question exceeded the model's token
	// ceiling and cost extra API calls.
	m.chunkCount, err = m.meter.Int64Histogram(
		"answerd.embedding.chunk_count",
		metric.WithDescription("Number of token chunks per vectorized input. Values above 1 indicate oversized inputs split to respect the model's 8192-token limit."),
		metric.WithUnit("{chunk}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10, 25),
	)
	if err != nil {
		m.logger.Warn("failed to create chunk count histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"answerd.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors by model."),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordVectorize records one vectorization attempt.
func (m *Metrics) RecordVectorize(ctx context.Context, model string, duration time.Duration, chunks int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}

	if chunks > 0 && m.chunkCount != nil {
		m.chunkCount.Record(ctx, int64(chunks), metric.WithAttributes(attrs...))
	}

	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
