package routes

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/xerrors"
)

type Metrics struct {
	score    metric.Float64Histogram
	duration metric.Int64Histogram
	failures metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	score, err := meter.Float64Histogram("evaluation_score",
		metric.WithExplicitBucketBoundaries(10, 25, 50, 75, 90, 95, 99, 100),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}
	duration, err := meter.Int64Histogram("evaluation_duration_micro_seconds")
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}
	failures, err := meter.Int64Counter("evaluation_failures")
	if err != nil {
		return nil, xerrors.Errorf("failed to create counter: %w", err)
	}

	return &Metrics{
		score:    score,
		duration: duration,
		failures: failures,
	}, nil
}

func (m *Metrics) observe(ctx context.Context, handler string, started time.Time, score float64, reason string) {
	if m == nil {
		return
	}

	handlerAttribute := attribute.Key("handler").String(handler)
	m.duration.Record(ctx, time.Since(started).Microseconds(), metric.WithAttributes(handlerAttribute))
	if reason != "" {
		m.failures.Add(ctx, 1, metric.WithAttributes(handlerAttribute, attribute.Key("reason").String(reason)))
		return
	}
	m.score.Record(ctx, score, metric.WithAttributes(handlerAttribute))
}
