package task

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "enginebridge.task"

const (
	outcomeSuccess      = "success"
	outcomeProcessError = "process_error"
	outcomeArchiveError = "archive_error"
	outcomeSetupError   = "setup_error"
)

type runMetrics struct {
	latency  metric.Float64Histogram
	outcomes metric.Int64Counter
	active   metric.Int64UpDownCounter
}

func newRunMetrics(provider metric.MeterProvider) (*runMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	latency, err := meter.Float64Histogram(
		"enginebridge_task_run_seconds",
		metric.WithDescription("Latency of engine task runs from workspace setup to cleanup"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run latency histogram: %w", err)
	}
	outcomes, err := meter.Int64Counter(
		"enginebridge_task_outcomes_total",
		metric.WithDescription("Engine task runs by outcome kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome counter: %w", err)
	}
	active, err := meter.Int64UpDownCounter(
		"enginebridge_task_active",
		metric.WithDescription("Engine task runs currently occupying a slot"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active runs counter: %w", err)
	}
	return &runMetrics{latency: latency, outcomes: outcomes, active: active}, nil
}

func (m *runMetrics) begin(ctx context.Context, module string) {
	m.active.Add(ctx, 1, metric.WithAttributes(attribute.String("module", module)))
}

func (m *runMetrics) end(ctx context.Context, module, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("module", module),
		attribute.String("outcome", outcome),
	)
	m.active.Add(ctx, -1, metric.WithAttributes(attribute.String("module", module)))
	m.outcomes.Add(ctx, 1, attrs)
	m.latency.Record(ctx, duration.Seconds(), attrs)
}
