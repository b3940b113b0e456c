package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "lendfarm/core"

// actionInstruments mirror the Prometheus action metrics on the OTLP
// pipeline so traces and metrics share one exporter.
type actionInstruments struct {
	actions  metric.Int64Counter
	duration metric.Float64Histogram
}

func newActionInstruments(provider metric.MeterProvider) *actionInstruments {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	actions, err := meter.Int64Counter("lendfarm.executor.actions",
		metric.WithDescription("Executor actions by name and outcome."))
	if err != nil {
		meter = noop.NewMeterProvider().Meter(meterName)
		actions, _ = meter.Int64Counter("lendfarm.executor.actions")
	}
	duration, err := meter.Float64Histogram("lendfarm.executor.action_duration",
		metric.WithDescription("Executor action latency."),
		metric.WithUnit("s"))
	if err != nil {
		fallback := noop.NewMeterProvider().Meter(meterName)
		duration, _ = fallback.Float64Histogram("lendfarm.executor.action_duration")
	}
	return &actionInstruments{actions: actions, duration: duration}
}

func (i *actionInstruments) record(ctx context.Context, name string, err error, elapsed time.Duration) {
	if i == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("action", name),
		attribute.String("outcome", outcome),
	)
	i.actions.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
}
