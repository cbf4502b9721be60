// Package telemetry holds the OpenTelemetry instruments recorded by the send
// engine and the optional OTLP exporter setup. Without Setup the global
// providers are no-ops, so recording is always safe.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "proposer"

// Metrics holds all proposer metric instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	RunsFailed    metric.Int64Counter
	Sends         metric.Int64Counter
	RunDuration   metric.Float64Histogram
	Delay         metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates all metric instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("proposer.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("proposer.runs.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("proposer.runs.failed",
		metric.WithDescription("Number of runs failed"))
	if err != nil {
		return nil, err
	}

	m.Sends, err = meter.Int64Counter("proposer.sends",
		metric.WithDescription("Send attempts by outcome"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("proposer.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.Delay, err = meter.Float64Histogram("proposer.delay_seconds",
		metric.WithDescription("Sampled delay between sends in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted counts a started run.
func (m *Metrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.RunsStarted.Add(ctx, 1)
}

// RunFinished counts a finished run and records its duration.
func (m *Metrics) RunFinished(ctx context.Context, status string, seconds float64) {
	if m == nil {
		return
	}
	if status == "failed" {
		m.RunsFailed.Add(ctx, 1)
	} else {
		m.RunsCompleted.Add(ctx, 1)
	}
	m.RunDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

// Send counts one send attempt. Outcome is "sent" or a failure kind.
func (m *Metrics) Send(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Sends.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// DelaySampled records a pacing delay.
func (m *Metrics) DelaySampled(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.Delay.Record(ctx, seconds)
}
