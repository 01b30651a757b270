package apicall

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope used when no meter is supplied.
const MeterName = "searchcore/apicall"

const (
	outcomeSuccess     = "success"
	outcomeCallerError = "caller_error"
	outcomeNodeFailure = "node_failure"
	outcomeExhausted   = "exhausted"
	outcomeCancelled   = "cancelled"
)

// Metrics records per-attempt and per-call outcomes.
type Metrics struct {
	attempts metric.Int64Counter
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter yields no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	attempts, err := meter.Int64Counter("searchcore.node.attempts")
	if err != nil {
		return nil, fmt.Errorf("create attempts counter: %w", err)
	}

	calls, err := meter.Int64Counter("searchcore.calls")
	if err != nil {
		return nil, fmt.Errorf("create calls counter: %w", err)
	}

	duration, err := meter.Float64Histogram("searchcore.call.duration.ms")
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Metrics{attempts: attempts, calls: calls, duration: duration}, nil
}

func (m *Metrics) attempt(node, outcome string) {
	m.attempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("node", node),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) call(method, outcome string, attempts int, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
		attribute.Int("attempts", attempts),
	)
	m.calls.Add(context.Background(), 1, attrs)
	m.duration.Record(context.Background(), float64(time.Since(start).Microseconds())/1000.0, attrs)
}
