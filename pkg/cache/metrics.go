package cache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	resultHit    = "hit"
	resultMiss   = "miss"
	resultShared = "shared"
)

// Metrics counts cache lookups by result.
type Metrics struct {
	lookups metric.Int64Counter
}

// NewMetrics creates the instruments on meter. A nil meter yields no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("searchcore/cache")
	}

	lookups, err := meter.Int64Counter("searchcore.cache.lookups")
	if err != nil {
		return nil, fmt.Errorf("create lookups counter: %w", err)
	}

	return &Metrics{lookups: lookups}, nil
}

func (m *Metrics) lookup(result string) {
	m.lookups.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}
