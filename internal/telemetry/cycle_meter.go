package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sentinel-Gate/inkgate/internal/service"
)

const meterName = "github.com/Sentinel-Gate/inkgate"

// CycleMeter records decision cycles on an otel meter.
type CycleMeter struct {
	cycles     metric.Int64Counter
	rejections metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewCycleMeter creates the instruments on mp.
func NewCycleMeter(mp metric.MeterProvider) (*CycleMeter, error) {
	meter := mp.Meter(meterName)
	cycles, err := meter.Int64Counter("inkgate.cycles",
		metric.WithDescription("Decision cycles by outcome"))
	if err != nil {
		return nil, fmt.Errorf("cycles counter: %w", err)
	}
	rejections, err := meter.Int64Counter("inkgate.validation.rejections",
		metric.WithDescription("Picked actions rejected by validation"))
	if err != nil {
		return nil, fmt.Errorf("rejections counter: %w", err)
	}
	duration, err := meter.Float64Histogram("inkgate.cycle.duration",
		metric.WithDescription("Decision cycle duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}
	return &CycleMeter{cycles: cycles, rejections: rejections, duration: duration}, nil
}

// ObserveCycle implements service.CycleObserver.
func (m *CycleMeter) ObserveCycle(r service.CycleReport) {
	ctx := context.Background()
	outcome := metric.WithAttributes(attribute.String("outcome", string(r.Outcome)))
	m.cycles.Add(ctx, 1, outcome)
	m.duration.Record(ctx, r.Duration.Seconds(), outcome)
	if v := r.Validation; v != nil && !v.Accepted {
		m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(v.Code))))
	}
}

// Compile-time interface verification.
var _ service.CycleObserver = (*CycleMeter)(nil)
