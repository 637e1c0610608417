package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names exported by the duty manager.
const (
	MetricDutiesStarted  = "dutyhub.duties.started"
	MetricDutiesRejected = "dutyhub.duties.rejected"
	MetricDutiesExpired  = "dutyhub.duties.expired"
	MetricDutiesRemoved  = "dutyhub.duties.removed"
	MetricDutiesActive   = "dutyhub.duties.active"
)

// Metrics holds the duty manager instruments. A nil *Metrics records nothing.
type Metrics struct {
	started  metric.Int64Counter
	rejected metric.Int64Counter
	expired  metric.Int64Counter
	removed  metric.Int64Counter
	active   metric.Int64Gauge
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.started, err = meter.Int64Counter(MetricDutiesStarted,
		metric.WithDescription("Duties admitted by the manager"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDutiesStarted, err)
	}
	if m.rejected, err = meter.Int64Counter(MetricDutiesRejected,
		metric.WithDescription("Duty start requests refused, by reason"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDutiesRejected, err)
	}
	if m.expired, err = meter.Int64Counter(MetricDutiesExpired,
		metric.WithDescription("Duties evicted from the active set after their end time"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDutiesExpired, err)
	}
	if m.removed, err = meter.Int64Counter(MetricDutiesRemoved,
		metric.WithDescription("Duties evicted from the active set before their end time"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDutiesRemoved, err)
	}
	if m.active, err = meter.Int64Gauge(MetricDutiesActive,
		metric.WithDescription("Size of the active duty set after the last refresh"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDutiesActive, err)
	}
	return m, nil
}

// DutyStarted counts one admitted duty.
func (m *Metrics) DutyStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1)
}

// DutyRejected counts one refused start request.
func (m *Metrics) DutyRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// DutiesExpired counts duties dropped by a refresh.
func (m *Metrics) DutiesExpired(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.expired.Add(ctx, int64(n))
}

// DutiesRemoved counts duties dropped explicitly.
func (m *Metrics) DutiesRemoved(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.removed.Add(ctx, int64(n))
}

// ActiveDuties records the current size of the active set.
func (m *Metrics) ActiveDuties(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.active.Record(ctx, int64(n))
}
