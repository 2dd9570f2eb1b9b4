package run

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the controller's metric instruments.
type Metrics struct {
	EventsSeen metric.Int64Counter
	Decisions  metric.Int64Counter
}

// NewMetrics creates the controller instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EventsSeen, err = meter.Int64Counter("coachctl.events",
		metric.WithDescription("Protocol events accepted by the codec"),
	)
	if err != nil {
		return nil, err
	}

	m.Decisions, err = meter.Int64Counter("coachctl.decisions",
		metric.WithDescription("Approval decisions sent to the backend"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) countEvent(ctx context.Context, eventType string) {
	if m == nil || m.EventsSeen == nil {
		return
	}
	m.EventsSeen.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

func (m *Metrics) countDecision(ctx context.Context, gate, action string, auto bool) {
	if m == nil || m.Decisions == nil {
		return
	}
	m.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gate", gate),
		attribute.String("action", action),
		attribute.Bool("auto", auto),
	))
}
