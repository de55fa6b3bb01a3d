package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/domain/event"
)

const meterName = "sentinel"

// Metrics holds all Sentinel metric instruments.
type Metrics struct {
	EventsPublished     metric.Int64Counter
	Decisions           metric.Int64Counter
	RemediationResults  metric.Int64Counter
	RemediationBlocked  metric.Int64Counter
	AgentRestarts       metric.Int64Counter
	CriticalEscalations metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsPublished, err = meter.Int64Counter("sentinel.events.published",
		metric.WithDescription("Events published on the bus, by type"))
	if err != nil {
		return nil, err
	}

	m.Decisions, err = meter.Int64Counter("sentinel.decisions",
		metric.WithDescription("Analysis decisions, by providing source"))
	if err != nil {
		return nil, err
	}

	m.RemediationResults, err = meter.Int64Counter("sentinel.remediation.results",
		metric.WithDescription("Remediation attempts that ran, by outcome"))
	if err != nil {
		return nil, err
	}

	m.RemediationBlocked, err = meter.Int64Counter("sentinel.remediation.blocked",
		metric.WithDescription("Remediation attempts blocked by a guard, by reason"))
	if err != nil {
		return nil, err
	}

	m.AgentRestarts, err = meter.Int64Counter("sentinel.agent.restarts",
		metric.WithDescription("Agent restarts performed by the supervisor"))
	if err != nil {
		return nil, err
	}

	m.CriticalEscalations, err = meter.Int64Counter("sentinel.escalations",
		metric.WithDescription("Critical alerts escalated as coordination events"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Attach subscribes an observer that turns bus traffic into metric
// increments. Returns the subscription cancel func.
func (m *Metrics) Attach(b *bus.Bus) func() {
	return b.Subscribe("otel.metrics", m.observe)
}

// observe classifies one event into the matching instruments.
func (m *Metrics) observe(ctx context.Context, ev event.Event) error {
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(ev.Type)),
		attribute.String("source", ev.Source),
	))

	switch ev.Type {
	case event.TypeAnalysis:
		if provider, ok := ev.Payload["provider"].(string); ok {
			m.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
		}
	case event.TypeStatus:
		if kind, _ := ev.Payload["result"].(string); kind == "remediation" {
			outcome, _ := ev.Payload["outcome"].(string)
			m.RemediationResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
		if diag, _ := ev.Payload["diagnostic"].(string); diag == "remediation_blocked" {
			reason, _ := ev.Payload["reason"].(string)
			m.RemediationBlocked.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		}
		if state, _ := ev.Payload["state"].(string); state == "failed" && ev.Source == "supervisor" {
			m.AgentRestarts.Add(ctx, 1)
		}
	case event.TypeCoordination:
		if reason, _ := ev.Payload["reason"].(string); reason == "critical_alert" {
			m.CriticalEscalations.Add(ctx, 1)
		}
	}
	return nil
}
