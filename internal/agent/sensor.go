package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/config"
	domagent "github.com/arbiterhq/sentinel/internal/domain/agent"
	"github.com/arbiterhq/sentinel/internal/domain/event"
	"github.com/arbiterhq/sentinel/internal/port/metric"
)

// sensorHistorySize bounds the retained sample window.
const sensorHistorySize = 60

// Sensor samples the host through a metric source and publishes the
// readings. Threshold breaches are raised as alerts at elevated
// priority so the analyzer sees them ahead of routine metrics.
type Sensor struct {
	name       string
	bus        *bus.Bus
	source     metric.Source
	thresholds config.Thresholds
	log        *slog.Logger

	mu      sync.Mutex
	history []metric.Sample
}

// NewSensor creates the sensor agent.
func NewSensor(name string, b *bus.Bus, source metric.Source, thresholds config.Thresholds, log *slog.Logger) *Sensor {
	return &Sensor{
		name:       name,
		bus:        b,
		source:     source,
		thresholds: thresholds,
		log:        log.With("agent", name),
	}
}

func (s *Sensor) Name() string { return s.name }

func (s *Sensor) Role() domagent.Role { return domagent.RoleSensor }

func (s *Sensor) Shutdown(context.Context) {}

// Tick collects one sample, records it, and publishes a metric event
// plus one alert per breached threshold.
func (s *Sensor) Tick(ctx context.Context) error {
	sample, err := s.source.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	s.record(sample)

	s.bus.Publish(event.New(event.TypeMetric, event.PriorityNormal, s.name, map[string]any{
		"cpu_percent":    sample.CPUPercent,
		"memory_percent": sample.MemoryPercent,
		"disk_percent":   sample.DiskPercent,
		"services_down":  sample.ServicesDown,
	}))

	for _, alert := range s.evaluate(sample) {
		s.bus.Publish(alert)
	}
	return nil
}

// record appends the sample to the bounded history window.
func (s *Sensor) record(sample metric.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, sample)
	if len(s.history) > sensorHistorySize {
		s.history = s.history[len(s.history)-sensorHistorySize:]
	}
}

// History returns the most recent samples, newest last.
func (s *Sensor) History() []metric.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]metric.Sample, len(s.history))
	copy(out, s.history)
	return out
}

// evaluate builds one alert per breached threshold. Critical breaches
// carry critical priority, warnings high priority.
func (s *Sensor) evaluate(sample metric.Sample) []event.Event {
	var alerts []event.Event

	raise := func(priority event.Priority, resource, severity string, value, threshold float64, extra map[string]any) {
		payload := map[string]any{
			"resource":  resource,
			"severity":  severity,
			"value":     value,
			"threshold": threshold,
		}
		for k, v := range extra {
			payload[k] = v
		}
		alerts = append(alerts, event.New(event.TypeAlert, priority, s.name, payload))
	}

	switch {
	case sample.CPUPercent >= s.thresholds.CPUCritical:
		raise(event.PriorityCritical, "cpu", "critical", sample.CPUPercent, s.thresholds.CPUCritical, nil)
	case sample.CPUPercent >= s.thresholds.CPUWarning:
		raise(event.PriorityHigh, "cpu", "warning", sample.CPUPercent, s.thresholds.CPUWarning, nil)
	}

	switch {
	case sample.MemoryPercent >= s.thresholds.MemoryCritical:
		raise(event.PriorityCritical, "memory", "critical", sample.MemoryPercent, s.thresholds.MemoryCritical, nil)
	case sample.MemoryPercent >= s.thresholds.MemoryWarning:
		raise(event.PriorityHigh, "memory", "warning", sample.MemoryPercent, s.thresholds.MemoryWarning, nil)
	}

	for path, pct := range sample.DiskPercent {
		switch {
		case pct >= s.thresholds.DiskCritical:
			raise(event.PriorityCritical, "disk", "critical", pct, s.thresholds.DiskCritical, map[string]any{"path": path})
		case pct >= s.thresholds.DiskWarning:
			raise(event.PriorityHigh, "disk", "warning", pct, s.thresholds.DiskWarning, map[string]any{"path": path})
		}
	}

	for _, svc := range sample.ServicesDown {
		raise(event.PriorityCritical, "service", "critical", 0, 0, map[string]any{"service": svc})
	}

	return alerts
}
