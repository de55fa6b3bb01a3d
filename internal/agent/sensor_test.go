package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arbiterhq/sentinel/internal/config"
	"github.com/arbiterhq/sentinel/internal/domain/event"
	"github.com/arbiterhq/sentinel/internal/port/metric"
)

// stubSource returns a fixed sample or error.
type stubSource struct {
	sample metric.Sample
	err    error
}

var _ metric.Source = (*stubSource)(nil)

func (s *stubSource) Collect(context.Context) (metric.Sample, error) {
	return s.sample, s.err
}

// eventSink collects events by type without gating.
type eventSink struct {
	mu  sync.Mutex
	evs []event.Event
}

func (s *eventSink) handle(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	s.evs = append(s.evs, ev)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) byType(typ event.Type) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (s *eventSink) waitForType(t *testing.T, typ event.Type, n int) []event.Event {
	t.Helper()
	var got []event.Event
	waitUntil(t, func() bool {
		got = s.byType(typ)
		return len(got) >= n
	}, "timed out waiting for events")
	return got
}

func testThresholds() config.Thresholds {
	return config.Defaults().Thresholds
}

func TestSensorPublishesMetric(t *testing.T) {
	b := newTestBus(t)
	sink := &eventSink{}
	b.Subscribe("sink", sink.handle, event.TypeMetric, event.TypeAlert)

	source := &stubSource{sample: metric.Sample{
		CPUPercent:    42,
		MemoryPercent: 51,
		DiskPercent:   map[string]float64{"/": 30},
	}}
	s := NewSensor("sensor", b, source, testThresholds(), discardLogger())

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	metrics := sink.waitForType(t, event.TypeMetric, 1)
	if got, _ := metrics[0].Payload["cpu_percent"].(float64); got != 42 {
		t.Fatalf("cpu_percent = %v", got)
	}
	if alerts := sink.byType(event.TypeAlert); len(alerts) != 0 {
		t.Fatalf("unexpected alerts for healthy sample: %d", len(alerts))
	}
}

func TestSensorRaisesAlertsOnBreach(t *testing.T) {
	tests := []struct {
		name     string
		sample   metric.Sample
		resource string
		severity string
		priority event.Priority
	}{
		{
			name:     "cpu critical",
			sample:   metric.Sample{CPUPercent: 95},
			resource: "cpu",
			severity: "critical",
			priority: event.PriorityCritical,
		},
		{
			name:     "cpu warning",
			sample:   metric.Sample{CPUPercent: 80},
			resource: "cpu",
			severity: "warning",
			priority: event.PriorityHigh,
		},
		{
			name:     "memory critical",
			sample:   metric.Sample{MemoryPercent: 96},
			resource: "memory",
			severity: "critical",
			priority: event.PriorityCritical,
		},
		{
			name:     "disk warning",
			sample:   metric.Sample{DiskPercent: map[string]float64{"/var": 88}},
			resource: "disk",
			severity: "warning",
			priority: event.PriorityHigh,
		},
		{
			name:     "service down",
			sample:   metric.Sample{ServicesDown: []string{"nginx"}},
			resource: "service",
			severity: "critical",
			priority: event.PriorityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBus(t)
			sink := &eventSink{}
			b.Subscribe("sink", sink.handle, event.TypeAlert)

			s := NewSensor("sensor", b, &stubSource{sample: tt.sample}, testThresholds(), discardLogger())
			if err := s.Tick(context.Background()); err != nil {
				t.Fatalf("tick: %v", err)
			}

			alerts := sink.waitForType(t, event.TypeAlert, 1)
			alert := alerts[0]
			if resource, _ := alert.Payload["resource"].(string); resource != tt.resource {
				t.Errorf("resource = %q, want %q", resource, tt.resource)
			}
			if severity, _ := alert.Payload["severity"].(string); severity != tt.severity {
				t.Errorf("severity = %q, want %q", severity, tt.severity)
			}
			if alert.Priority != tt.priority {
				t.Errorf("priority = %d, want %d", alert.Priority, tt.priority)
			}
		})
	}
}

func TestSensorCollectErrorPropagates(t *testing.T) {
	b := newTestBus(t)
	s := NewSensor("sensor", b, &stubSource{err: errors.New("psutil gone")}, testThresholds(), discardLogger())
	if err := s.Tick(context.Background()); err == nil {
		t.Fatal("expected collect error")
	}
}

func TestSensorHistoryBounded(t *testing.T) {
	b := newTestBus(t)
	source := &stubSource{sample: metric.Sample{CPUPercent: 10}}
	s := NewSensor("sensor", b, source, testThresholds(), discardLogger())

	for i := 0; i < sensorHistorySize+10; i++ {
		if err := s.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if got := len(s.History()); got != sensorHistorySize {
		t.Fatalf("history length = %d, want %d", got, sensorHistorySize)
	}
}
