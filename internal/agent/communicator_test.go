package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/arbiterhq/sentinel/internal/domain/event"
)

func TestCommunicatorRecordsAlerts(t *testing.T) {
	b := newTestBus(t)
	c := NewCommunicator("communicator", b, discardLogger())
	defer c.Shutdown(context.Background())

	b.Publish(event.New(event.TypeAlert, event.PriorityHigh, "sensor", map[string]any{
		"resource": "cpu",
		"severity": "warning",
	}))

	waitUntil(t, func() bool { return len(c.Notifications(0)) >= 1 }, "alert not recorded")
	note := c.Notifications(0)[0]
	if note.Level != "warning" {
		t.Fatalf("level = %q", note.Level)
	}
	if note.EventType != event.TypeAlert {
		t.Fatalf("event type = %q", note.EventType)
	}
}

func TestCommunicatorEscalatesCriticalAlerts(t *testing.T) {
	b := newTestBus(t)
	sink := &eventSink{}
	b.Subscribe("sink", sink.handle, event.TypeCoordination)

	c := NewCommunicator("communicator", b, discardLogger())
	defer c.Shutdown(context.Background())

	alert := event.New(event.TypeAlert, event.PriorityCritical, "sensor", map[string]any{
		"resource": "memory",
		"severity": "critical",
	})
	b.Publish(alert)

	coords := sink.waitForType(t, event.TypeCoordination, 1)
	if coords[0].Source != "communicator" {
		t.Fatalf("escalation source = %s", coords[0].Source)
	}
	if coords[0].CorrelationID != alert.ID {
		t.Fatalf("escalation correlation = %s", coords[0].CorrelationID)
	}
}

func TestCommunicatorIgnoresOwnEvents(t *testing.T) {
	b := newTestBus(t)
	c := NewCommunicator("communicator", b, discardLogger())
	defer c.Shutdown(context.Background())

	// A critical alert from ourselves must not loop into another
	// escalation or a log entry.
	b.Publish(event.New(event.TypeCoordination, event.PriorityCritical, "communicator", map[string]any{
		"reason": "critical_alert",
	}))
	waitUntil(t, func() bool { return b.Stats().Delivered >= 1 }, "event never delivered")

	if got := len(c.Notifications(0)); got != 0 {
		t.Fatalf("recorded %d notifications from own events", got)
	}
}

func TestCommunicatorSkipsRoutineMetrics(t *testing.T) {
	b := newTestBus(t)
	c := NewCommunicator("communicator", b, discardLogger())
	defer c.Shutdown(context.Background())

	b.Publish(event.New(event.TypeMetric, event.PriorityNormal, "sensor", map[string]any{"cpu_percent": 12.0}))
	b.Publish(event.New(event.TypeAlert, event.PriorityHigh, "sensor", map[string]any{
		"resource": "cpu",
		"severity": "warning",
	}))

	waitUntil(t, func() bool { return len(c.Notifications(0)) >= 1 }, "alert not recorded")
	if got := len(c.Notifications(0)); got != 1 {
		t.Fatalf("recorded %d notifications, metric should be skipped", got)
	}
}

func TestCommunicatorRecordsRemediationResults(t *testing.T) {
	b := newTestBus(t)
	c := NewCommunicator("communicator", b, discardLogger())
	defer c.Shutdown(context.Background())

	b.Publish(event.New(event.TypeStatus, event.PriorityHigh, "safety", map[string]any{
		"result":  "remediation",
		"action":  "restartService",
		"target":  "nginx",
		"outcome": "failure",
	}))

	waitUntil(t, func() bool { return len(c.Notifications(0)) >= 1 }, "result not recorded")
	note := c.Notifications(0)[0]
	if note.Level != "warning" {
		t.Fatalf("level = %q for failed remediation", note.Level)
	}
}

func TestCommunicatorNotificationsNewestFirstAndBounded(t *testing.T) {
	b := newTestBus(t)
	c := NewCommunicator("communicator", b, discardLogger())
	defer c.Shutdown(context.Background())

	total := communicatorLogSize + 20
	for i := 0; i < total; i++ {
		c.append(Notification{ID: fmt.Sprintf("n-%d", i), Message: "x"})
	}

	all := c.Notifications(0)
	if len(all) != communicatorLogSize {
		t.Fatalf("kept %d notifications, want %d", len(all), communicatorLogSize)
	}
	if all[0].ID != fmt.Sprintf("n-%d", total-1) {
		t.Fatalf("newest first violated: %s", all[0].ID)
	}

	limited := c.Notifications(5)
	if len(limited) != 5 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}
