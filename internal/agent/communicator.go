package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbiterhq/sentinel/internal/bus"
	domagent "github.com/arbiterhq/sentinel/internal/domain/agent"
	"github.com/arbiterhq/sentinel/internal/domain/event"
)

// communicatorLogSize bounds the retained notification log.
const communicatorLogSize = 200

// Notification is one human-readable entry in the communicator's log,
// served to operators through the HTTP API.
type Notification struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source"`
	EventType event.Type     `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Communicator watches the whole bus, keeps a bounded notification log
// for operators, and escalates critical alerts as coordination events
// so every agent sees them regardless of subscription.
type Communicator struct {
	name string
	bus  *bus.Bus
	log  *slog.Logger

	cancelSub func()

	mu            sync.Mutex
	notifications []Notification
	escalated     uint64
}

// NewCommunicator creates the communicator agent with a wildcard
// subscription.
func NewCommunicator(name string, b *bus.Bus, log *slog.Logger) *Communicator {
	c := &Communicator{
		name: name,
		bus:  b,
		log:  log.With("agent", name),
	}
	c.cancelSub = b.Subscribe(name+".all", c.onEvent)
	return c
}

func (c *Communicator) Name() string        { return c.name }
func (c *Communicator) Role() domagent.Role { return domagent.RoleCommunicator }

func (c *Communicator) Shutdown(context.Context) {
	if c.cancelSub != nil {
		c.cancelSub()
	}
}

// Tick is a liveness cycle. The communicator's real work happens in
// its subscription; the tick only reports queue pressure.
func (c *Communicator) Tick(context.Context) error {
	c.mu.Lock()
	kept := len(c.notifications)
	escalated := c.escalated
	c.mu.Unlock()
	c.log.Debug("notification log", "entries", kept, "escalated", escalated)
	return nil
}

// onEvent records noteworthy events and escalates critical alerts.
func (c *Communicator) onEvent(_ context.Context, ev event.Event) error {
	// Our own escalations come back through the wildcard subscription.
	if ev.Source == c.name {
		return nil
	}

	if note, ok := c.noteworthy(ev); ok {
		c.append(note)
	}

	if ev.Type == event.TypeAlert && ev.Priority <= event.PriorityCritical {
		c.escalate(ev)
	}
	return nil
}

// noteworthy decides whether an event belongs in the operator log.
// Routine metrics stay out; alerts, analyses with actions, results and
// coordination traffic go in.
func (c *Communicator) noteworthy(ev event.Event) (Notification, bool) {
	var level, message string

	switch ev.Type {
	case event.TypeAlert:
		level = "warning"
		if ev.Priority <= event.PriorityCritical {
			level = "critical"
		}
		resource, _ := ev.Payload["resource"].(string)
		severity, _ := ev.Payload["severity"].(string)
		message = fmt.Sprintf("%s alert (%s) from %s", resource, severity, ev.Source)
	case event.TypeAnalysis:
		action, _ := ev.Payload["action"].(string)
		if action == "" || action == "none" {
			return Notification{}, false
		}
		target, _ := ev.Payload["target"].(string)
		level = "info"
		message = fmt.Sprintf("recommended %s on %s", action, target)
	case event.TypeStatus:
		if kind, _ := ev.Payload["result"].(string); kind != "remediation" {
			return Notification{}, false
		}
		outcome, _ := ev.Payload["outcome"].(string)
		level = "info"
		if outcome != "success" {
			level = "warning"
		}
		action, _ := ev.Payload["action"].(string)
		target, _ := ev.Payload["target"].(string)
		message = fmt.Sprintf("remediation %s on %s: %s", action, target, outcome)
	case event.TypeCoordination:
		level = "info"
		message = coordinationSummary(ev)
	default:
		return Notification{}, false
	}

	return Notification{
		ID:        ev.ID,
		Level:     level,
		Message:   message,
		Source:    ev.Source,
		EventType: ev.Type,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp,
	}, true
}

// coordinationSummary renders the known coordination payload shapes.
func coordinationSummary(ev event.Event) string {
	if provider, ok := ev.Payload["fallback_provider"].(string); ok {
		return fmt.Sprintf("decision fell back past %s", provider)
	}
	if state, ok := ev.Payload["external_source"].(string); ok {
		return fmt.Sprintf("external decision source %s", state)
	}
	if reason, ok := ev.Payload["reason"].(string); ok {
		return fmt.Sprintf("%s from %s", reason, ev.Source)
	}
	return fmt.Sprintf("coordination from %s", ev.Source)
}

func (c *Communicator) append(note Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, note)
	if len(c.notifications) > communicatorLogSize {
		c.notifications = c.notifications[len(c.notifications)-communicatorLogSize:]
	}
}

// escalate republishes a critical alert as a coordination event.
func (c *Communicator) escalate(ev event.Event) {
	c.mu.Lock()
	c.escalated++
	c.mu.Unlock()

	c.bus.Publish(event.New(event.TypeCoordination, event.PriorityCritical, c.name, map[string]any{
		"reason":   "critical_alert",
		"alert_id": ev.ID,
		"source":   ev.Source,
		"payload":  ev.Payload,
	}).WithCorrelation(ev.ID))
}

// Notifications returns up to limit entries, newest first.
func (c *Communicator) Notifications(limit int) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.notifications)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Notification, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.notifications[i])
	}
	return out
}
