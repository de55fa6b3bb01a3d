// Package event defines the Event entity exchanged between agents over the bus.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type string

const (
	TypeMetric       Type = "metric"
	TypeAlert        Type = "alert"
	TypeAnalysis     Type = "analysis"
	TypeCommand      Type = "command"
	TypeStatus       Type = "status"
	TypeCoordination Type = "coordination"

	// TypeWildcard subscribes a handler to every event type.
	TypeWildcard Type = "*"
)

// Priority orders delivery within a subscriber queue. Lower is more urgent.
type Priority int

const (
	PriorityEmergency Priority = 0
	PriorityCritical  Priority = 1
	PriorityHigh      Priority = 2
	PriorityNormal    Priority = 3
	PriorityLow       Priority = 4
)

// Event is a single immutable message. Subscribers receive a value
// copy, but Payload stays a shared map reference: once published,
// neither the publisher nor any subscriber may write to it.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Priority      Priority       `json:"priority"`
	Source        string         `json:"source"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// New creates an event with a fresh ID and timestamp.
func New(typ Type, priority Priority, source string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Priority:  priority,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// WithCorrelation returns a copy of the event carrying the given correlation ID.
func (e Event) WithCorrelation(id string) Event {
	e.CorrelationID = id
	return e
}

// Command payload keys understood by agents and the orchestrator.
const (
	CommandHealthCheck = "health_check"
	CommandStatus      = "status"
	CommandRestart     = "restart"
	CommandShutdown    = "shutdown"

	// TargetAll addresses a command to every agent.
	TargetAll = "all"
)

// NewCommand creates a Command event addressed to target ("all" or an agent name).
func NewCommand(source, command, target string) Event {
	return New(TypeCommand, PriorityHigh, source, map[string]any{
		"command": command,
		"target":  target,
	})
}

// CommandOf extracts the command and target from a Command event payload.
// Target defaults to "all" when absent.
func CommandOf(e Event) (command, target string) {
	command, _ = e.Payload["command"].(string)
	target, _ = e.Payload["target"].(string)
	if target == "" {
		target = TargetAll
	}
	return command, target
}
