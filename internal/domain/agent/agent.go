// Package agent defines the agent lifecycle entities shared by the
// runner and the orchestrator.
package agent

import (
	"fmt"
	"time"
)

// State represents the lifecycle state of a supervised agent.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// Role identifies what kind of work an agent performs.
type Role string

const (
	RoleSensor       Role = "sensor"
	RoleAnalyzer     Role = "analyzer"
	RoleRemediator   Role = "remediator"
	RoleCommunicator Role = "communicator"
)

// validTransitions enumerates the allowed lifecycle edges. Stopped is
// reachable from every state and is terminal.
var validTransitions = map[State][]State{
	StateStarting: {StateRunning, StateStopped},
	StateRunning:  {StateDegraded, StateStopped},
	StateDegraded: {StateRunning, StateFailed, StateStopped},
	StateFailed:   {StateStarting, StateStopped},
	StateStopped:  {},
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the new state.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("invalid state transition %s -> %s", from, to)
	}
	return to, nil
}

// Record is the orchestrator's view of one supervised agent.
type Record struct {
	Name                string    `json:"name"`
	Role                Role      `json:"role"`
	State               State     `json:"state"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RestartCount        int       `json:"restart_count"`
	BackoffUntil        time.Time `json:"backoff_until,omitempty"`
}

// Stats counts the work an agent has done since start.
type Stats struct {
	Ticks        uint64        `json:"ticks"`
	Errors       uint64        `json:"errors"`
	LastTickAt   time.Time     `json:"last_tick_at"`
	LastDuration time.Duration `json:"last_duration"`
}
