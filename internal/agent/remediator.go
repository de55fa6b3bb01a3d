package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arbiterhq/sentinel/internal/bus"
	domagent "github.com/arbiterhq/sentinel/internal/domain/agent"
	"github.com/arbiterhq/sentinel/internal/domain/event"
	"github.com/arbiterhq/sentinel/internal/domain/remediation"
	"github.com/arbiterhq/sentinel/internal/safety"
)

// remediatorQueueSize bounds the actionable backlog. Overflow drops the
// oldest entry; a fresher analysis supersedes it anyway.
const remediatorQueueSize = 16

// Remediator executes recommended actions. It consumes analysis and
// alert events that name an action, and hands each to the safety
// controller, which owns cooldowns, concurrency caps and result
// publication. Blocked attempts are not retried here; the next
// analysis cycle raises them again if the condition persists.
type Remediator struct {
	name       string
	bus        *bus.Bus
	controller *safety.Controller
	log        *slog.Logger

	cancelSub func()

	mu      sync.Mutex
	backlog []event.Event
}

// NewRemediator creates the remediator agent and subscribes it to
// actionable events.
func NewRemediator(name string, b *bus.Bus, controller *safety.Controller, log *slog.Logger) *Remediator {
	r := &Remediator{
		name:       name,
		bus:        b,
		controller: controller,
		log:        log.With("agent", name),
	}
	r.cancelSub = b.Subscribe(name+".actionable", r.onActionable, event.TypeAnalysis, event.TypeAlert)
	return r
}

func (r *Remediator) Name() string        { return r.name }
func (r *Remediator) Role() domagent.Role { return domagent.RoleRemediator }

func (r *Remediator) Shutdown(context.Context) {
	if r.cancelSub != nil {
		r.cancelSub()
	}
}

// onActionable queues events that carry a concrete action. Alerts
// without one are the analyzer's job, not ours.
func (r *Remediator) onActionable(_ context.Context, ev event.Event) error {
	action, _ := ev.Payload["action"].(string)
	if action == "" || action == "none" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.backlog) >= remediatorQueueSize {
		r.backlog = r.backlog[1:]
	}
	r.backlog = append(r.backlog, ev)
	return nil
}

// Tick drains the backlog, attempting each action once through the
// safety controller.
func (r *Remediator) Tick(ctx context.Context) error {
	for {
		ev, ok := r.next()
		if !ok {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		action, _ := ev.Payload["action"].(string)
		target, _ := ev.Payload["target"].(string)
		correlation := ev.CorrelationID
		if correlation == "" {
			correlation = ev.ID
		}

		outcome := r.controller.Attempt(ctx, action, target, correlation)
		switch outcome.Status {
		case remediation.StatusBlocked:
			r.log.Info("action blocked",
				"action", action,
				"target", target,
				"reason", string(outcome.Reason))
		case remediation.StatusFailure:
			r.log.Warn("action failed",
				"action", action,
				"target", target,
				"error", outcome.Err)
		default:
			r.log.Info("action succeeded",
				"action", action,
				"target", target,
				"duration", outcome.Duration)
		}
	}
}

func (r *Remediator) next() (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.backlog) == 0 {
		return event.Event{}, false
	}
	ev := r.backlog[0]
	r.backlog = r.backlog[1:]
	return ev, true
}
