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

// maxConsecutiveFailures is how many tick errors in a row move a
// degraded agent to failed.
const maxConsecutiveFailures = 3

// HeartbeatFunc is called after every successful tick so the
// supervisor can track liveness.
type HeartbeatFunc func(name string, at time.Time)

// FailureFunc is called after every failed tick with the current
// consecutive-failure streak, so the supervisor's record stays in step
// with the loop.
type FailureFunc func(name string, consecutive int)

// RunnerOptions configures a runner.
type RunnerOptions struct {
	Bus         *bus.Bus
	Interval    time.Duration
	TickTimeout time.Duration
	Heartbeat   HeartbeatFunc
	Failure     FailureFunc
	Logger      *slog.Logger
}

// Runner owns the periodic loop around one agent. It ticks the agent
// at a fixed interval with a per-tick deadline, tracks its lifecycle
// state, and reacts to command events addressed to it.
type Runner struct {
	agent       Agent
	bus         *bus.Bus
	interval    time.Duration
	tickTimeout time.Duration
	heartbeat   HeartbeatFunc
	failure     FailureFunc
	log         *slog.Logger

	mu          sync.Mutex
	state       domagent.State
	consecutive int
	stats       domagent.Stats

	commands chan event.Event
}

// NewRunner wraps an agent in a supervised loop.
func NewRunner(a Agent, opts RunnerOptions) *Runner {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		agent:       a,
		bus:         opts.Bus,
		interval:    opts.Interval,
		tickTimeout: opts.TickTimeout,
		heartbeat:   opts.Heartbeat,
		failure:     opts.Failure,
		log:         log.With("agent", a.Name(), "role", string(a.Role())),
		state:       domagent.StateStarting,
		commands:    make(chan event.Event, 8),
	}
}

// Name returns the wrapped agent's name.
func (r *Runner) Name() string { return r.agent.Name() }

// Role returns the wrapped agent's role.
func (r *Runner) Role() domagent.Role { return r.agent.Role() }

// State returns the current lifecycle state.
func (r *Runner) State() domagent.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns a snapshot of the loop counters.
func (r *Runner) Stats() domagent.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run executes the loop until the context is cancelled, a shutdown or
// restart command arrives, or the agent fails permanently. It returns
// nil on a clean stop, ErrRestartRequested on a restart command, and a
// descriptive error when the failure threshold is crossed.
func (r *Runner) Run(ctx context.Context) error {
	r.transition(domagent.StateRunning)

	cancel := r.bus.Subscribe(r.agent.Name()+".commands", r.enqueueCommand, event.TypeCommand)
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// First cycle runs immediately so a freshly started agent
	// produces data before the first full interval elapses.
	if err := r.tick(ctx); err != nil {
		r.shutdown()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			r.transition(domagent.StateStopped)
			return nil
		case cmd := <-r.commands:
			done, err := r.handleCommand(cmd)
			if done {
				r.shutdown()
				return err
			}
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.shutdown()
				return err
			}
		}
	}
}

// tick runs one cycle. A non-nil return means the agent has crossed
// the failure threshold and the loop must stop.
func (r *Runner) tick(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, r.tickTimeout)
	start := time.Now()
	err := r.agent.Tick(tctx)
	elapsed := time.Since(start)
	cancel()

	r.mu.Lock()
	r.stats.Ticks++
	r.stats.LastTickAt = start.UTC()
	r.stats.LastDuration = elapsed
	if err != nil {
		r.stats.Errors++
	}
	r.mu.Unlock()

	if err == nil {
		r.recovered()
		if r.heartbeat != nil {
			r.heartbeat(r.agent.Name(), time.Now().UTC())
		}
		return nil
	}
	if ctx.Err() != nil {
		// Loop context cancelled mid-tick; the select will observe it.
		return nil
	}

	consecutive := r.recordFailure(err)
	if r.failure != nil {
		r.failure(r.agent.Name(), consecutive)
	}
	if consecutive >= maxConsecutiveFailures {
		r.transition(domagent.StateFailed)
		return fmt.Errorf("agent %s: %d consecutive tick failures, last: %w", r.agent.Name(), consecutive, err)
	}
	return nil
}

func (r *Runner) recovered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutive = 0
	if r.state == domagent.StateDegraded {
		r.state = domagent.StateRunning
		r.log.Info("agent recovered")
	}
}

func (r *Runner) recordFailure(err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutive++
	if r.state == domagent.StateRunning {
		r.state = domagent.StateDegraded
	}
	r.log.Warn("tick failed", "error", err, "consecutive", r.consecutive)
	return r.consecutive
}

func (r *Runner) transition(to domagent.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if next, err := domagent.Transition(r.state, to); err == nil {
		r.state = next
	}
}

// enqueueCommand filters command events by target and queues them for
// the loop goroutine. Runs on the bus dispatch goroutine, so it never
// blocks; a full queue drops the command.
func (r *Runner) enqueueCommand(_ context.Context, ev event.Event) error {
	_, target := event.CommandOf(ev)
	if target != event.TargetAll && target != r.agent.Name() {
		return nil
	}
	select {
	case r.commands <- ev:
	default:
		r.log.Warn("command queue full, dropping", "event_id", ev.ID)
	}
	return nil
}

// handleCommand processes one queued command. done reports whether the
// loop should exit.
func (r *Runner) handleCommand(ev event.Event) (done bool, err error) {
	command, _ := event.CommandOf(ev)
	switch command {
	case event.CommandShutdown:
		r.log.Info("shutdown command received")
		r.transition(domagent.StateStopped)
		return true, nil
	case event.CommandRestart:
		r.log.Info("restart command received")
		return true, ErrRestartRequested
	case event.CommandHealthCheck:
		if r.heartbeat != nil {
			r.heartbeat(r.agent.Name(), time.Now().UTC())
		}
		r.publishStatus(ev.CorrelationID)
	case event.CommandStatus:
		r.publishStatus(ev.CorrelationID)
	default:
		r.log.Warn("unknown command", "command", command)
	}
	return false, nil
}

// publishStatus reports the agent's state and counters on the bus.
func (r *Runner) publishStatus(correlationID string) {
	r.mu.Lock()
	state := r.state
	stats := r.stats
	consecutive := r.consecutive
	r.mu.Unlock()

	ev := event.New(event.TypeStatus, event.PriorityNormal, r.agent.Name(), map[string]any{
		"agent":                r.agent.Name(),
		"role":                 string(r.agent.Role()),
		"state":                string(state),
		"ticks":                stats.Ticks,
		"errors":               stats.Errors,
		"consecutive_failures": consecutive,
		"last_tick_at":         stats.LastTickAt,
	})
	if correlationID != "" {
		ev = ev.WithCorrelation(correlationID)
	}
	r.bus.Publish(ev)
}

func (r *Runner) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.agent.Shutdown(ctx)
}
