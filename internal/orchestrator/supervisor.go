// Package orchestrator supervises the agent fleet: it starts every
// registered agent, watches heartbeats, restarts failures with
// exponential backoff, and coordinates shutdown over the bus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/sentinel/internal/agent"
	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/config"
	"github.com/arbiterhq/sentinel/internal/domain"
	domagent "github.com/arbiterhq/sentinel/internal/domain/agent"
	"github.com/arbiterhq/sentinel/internal/domain/event"
)

// SourceSupervisor identifies supervisor-originated events.
const SourceSupervisor = "supervisor"

// AgentFactory builds a fresh agent instance. Called once per start,
// so a restarted agent begins from clean state.
type AgentFactory func() agent.Agent

// entry is the supervisor's bookkeeping for one agent.
type entry struct {
	factory  AgentFactory
	loop     config.AgentLoop
	record   domagent.Record
	runner   *agent.Runner
	cancel   context.CancelFunc
	forceRst bool // health loop demanded a restart
}

// Supervisor owns the agent fleet.
type Supervisor struct {
	bus *bus.Bus
	cfg config.Supervisor
	log *slog.Logger

	now func() time.Time // for testing

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	started bool

	runCancel context.CancelFunc
}

// New creates an empty supervisor. Agents are added with Register
// before Run.
func New(b *bus.Bus, cfg config.Supervisor, log *slog.Logger) *Supervisor {
	return &Supervisor{
		bus:     b,
		cfg:     cfg,
		log:     log.With("component", "supervisor"),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Register adds an agent to the fleet. Must be called before Run.
func (s *Supervisor) Register(name string, role domagent.Role, loop config.AgentLoop, factory AgentFactory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%w: register after start", domain.ErrConfiguration)
	}
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: agent %q already registered", domain.ErrConfiguration, name)
	}
	s.entries[name] = &entry{
		factory: factory,
		loop:    loop,
		record: domagent.Record{
			Name:  name,
			Role:  role,
			State: domagent.StateStarting,
		},
	}
	s.order = append(s.order, name)
	return nil
}

// Run starts every registered agent concurrently plus the health-check
// loop, then blocks until the fleet has stopped. Returns nil on a
// coordinated shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: supervisor already running", domain.ErrConfiguration)
	}
	s.started = true
	ctx, s.runCancel = context.WithCancel(ctx)
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error { return s.supervise(gctx, name) })
	}
	g.Go(func() error {
		s.healthLoop(gctx)
		return nil
	})

	s.log.Info("fleet started", "agents", len(names))
	return g.Wait()
}

// supervise runs one agent's restart loop until the supervisor stops
// or the restart ceiling is hit.
func (s *Supervisor) supervise(ctx context.Context, name string) error {
	for {
		if ctx.Err() != nil {
			s.setState(name, domagent.StateStopped)
			return nil
		}

		runner, runCtx, cancel := s.startAgent(ctx, name)
		err := runner.Run(runCtx)
		cancel()

		forced := s.takeForced(name)

		switch {
		case ctx.Err() != nil:
			s.setState(name, domagent.StateStopped)
			return nil

		case errors.Is(err, agent.ErrRestartRequested):
			// Operator-requested restart does not count against the
			// ceiling.
			s.log.Info("restarting on request", "agent", name)
			s.resetForRestart(name)

		case err == nil && !forced:
			// Clean stop via shutdown command.
			s.setState(name, domagent.StateStopped)
			s.log.Info("agent stopped", "agent", name)
			return nil

		default:
			if err == nil {
				err = errors.New("unresponsive, heartbeat missed")
			}
			if terminal := s.recordFailure(name, err); terminal {
				return nil
			}
			if !s.waitBackoff(ctx, name) {
				s.setState(name, domagent.StateStopped)
				return nil
			}
			s.resetForRestart(name)
		}
	}
}

// startAgent builds a fresh runner and wires its heartbeat back into
// the record table.
func (s *Supervisor) startAgent(ctx context.Context, name string) (*agent.Runner, context.Context, context.CancelFunc) {
	s.mu.Lock()
	e := s.entries[name]
	runCtx, cancel := context.WithCancel(ctx)
	runner := agent.NewRunner(e.factory(), agent.RunnerOptions{
		Bus:         s.bus,
		Interval:    e.loop.Interval,
		TickTimeout: e.loop.TickTimeout,
		Heartbeat:   s.recordHeartbeat,
		Failure:     s.recordTickFailure,
		Logger:      s.log,
	})
	e.runner = runner
	e.cancel = cancel
	e.record.LastHeartbeat = s.now().UTC()
	s.mu.Unlock()
	return runner, runCtx, cancel
}

// recordHeartbeat is the runner callback after each successful tick.
// A heartbeat from an agent the health loop marked degraded clears the
// mark; the agent is demonstrably alive again.
func (s *Supervisor) recordHeartbeat(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		e.record.LastHeartbeat = at
		e.record.ConsecutiveFailures = 0
		if e.record.State == domagent.StateDegraded {
			e.record.State = domagent.StateRunning
		}
	}
}

// recordTickFailure is the runner callback after each failed tick.
func (s *Supervisor) recordTickFailure(name string, consecutive int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		e.record.ConsecutiveFailures = consecutive
	}
}

// recordFailure counts a restart and either schedules backoff or, at
// the ceiling, parks the agent in terminal stopped state with exactly
// one critical event.
func (s *Supervisor) recordFailure(name string, cause error) (terminal bool) {
	s.mu.Lock()
	e := s.entries[name]
	e.record.RestartCount++
	restarts := e.record.RestartCount

	if restarts > s.cfg.MaxRestarts {
		e.record.State = domagent.StateStopped
		s.mu.Unlock()
		s.log.Error("restart ceiling reached, giving up",
			"agent", name,
			"restarts", restarts-1,
			"cause", cause)
		s.bus.Publish(event.New(event.TypeAlert, event.PriorityCritical, SourceSupervisor, map[string]any{
			"resource": "agent",
			"severity": "critical",
			"agent":    name,
			"reason":   "restart_ceiling_reached",
			"restarts": restarts - 1,
			"cause":    cause.Error(),
		}))
		return true
	}

	backoff := s.backoffFor(restarts)
	e.record.State = domagent.StateFailed
	e.record.BackoffUntil = s.now().UTC().Add(backoff)
	s.mu.Unlock()

	s.log.Warn("agent failed, scheduling restart",
		"agent", name,
		"restart", restarts,
		"backoff", backoff,
		"cause", cause)
	s.bus.Publish(event.New(event.TypeStatus, event.PriorityHigh, SourceSupervisor, map[string]any{
		"agent":   name,
		"state":   string(domagent.StateFailed),
		"restart": restarts,
		"backoff": backoff.String(),
		"cause":   cause.Error(),
	}))
	return false
}

// backoffFor computes min(base * 2^(n-1), cap) for the nth restart.
func (s *Supervisor) backoffFor(restart int) time.Duration {
	backoff := s.cfg.BackoffBase
	for i := 1; i < restart; i++ {
		backoff *= 2
		if backoff >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	if backoff > s.cfg.BackoffCap {
		return s.cfg.BackoffCap
	}
	return backoff
}

// waitBackoff sleeps out the scheduled backoff. Returns false when the
// supervisor stopped while waiting.
func (s *Supervisor) waitBackoff(ctx context.Context, name string) bool {
	s.mu.Lock()
	until := s.entries[name].record.BackoffUntil
	s.mu.Unlock()

	wait := until.Sub(s.now())
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// resetForRestart moves a parked record back to starting.
func (s *Supervisor) resetForRestart(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[name]
	e.runner = nil
	e.record.State = domagent.StateStarting
	e.record.ConsecutiveFailures = 0
	e.record.BackoffUntil = time.Time{}
}

// setState applies a validated transition to the record.
func (s *Supervisor) setState(name string, to domagent.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return
	}
	from := s.liveStateLocked(e)
	if from == to {
		e.record.State = to
		return
	}
	next, err := domagent.Transition(from, to)
	if err != nil {
		// Stopped must always be reachable; anything else is a
		// bookkeeping bug worth logging.
		if to == domagent.StateStopped {
			e.record.State = domagent.StateStopped
			return
		}
		s.log.Warn("state transition rejected", "agent", name, "from", string(from), "to", string(to))
		return
	}
	e.record.State = next
}

// liveStateLocked resolves the effective state: a live runner knows
// its own lifecycle, the record covers parked and terminal phases plus
// the health loop's Degraded mark, which only a fresh heartbeat clears.
func (s *Supervisor) liveStateLocked(e *entry) domagent.State {
	switch e.record.State {
	case domagent.StateDegraded, domagent.StateFailed, domagent.StateStopped:
		return e.record.State
	}
	if e.runner != nil {
		return e.runner.State()
	}
	return e.record.State
}

// takeForced consumes the health loop's restart demand for an agent.
func (s *Supervisor) takeForced(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[name]
	forced := e.forceRst
	e.forceRst = false
	return forced
}

// healthLoop watches heartbeats. A missed beat degrades the record; a
// long silence cancels the runner so the restart path takes over.
func (s *Supervisor) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHeartbeats()
		}
	}
}

func (s *Supervisor) checkHeartbeats() {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		e := s.entries[name]
		state := s.liveStateLocked(e)
		if state != domagent.StateRunning && state != domagent.StateDegraded {
			continue
		}
		silence := now.Sub(e.record.LastHeartbeat)
		switch {
		case silence > 2*s.cfg.HeartbeatThreshold:
			if e.cancel != nil && !e.forceRst {
				s.log.Error("agent unresponsive, forcing restart",
					"agent", name,
					"silence", silence)
				e.forceRst = true
				e.cancel()
			}
		case silence > s.cfg.HeartbeatThreshold:
			if state == domagent.StateRunning {
				s.log.Warn("heartbeat missed", "agent", name, "silence", silence)
				e.record.State = domagent.StateDegraded
			}
		}
	}
}

// Records returns a snapshot of the fleet, in registration order.
func (s *Supervisor) Records() []domagent.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domagent.Record, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.recordLocked(name))
	}
	return out
}

// Record returns one agent's record.
func (s *Supervisor) Record(name string) (domagent.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return domagent.Record{}, fmt.Errorf("%w: agent %q", domain.ErrNotFound, name)
	}
	return s.recordLocked(name), nil
}

func (s *Supervisor) recordLocked(name string) domagent.Record {
	e := s.entries[name]
	rec := e.record
	rec.State = s.liveStateLocked(e)
	return rec
}

// Stats returns the live loop counters for one agent, zero values when
// it has never started.
func (s *Supervisor) Stats(name string) domagent.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok && e.runner != nil {
		return e.runner.Stats()
	}
	return domagent.Stats{}
}

// Shutdown coordinates a fleet stop: broadcast the shutdown command,
// wait out the grace period for clean exits, then cancel whatever is
// left. Blocks until the fleet is down or ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.log.Info("shutdown requested")
	s.bus.Publish(event.NewCommand(SourceSupervisor, event.CommandShutdown, event.TargetAll))

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cancelRun()
			return ctx.Err()
		case <-grace.C:
			s.log.Warn("grace period expired, cancelling remaining agents")
			s.cancelRun()
			return nil
		case <-tick.C:
			if s.allStopped() {
				s.cancelRun()
				return nil
			}
		}
	}
}

func (s *Supervisor) cancelRun() {
	s.mu.Lock()
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor) allStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if s.liveStateLocked(e) != domagent.StateStopped {
			return false
		}
	}
	return true
}
