// Package safety gates automated remediation actions behind cooldowns, a
// global concurrency cap and per-target attempt accounting.
package safety

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/config"
	"github.com/arbiterhq/sentinel/internal/domain/event"
	"github.com/arbiterhq/sentinel/internal/domain/remediation"
	"github.com/arbiterhq/sentinel/internal/port/action"
)

// Controller enforces the remediation guards. Attempt records are kept for
// the life of the process; the per-key lock serializes attempts on the
// same (action, target) pair while distinct pairs run in parallel up to
// the global cap.
type Controller struct {
	registry *action.Registry
	bus      *bus.Bus
	log      *slog.Logger

	cooldown       time.Duration
	maxAttempts    int
	executeTimeout time.Duration

	// running caps concurrent executor invocations system-wide.
	running *semaphore.Weighted

	mu       sync.Mutex
	attempts map[string]*remediation.Attempt
	keyLocks map[string]*sync.Mutex

	now func() time.Time // for testing
}

// New creates a Controller from config. The bus may be nil in tests; guard
// trips and results are then only logged.
func New(cfg config.Safety, registry *action.Registry, b *bus.Bus, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		registry:       registry,
		bus:            b,
		log:            log,
		cooldown:       cfg.Cooldown,
		maxAttempts:    cfg.MaxAttempts,
		executeTimeout: cfg.ExecuteTimeout,
		running:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		attempts:       make(map[string]*remediation.Attempt),
		keyLocks:       make(map[string]*sync.Mutex),
		now:            time.Now,
	}
}

// Attempt runs the named action against target if every guard passes.
// A Blocked outcome is a deliberate no-op, not an error; execution
// failures are recorded but never retried here. The next natural trigger
// cycle decides whether to try again.
func (c *Controller) Attempt(ctx context.Context, actionName, target, correlationID string) remediation.Outcome {
	ex, ok := c.registry.Lookup(actionName)
	if !ok {
		return c.blocked(actionName, target, correlationID, remediation.BlockUnknown)
	}

	key := remediation.Key(actionName, target)

	// Same-key attempts serialize here so guard checks and record
	// updates are race-free per pair.
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if reason, ok := c.checkGuards(key); !ok {
		return c.blocked(actionName, target, correlationID, reason)
	}

	if !c.running.TryAcquire(1) {
		return c.blocked(actionName, target, correlationID, remediation.BlockConcurrency)
	}
	defer c.running.Release(1)

	return c.execute(ctx, ex, actionName, target, key, correlationID)
}

// lockFor returns the mutex guarding one (action, target) key.
func (c *Controller) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.keyLocks[key] = lock
	}
	return lock
}

// checkGuards verifies cooldown and attempt cap for key. Called with the
// key lock held.
func (c *Controller) checkGuards(key string) (remediation.BlockReason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.attempts[key]
	if !ok {
		return "", true
	}
	if c.now().Before(rec.CooldownUntil) {
		return remediation.BlockCooldown, false
	}
	if rec.AttemptCount >= c.maxAttempts {
		return remediation.BlockAttemptCap, false
	}
	return "", true
}

// execute invokes the executor under its own timeout and records the result.
func (c *Controller) execute(ctx context.Context, ex action.Executor, actionName, target, key, correlationID string) remediation.Outcome {
	start := c.now()
	c.recordStart(actionName, target, key, start)

	execCtx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	err := ex.Execute(execCtx, target)
	elapsed := c.now().Sub(start)

	cooldownUntil := c.recordFinish(key, err == nil)

	outcome := remediation.Outcome{
		Status:        remediation.StatusSuccess,
		Duration:      elapsed,
		CooldownUntil: cooldownUntil,
	}
	if err != nil {
		outcome.Status = remediation.StatusFailure
		outcome.Err = err.Error()
	}

	c.log.Info("remediation executed",
		"action", actionName,
		"target", target,
		"status", outcome.Status,
		"duration", elapsed,
	)
	c.publishResult(actionName, target, correlationID, outcome)
	return outcome
}

func (c *Controller) recordStart(actionName, target, key string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.attempts[key]
	if !ok {
		rec = &remediation.Attempt{Action: actionName, Target: target}
		c.attempts[key] = rec
	}
	rec.LastAttemptAt = at
	rec.AttemptCount++
}

func (c *Controller) recordFinish(key string, success bool) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.attempts[key]
	rec.CooldownUntil = c.now().Add(c.cooldown)
	if success {
		rec.SuccessCount++
	}
	return rec.CooldownUntil
}

func (c *Controller) blocked(actionName, target, correlationID string, reason remediation.BlockReason) remediation.Outcome {
	c.log.Warn("remediation blocked",
		"action", actionName,
		"target", target,
		"reason", reason,
	)
	if c.bus != nil {
		ev := event.New(event.TypeStatus, event.PriorityLow, "safety", map[string]any{
			"diagnostic": "remediation_blocked",
			"action":     actionName,
			"target":     target,
			"reason":     string(reason),
		})
		c.bus.Publish(ev.WithCorrelation(correlationID))
	}
	return remediation.Outcome{Status: remediation.StatusBlocked, Reason: reason}
}

func (c *Controller) publishResult(actionName, target, correlationID string, outcome remediation.Outcome) {
	if c.bus == nil {
		return
	}
	priority := event.PriorityNormal
	if outcome.Status == remediation.StatusFailure {
		priority = event.PriorityHigh
	}
	ev := event.New(event.TypeStatus, priority, "safety", map[string]any{
		"result":         "remediation",
		"action":         actionName,
		"target":         target,
		"outcome":        string(outcome.Status),
		"error":          outcome.Err,
		"duration_ms":    outcome.Duration.Milliseconds(),
		"cooldown_until": outcome.CooldownUntil,
	})
	c.bus.Publish(ev.WithCorrelation(correlationID))
}

// Attempts returns a snapshot of the attempt table for the status API.
func (c *Controller) Attempts() []remediation.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]remediation.Attempt, 0, len(c.attempts))
	for _, rec := range c.attempts {
		out = append(out, *rec)
	}
	return out
}
