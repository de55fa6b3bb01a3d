package decision

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/domain/event"
)

// Prober reports whether the remote decision source answers at all.
// The LLM client implements it with a cheap liveness request.
type Prober interface {
	Probe(ctx context.Context) error
}

// Availability is the process-wide "external source unavailable" flag.
// Consecutive remote failures trip it; only the health-probe loop clears
// it, so there is a single writer for the downward transition and agents
// only ever read.
type Availability struct {
	unavailable atomic.Bool
	consecutive atomic.Int32
	tripAfter   int32
	bus         *bus.Bus
	log         *slog.Logger
}

// NewAvailability creates the flag. tripAfter is the number of consecutive
// failures that marks the source unavailable.
func NewAvailability(tripAfter int, b *bus.Bus, log *slog.Logger) *Availability {
	if log == nil {
		log = slog.Default()
	}
	return &Availability{
		tripAfter: int32(tripAfter),
		bus:       b,
		log:       log,
	}
}

// Available reports whether remote providers should be called.
func (a *Availability) Available() bool { return !a.unavailable.Load() }

// RecordSuccess resets the failure streak.
func (a *Availability) RecordSuccess() {
	a.consecutive.Store(0)
}

// RecordFailure counts a remote failure and trips the flag when the
// streak reaches the threshold.
func (a *Availability) RecordFailure() {
	streak := a.consecutive.Add(1)
	if streak >= a.tripAfter && a.unavailable.CompareAndSwap(false, true) {
		a.log.Warn("external decision source marked unavailable", "consecutive_failures", streak)
		a.announce("unavailable")
	}
}

// clear is called by the probe loop once the source answers again.
func (a *Availability) clear() {
	if a.unavailable.CompareAndSwap(true, false) {
		a.consecutive.Store(0)
		a.log.Info("external decision source available again")
		a.announce("available")
	}
}

func (a *Availability) announce(state string) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(event.New(event.TypeCoordination, event.PriorityHigh, "decision", map[string]any{
		"external_source": state,
	}))
}

// RunProbe drives the health probe that clears the flag. It only issues
// probes while the flag is tripped, so a healthy source costs nothing.
// Blocks until ctx is done.
func (a *Availability) RunProbe(ctx context.Context, prober Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.Available() {
				continue
			}
			if err := prober.Probe(ctx); err != nil {
				a.log.Debug("availability probe failed", "error", err)
				continue
			}
			a.clear()
		}
	}
}
