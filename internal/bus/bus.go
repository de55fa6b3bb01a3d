// Package bus implements the in-process priority message bus that carries
// all inter-agent events. Publish never blocks the publisher; each
// subscriber gets an independent bounded queue and dispatch goroutine, so
// a slow handler cannot stall the rest of the system.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arbiterhq/sentinel/internal/domain/event"
)

// SourceBus marks diagnostic events emitted by the bus itself.
const SourceBus = "bus"

// Handler processes one delivered event. A returned error (or a panic) is
// contained to the handler's own dispatch and surfaced as a diagnostic
// event; it never reaches the publisher or other subscribers.
type Handler func(ctx context.Context, ev event.Event) error

// Options configures a Bus.
type Options struct {
	QueueSize   int // per-subscriber queue bound
	HistorySize int // retained event count
	Logger      *slog.Logger
}

type subscription struct {
	name    string
	types   map[event.Type]struct{}
	all     bool
	handler Handler
	queue   *pqueue
	done    chan struct{}
}

func (s *subscription) wants(t event.Type) bool {
	if s.all {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is the in-process publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool

	queueSize int
	history   *history
	log       *slog.Logger
	baseCtx   context.Context
	cancel    context.CancelFunc

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	faults    atomic.Int64
}

// New creates a started Bus.
func New(opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		queueSize: opts.QueueSize,
		history:   newHistory(opts.HistorySize),
		log:       opts.Logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Publish enqueues ev for every subscriber of its type and returns
// immediately. Events published after Close are silently discarded.
func (b *Bus) Publish(ev event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)
	b.history.add(ev)

	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		if dropped, _ := sub.queue.push(ev); dropped != nil {
			b.dropped.Add(1)
			b.log.Warn("subscriber queue overflow",
				"subscriber", sub.name,
				"dropped_event", dropped.ID,
				"dropped_type", dropped.Type,
			)
			b.publishDropDiagnostic(sub.name, *dropped)
		}
	}
}

// publishDropDiagnostic surfaces a queue drop as a low-priority event.
// Best-effort: under sustained overload the diagnostic itself may be
// dropped, and drops of bus-originated events are not re-reported.
func (b *Bus) publishDropDiagnostic(subscriber string, dropped event.Event) {
	if dropped.Source == SourceBus {
		return
	}
	diag := event.New(event.TypeStatus, event.PriorityLow, SourceBus, map[string]any{
		"diagnostic":   "event_dropped",
		"subscriber":   subscriber,
		"dropped_id":   dropped.ID,
		"dropped_type": string(dropped.Type),
		"dropped_prio": int(dropped.Priority),
		"dropped_from": dropped.Source,
	})
	b.history.add(diag)
	for _, sub := range b.subs {
		if !sub.wants(diag.Type) {
			continue
		}
		if d, _ := sub.queue.push(diag); d != nil {
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers handler for the given event types and starts its
// dispatch goroutine. Passing event.TypeWildcard (or no types) delivers
// every event. The returned cancel detaches the subscriber and waits for
// its dispatcher to finish.
func (b *Bus) Subscribe(name string, handler Handler, types ...event.Type) (cancel func()) {
	sub := &subscription{
		name:    name,
		types:   make(map[event.Type]struct{}, len(types)),
		handler: handler,
		queue:   newPQueue(b.queueSize),
		done:    make(chan struct{}),
	}
	if len(types) == 0 {
		sub.all = true
	}
	for _, t := range types {
		if t == event.TypeWildcard {
			sub.all = true
			continue
		}
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.dispatch(sub)

	return func() { b.unsubscribe(sub) }
}

func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.queue.close()
	<-sub.done
}

// dispatch is the per-subscriber delivery loop. Delivery order respects
// priority, then arrival, because the queue is a priority heap.
func (b *Bus) dispatch(sub *subscription) {
	defer close(sub.done)
	for {
		ev, ok := sub.queue.pop()
		if !ok {
			return
		}
		b.deliver(sub, ev)
	}
}

// deliver invokes the handler with panic and error isolation.
func (b *Bus) deliver(sub *subscription, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerFault(sub, ev, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := sub.handler(b.baseCtx, ev); err != nil {
		b.handlerFault(sub, ev, err)
		return
	}
	b.delivered.Add(1)
}

func (b *Bus) handlerFault(sub *subscription, ev event.Event, err error) {
	b.faults.Add(1)
	b.log.Error("handler failed",
		"subscriber", sub.name,
		"event_id", ev.ID,
		"event_type", ev.Type,
		"error", err,
	)
	if ev.Source == SourceBus {
		return
	}
	b.Publish(event.New(event.TypeStatus, event.PriorityLow, SourceBus, map[string]any{
		"diagnostic": "handler_fault",
		"subscriber": sub.name,
		"event_id":   ev.ID,
		"error":      err.Error(),
	}))
}

// History returns up to limit retained events, newest first, optionally
// filtered by type.
func (b *Bus) History(limit int, types ...event.Type) []event.Event {
	return b.history.recent(limit, types...)
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Published   int64          `json:"published"`
	Delivered   int64          `json:"delivered"`
	Dropped     int64          `json:"dropped"`
	Faults      int64          `json:"handler_faults"`
	HistorySize int            `json:"history_size"`
	QueueDepths map[string]int `json:"queue_depths"`
}

// Stats returns current counters and per-subscriber queue depths.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	depths := make(map[string]int, len(b.subs))
	for _, sub := range b.subs {
		depths[sub.name] = sub.queue.depth()
	}
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Faults:      b.faults.Load(),
		HistorySize: b.history.size(),
		QueueDepths: depths,
	}
}

// Close stops accepting publishes, drains subscriber queues and waits for
// dispatchers to finish or ctx to expire.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.queue.close()
	}

	done := make(chan struct{})
	go func() {
		for _, sub := range subs {
			<-sub.done
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.cancel()
		return fmt.Errorf("bus close: %w", ctx.Err())
	}
	b.cancel()
	return nil
}
