package bus

import (
	"sync"

	"github.com/arbiterhq/sentinel/internal/domain/event"
)

// history is a fixed-capacity ring buffer of recently published events.
// Oldest entries are evicted first.
type history struct {
	mu    sync.Mutex
	buf   []event.Event
	next  int
	count int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]event.Event, capacity)}
}

func (h *history) add(ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = ev
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// recent returns up to limit retained events, newest first. When types is
// non-empty only matching events are returned.
func (h *history) recent(limit int, types ...event.Type) []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	match := func(ev event.Event) bool {
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if ev.Type == t {
				return true
			}
		}
		return false
	}

	out := make([]event.Event, 0, limit)
	for i := 1; i <= h.count && len(out) < limit; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		if ev := h.buf[idx]; match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *history) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
