package bus

import (
	"container/heap"
	"sync"

	"github.com/arbiterhq/sentinel/internal/domain/event"
)

// item is one queued event with its arrival sequence number.
type item struct {
	ev  event.Event
	seq uint64
}

// eventHeap orders items by priority (lower value first), then arrival.
type eventHeap []item

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].ev.Priority != h[j].ev.Priority {
		return h[i].ev.Priority < h[j].ev.Priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// pqueue is a bounded priority queue feeding one subscriber's dispatch
// goroutine. When full, the least urgent newest item is evicted so the
// publisher never blocks.
type pqueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   eventHeap
	cap    int
	seq    uint64
	closed bool
}

func newPQueue(capacity int) *pqueue {
	q := &pqueue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues ev. It never blocks. The second return is the event that
// was evicted to make room, if any; ok is false when ev itself was the
// least urgent and dropped instead.
func (q *pqueue) push(ev event.Event) (dropped *event.Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}

	q.seq++
	it := item{ev: ev, seq: q.seq}

	if len(q.heap) >= q.cap {
		worst := q.worstIndex()
		w := q.heap[worst]
		// The incoming event loses the comparison when it is no more
		// urgent than the current worst entry.
		if ev.Priority >= w.ev.Priority {
			return &ev, false
		}
		evicted := w.ev
		heap.Remove(&q.heap, worst)
		heap.Push(&q.heap, it)
		q.cond.Signal()
		return &evicted, true
	}

	heap.Push(&q.heap, it)
	q.cond.Signal()
	return nil, true
}

// worstIndex returns the index of the least urgent, most recently arrived
// item. Must be called with q.mu held and a non-empty heap.
func (q *pqueue) worstIndex() int {
	worst := 0
	for i := 1; i < len(q.heap); i++ {
		a, b := q.heap[i], q.heap[worst]
		if a.ev.Priority > b.ev.Priority ||
			(a.ev.Priority == b.ev.Priority && a.seq > b.seq) {
			worst = i
		}
	}
	return worst
}

// pop blocks until an event is available or the queue is closed.
func (q *pqueue) pop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return event.Event{}, false
	}
	it := heap.Pop(&q.heap).(item)
	return it.ev, true
}

// close wakes the dispatcher; pending events are still drained by pop.
func (q *pqueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *pqueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
