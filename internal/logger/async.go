package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// defaultQueueSize absorbs a burst of one noisy tick across the whole
// agent fleet before records start dropping.
const defaultQueueSize = 2048

// Closer flushes buffered log records on shutdown.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from hot paths such as bus
// dispatch and agent ticks: records queue on a buffered channel and a
// single drain goroutine writes them out. A full queue drops the
// record instead of blocking the caller.
type AsyncHandler struct {
	inner   slog.Handler
	ch      chan slog.Record
	done    chan struct{}
	dropped *atomic.Int64
}

// NewAsyncHandler wraps inner with a record queue of the given size.
// A size of zero or less uses defaultQueueSize.
func NewAsyncHandler(inner slog.Handler, queueSize int) *AsyncHandler {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	h := &AsyncHandler{
		inner:   inner,
		ch:      make(chan slog.Record, queueSize),
		done:    make(chan struct{}),
		dropped: &atomic.Int64{},
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	defer close(h.done)
	for rec := range h.ch {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.ch <- rec:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs shares the queue while wrapping a derived inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), ch: h.ch, done: h.done, dropped: h.dropped}
}

// WithGroup shares the queue while wrapping a derived inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), ch: h.ch, done: h.done, dropped: h.dropped}
}

// DroppedCount reports how many records the full queue discarded.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops accepting records and blocks until the queue is drained.
func (h *AsyncHandler) Close() {
	close(h.ch)
	<-h.done
}
