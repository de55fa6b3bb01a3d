package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/arbiterhq/sentinel/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSyncCloserIsNoop(t *testing.T) {
	log, closer := New(config.Logging{Level: "info", Service: "test"})
	if log == nil {
		t.Fatal("expected logger")
	}
	closer.Close() // must not panic or block
}

func TestAsyncHandlerDeliversRecords(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	h := NewAsyncHandler(inner, 16)
	log := slog.New(h)

	log.Info("hello", "k", "v")
	h.Close()

	if !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Fatalf("expected record in output, got %q", buf.String())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	inner := &blockingHandler{release: blocked}
	h := NewAsyncHandler(inner, 1)

	rec := slog.Record{}
	// First record occupies the drain goroutine, second fills the
	// queue, everything after is dropped.
	for range 10 {
		_ = h.Handle(context.Background(), rec)
	}
	if h.DroppedCount() == 0 {
		t.Error("expected dropped records")
	}
	close(blocked)
	h.Close()
}

func TestAsyncHandlerDefaultQueueSize(t *testing.T) {
	h := NewAsyncHandler(slog.NewJSONHandler(bytes.NewBuffer(nil), nil), 0)
	defer h.Close()
	if got := cap(h.ch); got != defaultQueueSize {
		t.Fatalf("queue capacity = %d, want %d", got, defaultQueueSize)
	}
}

type blockingHandler struct {
	release chan struct{}
}

func (b *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (b *blockingHandler) Handle(context.Context, slog.Record) error {
	<-b.release
	return nil
}

func (b *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b *blockingHandler) WithGroup(string) slog.Handler      { return b }

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("expected req-1, got %q", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestFromContextAttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithRequestID(context.Background(), "req-42")
	FromContext(ctx, base).Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req-42"`)) {
		t.Fatalf("request_id missing from output: %q", buf.String())
	}

	buf.Reset()
	FromContext(context.Background(), base).Info("hello")
	if bytes.Contains(buf.Bytes(), []byte("request_id")) {
		t.Fatalf("unexpected request_id in output: %q", buf.String())
	}
}
