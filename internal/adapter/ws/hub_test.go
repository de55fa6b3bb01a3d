package ws

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/domain/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHub(t *testing.T) {
	hub := NewHub(testLogger())
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub(testLogger())

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    MessageEvent,
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubAttachDetach(t *testing.T) {
	b := bus.New(bus.Options{QueueSize: 16, HistorySize: 16, Logger: testLogger()})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Close(ctx)
	}()

	hub := NewHub(testLogger())
	hub.Attach(b)

	// Events flowing with no clients connected must not panic.
	b.Publish(event.New(event.TypeStatus, event.PriorityNormal, "test", map[string]any{"ok": true}))

	hub.Detach()
	hub.Detach() // idempotent
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub(testLogger())

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}
