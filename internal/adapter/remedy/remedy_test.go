package remedy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/domain/event"
	"github.com/arbiterhq/sentinel/internal/port/action"
)

var (
	_ action.Executor = (*ServiceRestarter)(nil)
	_ action.Executor = (*DiskCleaner)(nil)
	_ action.Executor = (*OperatorNotifier)(nil)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServiceRestarterRunsSystemctl(t *testing.T) {
	r := NewServiceRestarter(discardLogger())

	var got []string
	r.run = func(_ context.Context, args ...string) error {
		got = args
		return nil
	}

	if err := r.Execute(context.Background(), "nginx"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(got) != 2 || got[0] != "restart" || got[1] != "nginx" {
		t.Fatalf("systemctl args = %v, want [restart nginx]", got)
	}
}

func TestServiceRestarterRejectsBadNames(t *testing.T) {
	r := NewServiceRestarter(discardLogger())
	r.run = func(context.Context, ...string) error {
		t.Fatal("run must not be called for invalid names")
		return nil
	}

	for _, target := range []string{"", "nginx; rm -rf /", "a b", "$(reboot)"} {
		if err := r.Execute(context.Background(), target); err == nil {
			t.Fatalf("expected error for target %q", target)
		}
	}
}

func TestServiceRestarterPropagatesFailure(t *testing.T) {
	r := NewServiceRestarter(discardLogger())
	wantErr := errors.New("unit not found")
	r.run = func(context.Context, ...string) error { return wantErr }

	if err := r.Execute(context.Background(), "ghost"); !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
}

func TestDiskCleanerRemovesOnlyOldFiles(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "stale.log")
	if err := os.WriteFile(oldFile, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	freshFile := filepath.Join(dir, "fresh.log")
	if err := os.WriteFile(freshFile, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	sub := filepath.Join(dir, "subdir")
	if err := os.Mkdir(sub, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Chtimes(sub, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	c := NewDiskCleaner([]string{dir}, 24*time.Hour, discardLogger())
	if err := c.Execute(context.Background(), "/"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if _, err := os.Stat(oldFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stale file should be removed")
	}
	if _, err := os.Stat(freshFile); err != nil {
		t.Fatal("fresh file should survive")
	}
	if _, err := os.Stat(sub); err != nil {
		t.Fatal("directories should survive")
	}
}

func TestDiskCleanerScopesToTarget(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "stale.log")
	if err := os.WriteFile(oldFile, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	c := NewDiskCleaner([]string{dir}, 24*time.Hour, discardLogger())

	// Target is a mount the temp dir does not live under.
	if err := c.Execute(context.Background(), "/nonexistent-mount"); err == nil {
		t.Fatal("expected error when no directory matches the target")
	}
	if _, err := os.Stat(oldFile); err != nil {
		t.Fatal("file outside the target must not be touched")
	}
}

func TestDiskCleanerErrorsWhenNothingReclaimed(t *testing.T) {
	c := NewDiskCleaner([]string{t.TempDir()}, 24*time.Hour, discardLogger())
	if err := c.Execute(context.Background(), "/"); err == nil {
		t.Fatal("expected error for empty sweep")
	}
}

func TestOperatorNotifierPublishesCoordination(t *testing.T) {
	b := bus.New(bus.Options{Logger: discardLogger()})
	defer func() { _ = b.Close(context.Background()) }()

	got := make(chan event.Event, 1)
	b.Subscribe("test.watch", func(_ context.Context, ev event.Event) error {
		select {
		case got <- ev:
		default:
		}
		return nil
	}, event.TypeCoordination)

	n := NewOperatorNotifier(b, discardLogger())
	if err := n.Execute(context.Background(), "db-host"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Source != SourceRemedy {
			t.Fatalf("source = %q, want %q", ev.Source, SourceRemedy)
		}
		if ev.Payload["reason"] != "operator_notification" || ev.Payload["target"] != "db-host" {
			t.Fatalf("unexpected payload: %v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coordination event")
	}
}
