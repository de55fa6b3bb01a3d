package host

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/arbiterhq/sentinel/internal/config"
)

func writeProc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newTestSource(t *testing.T, cfg config.Monitor) *Source {
	t.Helper()
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.procPath = t.TempDir()
	return s
}

func TestCollectComputesCPUDelta(t *testing.T) {
	s := newTestSource(t, config.Monitor{})

	// 1000 total jiffies, 800 idle.
	writeProc(t, s.procPath, "stat", "cpu  100 0 100 700 100 0 0 0 0 0\n")
	writeProc(t, s.procPath, "meminfo", "MemTotal: 1000 kB\nMemAvailable: 600 kB\n")

	sample, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if math.Abs(sample.CPUPercent-20) > 0.01 {
		t.Fatalf("first sample cpu = %.2f, want 20", sample.CPUPercent)
	}
	if math.Abs(sample.MemoryPercent-40) > 0.01 {
		t.Fatalf("memory = %.2f, want 40", sample.MemoryPercent)
	}

	// +100 jiffies, 10 of them idle: 90% busy over the interval.
	writeProc(t, s.procPath, "stat", "cpu  190 0 100 710 100 0 0 0 0 0\n")

	sample, err = s.Collect(context.Background())
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if math.Abs(sample.CPUPercent-90) > 0.01 {
		t.Fatalf("delta cpu = %.2f, want 90", sample.CPUPercent)
	}
}

func TestCollectDiskUsage(t *testing.T) {
	s := newTestSource(t, config.Monitor{Mounts: []string{"/", "/var"}})
	writeProc(t, s.procPath, "stat", "cpu  10 0 10 80 0 0 0 0\n")
	writeProc(t, s.procPath, "meminfo", "MemTotal: 1000 kB\nMemAvailable: 500 kB\n")

	s.statfs = func(path string, st *syscall.Statfs_t) error {
		switch path {
		case "/":
			st.Blocks, st.Bfree, st.Bavail = 1000, 500, 400
		case "/var":
			st.Blocks, st.Bfree, st.Bavail = 1000, 100, 50
		}
		return nil
	}

	sample, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	// used=500, avail=400: 500/900.
	if got := sample.DiskPercent["/"]; math.Abs(got-55.55) > 0.1 {
		t.Fatalf("disk / = %.2f, want ~55.55", got)
	}
	// used=900, avail=50: 900/950.
	if got := sample.DiskPercent["/var"]; math.Abs(got-94.73) > 0.1 {
		t.Fatalf("disk /var = %.2f, want ~94.73", got)
	}
}

func TestCollectReportsDownServices(t *testing.T) {
	s := newTestSource(t, config.Monitor{Services: []string{"nginx", "postgres", "redis"}})
	writeProc(t, s.procPath, "stat", "cpu  10 0 10 80 0 0 0 0\n")
	writeProc(t, s.procPath, "meminfo", "MemTotal: 1000 kB\nMemAvailable: 500 kB\n")

	s.serviceUp = func(_ context.Context, name string) bool {
		return name != "postgres"
	}

	sample, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(sample.ServicesDown) != 1 || sample.ServicesDown[0] != "postgres" {
		t.Fatalf("services down = %v, want [postgres]", sample.ServicesDown)
	}
}

func TestCollectFailsWithoutProcStat(t *testing.T) {
	s := newTestSource(t, config.Monitor{})
	if _, err := s.Collect(context.Background()); err == nil {
		t.Fatal("expected error when proc stat is missing")
	}
}
