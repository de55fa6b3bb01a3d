// Package host implements the metric source port against the local
// Linux host: /proc for CPU and memory, statfs for disk usage and
// systemd for service liveness.
package host

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/arbiterhq/sentinel/internal/config"
	"github.com/arbiterhq/sentinel/internal/port/metric"
)

const defaultProcPath = "/proc"

// Source samples the local host. CPU usage is computed as the delta
// between consecutive /proc/stat readings, so the first Collect after
// startup reports usage since boot.
type Source struct {
	mounts   []string
	services []string
	procPath string
	log      *slog.Logger

	mu   sync.Mutex
	prev cpuCounters

	statfs    func(path string, st *syscall.Statfs_t) error
	serviceUp func(ctx context.Context, name string) bool
}

var _ metric.Source = (*Source)(nil)

// New creates a Source watching the mounts and services named in cfg.
func New(cfg config.Monitor, log *slog.Logger) *Source {
	return &Source{
		mounts:    cfg.Mounts,
		services:  cfg.Services,
		procPath:  defaultProcPath,
		log:       log,
		statfs:    syscall.Statfs,
		serviceUp: systemdUnitActive,
	}
}

// Collect implements metric.Source.
func (s *Source) Collect(ctx context.Context) (metric.Sample, error) {
	cpu, err := s.cpuPercent()
	if err != nil {
		return metric.Sample{}, fmt.Errorf("cpu: %w", err)
	}

	mem, err := s.memoryPercent()
	if err != nil {
		return metric.Sample{}, fmt.Errorf("memory: %w", err)
	}

	disk := make(map[string]float64, len(s.mounts))
	for _, mount := range s.mounts {
		var st syscall.Statfs_t
		if err := s.statfs(mount, &st); err != nil {
			s.log.Warn("statfs failed, skipping mount", "mount", mount, "error", err)
			continue
		}
		used := st.Blocks - st.Bfree
		if total := used + st.Bavail; total > 0 {
			disk[mount] = 100 * float64(used) / float64(total)
		}
	}

	var down []string
	for _, svc := range s.services {
		if ctx.Err() != nil {
			return metric.Sample{}, ctx.Err()
		}
		if !s.serviceUp(ctx, svc) {
			down = append(down, svc)
		}
	}

	return metric.Sample{
		CPUPercent:    cpu,
		MemoryPercent: mem,
		DiskPercent:   disk,
		ServicesDown:  down,
	}, nil
}

type cpuCounters struct {
	idle  uint64
	total uint64
}

func (s *Source) cpuPercent() (float64, error) {
	cur, err := readCPUCounters(s.procPath + "/stat")
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	prev := s.prev
	s.prev = cur
	s.mu.Unlock()

	dTotal := cur.total - prev.total
	dIdle := cur.idle - prev.idle
	if dTotal == 0 {
		return 0, nil
	}
	return 100 * (1 - float64(dIdle)/float64(dTotal)), nil
}

// readCPUCounters parses the aggregate "cpu" line of /proc/stat.
// Fields: user nice system idle iowait irq softirq steal.
func readCPUCounters(path string) (cpuCounters, error) {
	f, err := os.Open(path) //nolint:gosec // G304: fixed proc path
	if err != nil {
		return cpuCounters{}, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[0] != "cpu" {
			continue
		}
		var c cpuCounters
		for i, raw := range fields[1:8] {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return cpuCounters{}, fmt.Errorf("parse cpu field %d: %w", i, err)
			}
			c.total += v
			if i == 3 || i == 4 { // idle, iowait
				c.idle += v
			}
		}
		return c, nil
	}
	if err := scanner.Err(); err != nil {
		return cpuCounters{}, err
	}
	return cpuCounters{}, fmt.Errorf("no cpu line in %s", path)
}

func (s *Source) memoryPercent() (float64, error) {
	f, err := os.Open(s.procPath + "/meminfo") //nolint:gosec // G304: fixed proc path
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	var total, available uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
		if total > 0 && available > 0 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("no MemTotal in meminfo")
	}
	return 100 * (1 - float64(available)/float64(total)), nil
}

func systemdUnitActive(ctx context.Context, name string) bool {
	return exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", name).Run() == nil
}
