// Package remedy provides the built-in remediation executors registered
// under the action names the rules and decision providers recommend.
package remedy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/domain/event"
)

// SourceRemedy marks events published by the executors.
const SourceRemedy = "remedy"

// unitName restricts service targets to plain systemd unit names.
var unitName = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

// ServiceRestarter restarts a systemd unit.
type ServiceRestarter struct {
	log *slog.Logger

	run func(ctx context.Context, args ...string) error
}

// NewServiceRestarter creates the restartService executor.
func NewServiceRestarter(log *slog.Logger) *ServiceRestarter {
	return &ServiceRestarter{
		log: log,
		run: func(ctx context.Context, args ...string) error {
			out, err := exec.CommandContext(ctx, "systemctl", args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
}

// Execute restarts the unit named by target.
func (r *ServiceRestarter) Execute(ctx context.Context, target string) error {
	if target == "" || !unitName.MatchString(target) {
		return fmt.Errorf("invalid service name %q", target)
	}

	r.log.Info("restarting service", "service", target)
	if err := r.run(ctx, "restart", target); err != nil {
		return err
	}
	r.log.Info("service restarted", "service", target)
	return nil
}

// DiskCleaner frees disk space by deleting regular files older than
// maxAge from the configured temp directories.
type DiskCleaner struct {
	dirs   []string
	maxAge time.Duration
	log    *slog.Logger
}

// NewDiskCleaner creates the cleanupDisk executor. When dirs is empty
// the usual temp locations are used.
func NewDiskCleaner(dirs []string, maxAge time.Duration, log *slog.Logger) *DiskCleaner {
	if len(dirs) == 0 {
		dirs = []string{os.TempDir(), "/var/tmp"}
	}
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &DiskCleaner{dirs: dirs, maxAge: maxAge, log: log}
}

// Execute sweeps the temp directories. When target names a mount point,
// only directories under it are swept; an empty or "/" target sweeps all.
func (c *DiskCleaner) Execute(ctx context.Context, target string) error {
	cutoff := time.Now().Add(-c.maxAge)
	var removed int
	var freed int64

	for _, dir := range c.dirs {
		if target != "" && target != "/" && !strings.HasPrefix(dir, target) {
			continue
		}
		n, bytes, err := sweepDir(ctx, dir, cutoff)
		if err != nil {
			c.log.Warn("cleanup sweep failed", "dir", dir, "error", err)
			continue
		}
		removed += n
		freed += bytes
	}

	c.log.Info("disk cleanup finished", "target", target, "files_removed", removed, "bytes_freed", freed)
	if removed == 0 {
		return fmt.Errorf("no reclaimable files under %q", target)
	}
	return nil
}

func sweepDir(ctx context.Context, dir string, cutoff time.Time) (int, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	var removed int
	var freed int64
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, freed, ctx.Err()
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			continue
		}
		removed++
		freed += info.Size()
	}
	return removed, freed, nil
}

// OperatorNotifier escalates to a human by publishing a Coordination
// event. Channels like mail or chat hang off a bus subscriber, so the
// kernel itself stays transport-free.
type OperatorNotifier struct {
	bus *bus.Bus
	log *slog.Logger
}

// NewOperatorNotifier creates the notifyOperator executor.
func NewOperatorNotifier(b *bus.Bus, log *slog.Logger) *OperatorNotifier {
	return &OperatorNotifier{bus: b, log: log}
}

// Execute publishes the notification event.
func (n *OperatorNotifier) Execute(ctx context.Context, target string) error {
	_ = ctx
	ev := event.New(event.TypeCoordination, event.PriorityHigh, SourceRemedy, map[string]any{
		"reason": "operator_notification",
		"target": target,
	})
	n.bus.Publish(ev)
	n.log.Info("operator notified", "target", target, "event_id", ev.ID)
	return nil
}
