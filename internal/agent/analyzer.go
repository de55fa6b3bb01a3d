package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arbiterhq/sentinel/internal/bus"
	domagent "github.com/arbiterhq/sentinel/internal/domain/agent"
	dec "github.com/arbiterhq/sentinel/internal/domain/decision"
	"github.com/arbiterhq/sentinel/internal/domain/event"
	decport "github.com/arbiterhq/sentinel/internal/port/decision"
)

// Analyzer turns metric snapshots into recommendations. It consumes
// metric events off the bus, asks the decision provider what to do,
// and publishes an analysis event per cycle. The provider chain ends
// in a local fallback, so a cycle always yields an analysis even when
// the remote model is down.
type Analyzer struct {
	name     string
	bus      *bus.Bus
	provider decport.Provider
	log      *slog.Logger

	cancelSub func()

	mu      sync.Mutex
	pending *event.Event
}

// NewAnalyzer creates the analyzer agent and subscribes it to metric
// events.
func NewAnalyzer(name string, b *bus.Bus, provider decport.Provider, log *slog.Logger) *Analyzer {
	a := &Analyzer{
		name:     name,
		bus:      b,
		provider: provider,
		log:      log.With("agent", name),
	}
	a.cancelSub = b.Subscribe(name+".metrics", a.onMetric, event.TypeMetric)
	return a
}

func (a *Analyzer) Name() string        { return a.name }
func (a *Analyzer) Role() domagent.Role { return domagent.RoleAnalyzer }

func (a *Analyzer) Shutdown(context.Context) {
	if a.cancelSub != nil {
		a.cancelSub()
	}
}

// onMetric keeps only the latest snapshot. Analysis works on current
// state; stale samples are superseded, not queued.
func (a *Analyzer) onMetric(_ context.Context, ev event.Event) error {
	a.mu.Lock()
	a.pending = &ev
	a.mu.Unlock()
	return nil
}

// Tick analyzes the latest snapshot, if any arrived since the last
// cycle.
func (a *Analyzer) Tick(ctx context.Context) error {
	a.mu.Lock()
	snapshot := a.pending
	a.pending = nil
	a.mu.Unlock()
	if snapshot == nil {
		return nil
	}

	req := dec.Request{
		Kind:    "recommend_remediation",
		Context: analysisContext(snapshot.Payload),
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.Deadline = deadline
	}

	rec, err := a.provider.Decide(ctx, req)
	if err != nil {
		// The chain tail never fails; reaching here means the provider
		// was wired without a fallback.
		return err
	}

	priority := event.PriorityNormal
	if rec.Action != "" && rec.Action != "none" {
		priority = event.PriorityHigh
	}
	a.bus.Publish(event.New(event.TypeAnalysis, priority, a.name, map[string]any{
		"action":     rec.Action,
		"target":     rec.Target,
		"rationale":  rec.Rationale,
		"confidence": rec.Confidence,
		"provider":   rec.Source,
		"analyzed":   req.Context,
	}).WithCorrelation(snapshot.ID))

	a.log.Debug("analysis published",
		"action", rec.Action,
		"target", rec.Target,
		"provider", rec.Source)
	return nil
}

// analysisContext flattens a metric payload into the context shape the
// decision providers expect. The disk map reduces to its worst mount.
func analysisContext(payload map[string]any) map[string]any {
	ctx := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		if k == "disk_percent" {
			continue
		}
		ctx[k] = v
	}
	if disks, ok := payload["disk_percent"].(map[string]float64); ok {
		var worstPath string
		var worst float64
		for path, pct := range disks {
			if worstPath == "" || pct > worst {
				worstPath, worst = path, pct
			}
		}
		if worstPath != "" {
			ctx["disk_percent"] = worst
			ctx["disk_path"] = worstPath
		}
	}
	return ctx
}
