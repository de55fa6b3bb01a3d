// Package decision implements the decision chain: remote providers tried
// in configured order with a deterministic rule-based fallback, guarded by
// an availability flag and a result cache.
package decision

import (
	"context"
	"fmt"

	"github.com/arbiterhq/sentinel/internal/config"
	dec "github.com/arbiterhq/sentinel/internal/domain/decision"
)

// RulesProvider maps known thresholds to recommendations deterministically.
// It never fails, which makes it the guaranteed tail of every chain.
type RulesProvider struct {
	thresholds config.Thresholds
}

// NewRulesProvider creates the rule-based fallback provider.
func NewRulesProvider(thresholds config.Thresholds) *RulesProvider {
	return &RulesProvider{thresholds: thresholds}
}

// Name implements the provider port.
func (p *RulesProvider) Name() string { return "rules" }

// Decide applies the threshold table to the request context. The most
// severe breach wins; a clean snapshot yields a no-op recommendation.
func (p *RulesProvider) Decide(_ context.Context, req dec.Request) (dec.Recommendation, error) {
	type candidate struct {
		rec  dec.Recommendation
		rank int // lower wins
	}
	var best *candidate

	consider := func(rank int, rec dec.Recommendation) {
		if best == nil || rank < best.rank {
			best = &candidate{rec: rec, rank: rank}
		}
	}

	if services, ok := req.Context["services_down"].([]string); ok && len(services) > 0 {
		consider(0, dec.Recommendation{
			Action:     "restartService",
			Target:     services[0],
			Rationale:  fmt.Sprintf("service %s is not running", services[0]),
			Confidence: 0.9,
		})
	}

	if cpu, ok := asFloat(req.Context["cpu_percent"]); ok {
		switch {
		case cpu >= p.thresholds.CPUCritical:
			consider(1, dec.Recommendation{
				Action:     "restartService",
				Target:     topConsumer(req.Context),
				Rationale:  fmt.Sprintf("cpu %.1f%% exceeds critical threshold %.1f%%", cpu, p.thresholds.CPUCritical),
				Confidence: 0.8,
			})
		case cpu >= p.thresholds.CPUWarning:
			consider(4, dec.Recommendation{
				Action:     "notifyOperator",
				Target:     "cpu",
				Rationale:  fmt.Sprintf("cpu %.1f%% exceeds warning threshold %.1f%%", cpu, p.thresholds.CPUWarning),
				Confidence: 0.7,
			})
		}
	}

	if mem, ok := asFloat(req.Context["memory_percent"]); ok {
		switch {
		case mem >= p.thresholds.MemoryCritical:
			consider(2, dec.Recommendation{
				Action:     "restartService",
				Target:     topConsumer(req.Context),
				Rationale:  fmt.Sprintf("memory %.1f%% exceeds critical threshold %.1f%%", mem, p.thresholds.MemoryCritical),
				Confidence: 0.8,
			})
		case mem >= p.thresholds.MemoryWarning:
			consider(5, dec.Recommendation{
				Action:     "notifyOperator",
				Target:     "memory",
				Rationale:  fmt.Sprintf("memory %.1f%% exceeds warning threshold %.1f%%", mem, p.thresholds.MemoryWarning),
				Confidence: 0.7,
			})
		}
	}

	if disk, ok := asFloat(req.Context["disk_percent"]); ok {
		path, _ := req.Context["disk_path"].(string)
		if path == "" {
			path = "/"
		}
		switch {
		case disk >= p.thresholds.DiskCritical:
			consider(3, dec.Recommendation{
				Action:     "cleanupDisk",
				Target:     path,
				Rationale:  fmt.Sprintf("disk %.1f%% on %s exceeds critical threshold %.1f%%", disk, path, p.thresholds.DiskCritical),
				Confidence: 0.85,
			})
		case disk >= p.thresholds.DiskWarning:
			consider(6, dec.Recommendation{
				Action:     "notifyOperator",
				Target:     path,
				Rationale:  fmt.Sprintf("disk %.1f%% on %s exceeds warning threshold %.1f%%", disk, path, p.thresholds.DiskWarning),
				Confidence: 0.7,
			})
		}
	}

	if best == nil {
		return dec.Recommendation{
			Action:     "none",
			Rationale:  "all metrics within thresholds",
			Confidence: 1.0,
			Source:     p.Name(),
		}, nil
	}

	rec := best.rec
	rec.Source = p.Name()
	return rec, nil
}

func topConsumer(ctx map[string]any) string {
	if proc, ok := ctx["top_process"].(string); ok && proc != "" {
		return proc
	}
	return "unknown"
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
