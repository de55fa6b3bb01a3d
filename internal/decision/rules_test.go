package decision

import (
	"context"
	"testing"

	"github.com/arbiterhq/sentinel/internal/config"
	dec "github.com/arbiterhq/sentinel/internal/domain/decision"
)

func TestRulesProviderDeterministic(t *testing.T) {
	p := NewRulesProvider(config.Defaults().Thresholds)

	tests := []struct {
		name       string
		ctx        map[string]any
		wantAction string
		wantTarget string
	}{
		{
			name:       "cpu critical restarts top process",
			ctx:        map[string]any{"cpu_percent": 95.0, "top_process": "chrome"},
			wantAction: "restartService",
			wantTarget: "chrome",
		},
		{
			name:       "cpu warning notifies",
			ctx:        map[string]any{"cpu_percent": 80.0},
			wantAction: "notifyOperator",
			wantTarget: "cpu",
		},
		{
			name:       "disk critical cleans up",
			ctx:        map[string]any{"disk_percent": 97.0, "disk_path": "/var"},
			wantAction: "cleanupDisk",
			wantTarget: "/var",
		},
		{
			name:       "memory warning notifies",
			ctx:        map[string]any{"memory_percent": 88.0},
			wantAction: "notifyOperator",
			wantTarget: "memory",
		},
		{
			name:       "down service outranks cpu",
			ctx:        map[string]any{"cpu_percent": 99.0, "services_down": []string{"postgres"}},
			wantAction: "restartService",
			wantTarget: "postgres",
		},
		{
			name:       "healthy snapshot is a no-op",
			ctx:        map[string]any{"cpu_percent": 10.0, "memory_percent": 20.0},
			wantAction: "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Decide(context.Background(), dec.Request{Kind: "analyze", Context: tt.ctx})
			if err != nil {
				t.Fatalf("rules provider must never fail: %v", err)
			}
			if rec.Action != tt.wantAction {
				t.Fatalf("action = %q, want %q (%+v)", rec.Action, tt.wantAction, rec)
			}
			if tt.wantTarget != "" && rec.Target != tt.wantTarget {
				t.Fatalf("target = %q, want %q", rec.Target, tt.wantTarget)
			}
			if rec.Source != "rules" {
				t.Fatalf("source = %q, want rules", rec.Source)
			}
		})
	}
}

func TestRulesProviderIsDeterministicAcrossCalls(t *testing.T) {
	p := NewRulesProvider(config.Defaults().Thresholds)
	req := dec.Request{Kind: "analyze", Context: map[string]any{"cpu_percent": 95.0, "top_process": "svcA"}}

	first, _ := p.Decide(context.Background(), req)
	second, _ := p.Decide(context.Background(), req)
	if first != second {
		t.Fatalf("expected identical recommendations, got %+v vs %+v", first, second)
	}
}

func TestRequestFingerprintStable(t *testing.T) {
	a := dec.Request{Kind: "k", Context: map[string]any{"x": 1, "y": 2}}
	b := dec.Request{Kind: "k", Context: map[string]any{"y": 2, "x": 1}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("fingerprint must not depend on map order")
	}

	c := dec.Request{Kind: "k", Context: map[string]any{"x": 1, "y": 3}}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("different contexts must not collide")
	}
}
