// Package decision defines the request/result types for the decision boundary.
package decision

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Request carries the context an agent wants a recommendation for.
type Request struct {
	// Kind names the decision being asked for, e.g. "analyze_metrics"
	// or "recommend_remediation".
	Kind string

	// Context is the opaque situation payload (metric snapshot, alert
	// details). Providers decide how much of it to use.
	Context map[string]any

	// Deadline bounds the whole decision, including retries. Zero means
	// the caller's context deadline governs alone.
	Deadline time.Time
}

// Fingerprint returns a stable key for the request, used for caching.
// Map iteration order is normalized by sorting keys.
func (r Request) Fingerprint() string {
	keys := make([]string, 0, len(r.Context))
	for k := range r.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.Kind)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, r.Context[k])
	}
	return b.String()
}

// Recommendation is a successful decision.
type Recommendation struct {
	Action     string  `json:"action"`
	Target     string  `json:"target"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`

	// Source names the provider that produced the recommendation
	// ("llm", "rules", "cache").
	Source string `json:"source"`
}

// FailureKind classifies why a provider could not decide.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureUnavailable FailureKind = "unavailable"
	FailureMalformed   FailureKind = "malformed"
	FailureRateLimited FailureKind = "rate_limited"
)

// FailureError is a typed provider failure. Callers are expected to fall
// back rather than propagate it past the agent boundary.
type FailureError struct {
	Kind     FailureKind
	Provider string
	Err      error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decision %s (%s): %v", e.Kind, e.Provider, e.Err)
	}
	return fmt.Sprintf("decision %s (%s)", e.Kind, e.Provider)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Failure wraps err as a typed decision failure from the named provider.
func Failure(kind FailureKind, provider string, err error) error {
	return &FailureError{Kind: kind, Provider: provider, Err: err}
}

// KindOf returns the failure kind of err, or "" if err is not a decision failure.
func KindOf(err error) FailureKind {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
