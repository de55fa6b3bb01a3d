// Package decision defines the port for external decision sources.
package decision

import (
	"context"

	dec "github.com/arbiterhq/sentinel/internal/domain/decision"
)

// Provider produces an action recommendation for a request.
// Implementations must respect ctx and the request deadline and surface
// failures as *decision.FailureError; they must never hang indefinitely.
type Provider interface {
	// Name identifies the provider in logs, events and chain config.
	Name() string

	// Decide returns a recommendation or a typed failure.
	Decide(ctx context.Context, req dec.Request) (dec.Recommendation, error)
}
