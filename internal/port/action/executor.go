// Package action defines the port for remediation action executors and
// the startup-time registry mapping action names to implementations.
package action

import (
	"context"
	"fmt"
	"sort"

	"github.com/arbiterhq/sentinel/internal/domain"
)

// Executor performs one kind of remediation step against a target.
// Execute must respect ctx; the safety controller imposes its own timeout.
type Executor interface {
	Execute(ctx context.Context, target string) error
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, target string) error

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, target string) error { return f(ctx, target) }

// Registry maps action names to executors. It is populated at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under the given action name.
// Registering the same name twice is a configuration error.
func (r *Registry) Register(name string, ex Executor) error {
	if _, dup := r.executors[name]; dup {
		return fmt.Errorf("%w: action %q registered twice", domain.ErrConfiguration, name)
	}
	r.executors[name] = ex
	return nil
}

// Lookup returns the executor for an action name.
func (r *Registry) Lookup(name string) (Executor, bool) {
	ex, ok := r.executors[name]
	return ex, ok
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify checks that every name in required is registered. Used at startup
// to fail fast on config that references unknown actions.
func (r *Registry) Verify(required []string) error {
	for _, name := range required {
		if _, ok := r.executors[name]; !ok {
			return fmt.Errorf("%w: unknown action %q", domain.ErrConfiguration, name)
		}
	}
	return nil
}
