// Package agent implements the supervised agent loop and the four
// concrete roles that cooperate over the bus: sensor, analyzer,
// remediator and communicator.
package agent

import (
	"context"
	"errors"

	domagent "github.com/arbiterhq/sentinel/internal/domain/agent"
)

// Agent is one unit of periodic work. Tick performs a single check
// cycle and must respect the context deadline. Shutdown releases any
// resources the agent holds; it is called once, after the loop exits.
type Agent interface {
	Name() string
	Role() domagent.Role
	Tick(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// ErrRestartRequested is returned by a runner whose agent received a
// restart command. The supervisor restarts the agent through its
// normal path, without counting it against the restart ceiling.
var ErrRestartRequested = errors.New("restart requested")
