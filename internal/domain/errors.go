// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrShuttingDown indicates the component rejected work because shutdown is in progress.
var ErrShuttingDown = errors.New("shutting down")

// ErrConfiguration indicates invalid wiring detected at startup.
// It is the only error class allowed to abort process start.
var ErrConfiguration = errors.New("invalid configuration")
