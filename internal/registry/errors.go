package registry

import "errors"

// Domain-specific errors for inventory registration.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRequestFailed is returned when an inventory call fails on the
	// wire or with a non-success status.
	ErrRequestFailed = errors.New("registry: request failed")

	// ErrNotFound is returned when a lookup finds no match.
	ErrNotFound = errors.New("registry: not found")
)
