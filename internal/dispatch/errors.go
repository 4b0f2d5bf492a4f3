package dispatch

import "errors"

// Domain-specific errors for command dispatch.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a request names a device id that
	// is not in the known set. Not retryable.
	ErrDeviceNotFound = errors.New("dispatch: device not found")

	// ErrInvalidRequest is returned for malformed requests (unknown
	// action, non-positive area number).
	ErrInvalidRequest = errors.New("dispatch: invalid request")
)
