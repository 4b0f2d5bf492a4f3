package connpool

import "errors"

// Domain-specific errors for pub/sub connection operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotReady is returned when publishing against a connection that is
	// not in the Ready state. The caller decides whether to retry.
	ErrNotReady = errors.New("connpool: connection not ready")

	// ErrUnknownDevice is returned when no connection exists for a device id.
	ErrUnknownDevice = errors.New("connpool: unknown device")

	// ErrPublishFailed is returned when the transport rejects a publish.
	ErrPublishFailed = errors.New("connpool: publish failed")

	// ErrClosed is returned for operations against a shut-down pool.
	ErrClosed = errors.New("connpool: pool closed")
)
