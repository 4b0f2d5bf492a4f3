package cloud

import "errors"

// Domain-specific errors for vendor API operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthFailed is returned when credentials or a refresh token are
	// rejected by the vendor (HTTP 400/401/403 on an auth endpoint).
	// This is terminal for the current session: the caller must re-login.
	ErrAuthFailed = errors.New("cloud: authentication failed")

	// ErrRequestFailed is returned for transport failures and unexpected
	// HTTP statuses. These are transient; the caller may retry.
	ErrRequestFailed = errors.New("cloud: request failed")

	// ErrDeviceNotFound is returned when an action targets a device the
	// vendor does not recognise.
	ErrDeviceNotFound = errors.New("cloud: device not found")
)
