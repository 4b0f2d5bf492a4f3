// Package connpool manages persistent pub/sub connections to the vendor
// broker, one per alarm device.
//
// This package manages:
//   - A per-device connection state machine (connect, subscribe,
//     snapshot request, Ready)
//   - Bounded capped-exponential reconnection
//   - Credential refresh on transport-level authentication refusal
//   - Publishing with at-least-once delivery
//
// # Connection Lifecycle
//
//	Disconnected → Connecting → Connected → Subscribing → Ready
//
// Any stage may fall back to Reconnecting on transport error; retries
// never run faster than the configured initial delay. Closed is reached
// only by explicit shutdown and is terminal.
//
// A connection is not usable for publishing until it is Ready: both the
// status-topic subscription and the state-snapshot request must have been
// acknowledged. Publishing against anything else fails immediately with
// ErrNotReady; retry policy belongs to the caller.
//
// # Ownership
//
// The Pool is the sole owner of connection handles. Callers address
// devices by id; they never receive the connection object, so a handle
// cannot outlive a replacement or shutdown.
package connpool
