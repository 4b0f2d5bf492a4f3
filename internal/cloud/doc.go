// Package cloud provides the vendor HTTP API client for olarmd.
//
// This package covers:
//   - OAuth login, refresh, and federated-link resolution
//   - Device enumeration (the device directory)
//   - The direct device-action endpoint (alternate command path)
//
// It deliberately knows nothing about sessions or persistence; the
// session package owns credential lifecycle and calls down into this
// client for the network exchanges.
//
// # Error Taxonomy
//
//   - ErrAuthFailed: credentials or refresh token rejected (terminal,
//     forces re-login)
//   - ErrRequestFailed: transport failure or unexpected status (transient)
//   - ErrDeviceNotFound: action targeted an unknown device
package cloud
