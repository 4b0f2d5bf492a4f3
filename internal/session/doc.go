// Package session owns the vendor credential lifecycle for olarmd.
//
// This package manages:
//   - Login, refresh, and validity checking of the session record
//   - Coalescing of concurrent refresh attempts (singleflight)
//   - Durable persistence of the record via SQLite
//
// # Invariants
//
//   - A non-empty access token always has an expiry instant.
//   - A cleared session has every field empty; never partially cleared.
//   - Every successful login/refresh persists; a cleared session also
//     persists, so a fresh process does not retry a dead refresh token.
//
// # Failure Semantics
//
// Transient network failures surface to the caller without mutating
// stored state. A rejected refresh token clears the session and triggers
// one full login attempt; a second consecutive failure surfaces.
package session
