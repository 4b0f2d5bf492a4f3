// Package database provides SQLite connectivity for olarmd.
//
// This package manages:
//   - Opening the SQLite file with WAL mode and busy timeout
//   - Restrictive file permissions (0600)
//   - Connection health checks and lifecycle
//
// The only consumer is the session store, which persists the vendor
// session record (token triple + user identifiers) across restarts.
// Schema creation is owned by the consuming package.
package database
