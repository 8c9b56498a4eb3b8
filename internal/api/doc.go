// Package api implements the HTTP status API for sqlitehelper.
//
// This package provides:
//   - A health endpoint backed by the database connection
//   - Migration status (applied ledger rows and pending migrations)
//   - An endpoint that triggers a migration run, optionally with force=last
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/migrations
//	POST /api/v1/migrations   body: {"force": "last"} (optional)
//
// Runs are serialised by the database; a POST while another run is in
// progress waits for it.
package api
