package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/sqlitehelper/internal/infrastructure/database"
	"github.com/nerrad567/sqlitehelper/internal/migration"
)

// MigrateRequest is the optional body of POST /api/v1/migrations.
type MigrateRequest struct {
	Force string `json:"force"`
}

// AppliedMigration is one ledger row.
type AppliedMigration struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// PendingMigration is a migration not yet recorded in the ledger.
type PendingMigration struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// StatusResponse describes the ledger against the available migrations.
type StatusResponse struct {
	Database string             `json:"database"`
	Table    string             `json:"table"`
	Version  int                `json:"version"`
	Applied  []AppliedMigration `json:"applied"`
	Pending  []PendingMigration `json:"pending"`
}

// RunResponse describes a completed (or partially completed) run.
type RunResponse struct {
	RunID      string    `json:"run_id"`
	Version    int       `json:"version"`
	Reapplied  string    `json:"reapplied,omitempty"`
	Applied    []string  `json:"applied"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// handleMigrationStatus lists applied and pending migrations.
func (s *Server) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.db.MigrationStatus(r.Context(), s.migrate)
	if err != nil {
		s.writeMigrationError(w, r, err)
		return
	}

	resp := StatusResponse{
		Database: s.db.Name(),
		Table:    status.Table,
		Version:  status.Version,
		Applied:  make([]AppliedMigration, 0, len(status.Applied)),
		Pending:  make([]PendingMigration, 0, len(status.Pending)),
	}
	for _, rec := range status.Applied {
		resp.Applied = append(resp.Applied, AppliedMigration{ID: rec.ID, Name: rec.Name, AppliedAt: rec.AppliedAt})
	}
	for _, m := range status.Pending {
		resp.Pending = append(resp.Pending, PendingMigration{Index: m.Index, Name: m.Name})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMigrate runs pending migrations without force unless the body asks
// for {"force": "last"}. The force mode in Deps.Migrate is not used here.
func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	opts := s.migrate
	opts.Force = migration.ForceNone

	var req MigrateRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		writeBadRequest(w, "invalid JSON body")
		return
	default:
		force, parseErr := migration.ParseForce(req.Force)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, parseErr.Error())
			return
		}
		opts.Force = force
	}

	result, err := s.db.Migrate(r.Context(), opts)
	if s.onRun != nil {
		s.onRun(result, err)
	}
	if err != nil {
		s.writeMigrationError(w, r, err)
		return
	}

	resp := RunResponse{
		RunID:      result.RunID,
		Version:    result.Version,
		Reapplied:  result.Reapplied,
		Applied:    result.Applied,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	if resp.Applied == nil {
		resp.Applied = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeMigrationError maps migration and database errors to responses.
func (s *Server) writeMigrationError(w http.ResponseWriter, r *http.Request, err error) {
	var scriptErr *migration.ScriptError
	switch {
	case errors.Is(err, database.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "database is closed")
	case errors.Is(err, migration.ErrLedgerAhead):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.As(err, &scriptErr):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeMigrationFailed, scriptErr.Error())
	case errors.Is(err, migration.ErrSourceNotFound),
		errors.Is(err, migration.ErrConflictingSources),
		errors.Is(err, migration.ErrMalformedMarkers),
		errors.Is(err, migration.ErrDuplicateVersion):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("migration request failed",
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "migration failed")
	}
}
