package migration

import (
	"context"
	"time"
)

// Migration is one step of the linear migration sequence.
type Migration struct {
	// Index is the 1-based position in the sequence.
	Index int

	// Name is derived from the file name (directory mode) or synthetic
	// ("migration N", list mode). It is stored in the ledger.
	Name string

	// Up is the SQL applied when migrating forward.
	Up string

	// Down is the SQL applied when rolling back. May be empty.
	Down string
}

// Record is a row of the ledger table.
type Record struct {
	ID        int64
	Name      string
	AppliedAt time.Time
}

// Plan is the work a run would perform. It is computed, never stored.
type Plan struct {
	// Current is the number of ledger rows when the plan was made.
	Current int

	// Available is the number of migrations the source provided.
	Available int

	// Reapply is the migration rolled back and re-applied in ForceLast
	// mode, or nil.
	Reapply *Migration

	// Pending are the migrations with Index > Current, ascending.
	Pending []Migration
}

// Empty reports whether running the plan would change nothing.
func (p Plan) Empty() bool {
	return p.Reapply == nil && len(p.Pending) == 0
}

// Result summarises a completed run.
type Result struct {
	RunID      string
	Reapplied  string
	Applied    []string
	Version    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Status is a snapshot of the ledger against the available migrations.
type Status struct {
	Table   string
	Version int
	Applied []Record
	Pending []Migration
}

// Direction tells whether a script migrates forward or back.
type Direction string

// Script directions.
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Force selects the forced mode of a run.
type Force string

// Force modes.
const (
	ForceNone Force = ""
	ForceLast Force = "last"
)

// ParseForce converts a configuration value to a Force mode.
// "false" and the empty string mean ForceNone.
func ParseForce(s string) (Force, error) {
	switch s {
	case "", "false":
		return ForceNone, nil
	case "last":
		return ForceLast, nil
	default:
		return ForceNone, ErrInvalidForce
	}
}

// Event describes one committed up or down step.
type Event struct {
	RunID     string
	Table     string
	Direction Direction
	Index     int
	Name      string
	Duration  time.Duration
	At        time.Time
}

// Observer is notified after each committed step.
// Observers must not block for long; errors are theirs to handle.
type Observer interface {
	MigrationApplied(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event Event)

// MigrationApplied calls f(ctx, event).
func (f ObserverFunc) MigrationApplied(ctx context.Context, event Event) {
	f(ctx, event)
}

// Logger is the logging interface used by the runner.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
