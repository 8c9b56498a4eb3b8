package migration

import (
	"errors"
	"fmt"
)

// Domain errors for the migration package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, migration.ErrSourceNotFound) {
//	    // handle missing directory
//	}
var (
	// ErrNoSource is returned when no migration source is configured.
	ErrNoSource = errors.New("migration: no source configured")

	// ErrConflictingSources is returned when a directory and a list of
	// migrations are both supplied for the same run.
	ErrConflictingSources = errors.New("migration: migrations path and migrations list are mutually exclusive")

	// ErrSourceNotFound is returned when the migrations directory does not exist.
	ErrSourceNotFound = errors.New("migration: source directory not found")

	// ErrDuplicateVersion is returned when two files share a numeric prefix.
	ErrDuplicateVersion = errors.New("migration: duplicate migration number")

	// ErrInvalidTable is returned when the ledger table name is not a plain identifier.
	ErrInvalidTable = errors.New("migration: invalid ledger table name")

	// ErrMalformedMarkers is returned when Up/Down markers are duplicated or out of order.
	ErrMalformedMarkers = errors.New("migration: malformed up/down markers")

	// ErrLedgerAhead is returned when a forced reapply finds more ledger rows
	// than available migrations.
	ErrLedgerAhead = errors.New("migration: ledger is ahead of available migrations")

	// ErrLedgerEmpty is returned when removing a ledger row from an empty ledger.
	ErrLedgerEmpty = errors.New("migration: ledger is empty")

	// ErrInvalidForce is returned when a force mode string is not recognised.
	ErrInvalidForce = errors.New("migration: invalid force mode")
)

// ScriptError reports a failed up or down script.
// The transaction for that migration has been rolled back.
type ScriptError struct {
	Index     int
	Name      string
	Direction Direction
	Err       error
}

// Error implements the error interface. The name is left out when it only
// repeats the index, as it does for list sources.
func (e *ScriptError) Error() string {
	if e.Name == "" || e.Name == fmt.Sprintf("migration %d", e.Index) {
		return fmt.Sprintf("migration %d %s: %v", e.Index, e.Direction, e.Err)
	}
	return fmt.Sprintf("migration %d (%s) %s: %v", e.Index, e.Name, e.Direction, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}
