package database

import "errors"

// Domain errors for the database package.
//
// Check with errors.Is():
//
//	if errors.Is(err, database.ErrWhitelistConflict) {
//	    // caller passed both Whitelist and Blacklist
//	}
var (
	// ErrDatabaseNotFound is returned when the database file must exist but does not.
	ErrDatabaseNotFound = errors.New("database: database file not found")

	// ErrClosed is returned when a helper is used after Close.
	ErrClosed = errors.New("database: database is closed")

	// ErrInvalidTable is returned when a table name is empty.
	ErrInvalidTable = errors.New("database: invalid table name")

	// ErrEmptyRecord is returned when a write has no columns left after filtering.
	ErrEmptyRecord = errors.New("database: record has no columns")

	// ErrEmptyWhere is returned when an update or delete has no condition.
	ErrEmptyWhere = errors.New("database: empty where clause")

	// ErrWhitelistConflict is returned when Whitelist and Blacklist are
	// combined on one call.
	ErrWhitelistConflict = errors.New("database: whitelist and blacklist are mutually exclusive")

	// ErrColumnNotFound is returned when a result set lacks a requested column,
	// or when a multi-record write names a column its first record lacks.
	ErrColumnNotFound = errors.New("database: column not found in result")

	// ErrMemoryReadonly is returned when an in-memory database is opened read-only.
	ErrMemoryReadonly = errors.New("database: in-memory database cannot be read-only")
)
