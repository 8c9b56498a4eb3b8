package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DefaultTable is the ledger table name used when none is configured.
const DefaultTable = "migration"

// identifierPattern restricts ledger table names to plain SQL identifiers.
// The name is interpolated into statements, so nothing else is accepted.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Querier is the subset of *sql.DB, *sql.Tx and *sql.Conn the ledger needs.
// Passing a *sql.Tx makes ledger writes part of that transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger is the bookkeeping table recording applied migrations.
// The current version is the number of rows it holds.
type Ledger struct {
	table string
}

// NewLedger returns a ledger stored in table.
// An empty table selects DefaultTable.
func NewLedger(table string) (*Ledger, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return &Ledger{table: table}, nil
}

// Table returns the ledger table name.
func (l *Ledger) Table() string {
	return l.table
}

// Ensure creates the ledger table if it does not exist.
func (l *Ledger) Ensure(ctx context.Context, q Querier) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`, l.table)

	if _, err := q.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("creating ledger table %s: %w", l.table, err)
	}
	return nil
}

// CurrentVersion returns the number of applied migrations.
func (l *Ledger) CurrentVersion(ctx context.Context, q Querier) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, l.table)
	if err := q.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting ledger rows: %w", err)
	}
	return count, nil
}

// LastApplied returns the most recent ledger row, or nil when the ledger is empty.
func (l *Ledger) LastApplied(ctx context.Context, q Querier) (*Record, error) {
	query := fmt.Sprintf(`SELECT id, name, applied_at FROM %q ORDER BY id DESC LIMIT 1`, l.table)

	var rec Record
	err := q.QueryRowContext(ctx, query).Scan(&rec.ID, &rec.Name, &rec.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last ledger row: %w", err)
	}
	return &rec, nil
}

// Record appends a row for the migration called name.
func (l *Ledger) Record(ctx context.Context, q Querier, name string) error {
	query := fmt.Sprintf(`INSERT INTO %q (name, applied_at) VALUES (?, ?)`, l.table)
	if _, err := q.ExecContext(ctx, query, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("recording migration %s: %w", name, err)
	}
	return nil
}

// Unrecord deletes the most recent row.
// Returns ErrLedgerEmpty if there is nothing to delete.
func (l *Ledger) Unrecord(ctx context.Context, q Querier) error {
	query := fmt.Sprintf(`DELETE FROM %q WHERE id = (SELECT MAX(id) FROM %q)`, l.table, l.table)

	res, err := q.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("removing last ledger row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing last ledger row: %w", err)
	}
	if n == 0 {
		return ErrLedgerEmpty
	}
	return nil
}

// Applied returns every ledger row in application order.
func (l *Ledger) Applied(ctx context.Context, q Querier) ([]Record, error) {
	query := fmt.Sprintf(`SELECT id, name, applied_at FROM %q ORDER BY id`, l.table)

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
