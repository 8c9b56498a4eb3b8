package database

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
)

// Row is one result row keyed by column name.
// Values are whatever the driver returns: int64, float64, string,
// []byte, time.Time or nil.
type Row map[string]any

// RunResult reports the effect of a write statement.
type RunResult struct {
	Changes      int64
	LastInsertID int64
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Helpers is the query and CRUD helper set shared by DB and Tx.
// All queries use ? placeholders with args bound in order.
type Helpers struct {
	q     querier
	guard func() error
}

func (h Helpers) check() error {
	if h.guard == nil {
		return nil
	}
	return h.guard()
}

// Query returns every row of the result.
// An empty result is an empty, non-nil slice.
func (h Helpers) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	result := []Row{}
	for row, err := range h.QueryIterate(ctx, query, args...) {
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, nil
}

// QueryIterate yields rows one at a time. Stopping the loop early closes
// the underlying cursor. The connection is busy until the loop ends.
//
// Example:
//
//	for row, err := range db.QueryIterate(ctx, "SELECT * FROM Setting") {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(row["key"])
//	}
func (h Helpers) QueryIterate(ctx context.Context, query string, args ...any) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if err := h.check(); err != nil {
			yield(nil, err)
			return
		}

		rows, err := h.q.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("executing query: %w", err))
			return
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			yield(nil, fmt.Errorf("reading columns: %w", err))
			return
		}

		for rows.Next() {
			row, err := scanRow(rows, columns)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterating rows: %w", err))
		}
	}
}

// QueryFirstRow returns the first row, or nil when the result is empty.
func (h Helpers) QueryFirstRow(ctx context.Context, query string, args ...any) (Row, error) {
	for row, err := range h.QueryIterate(ctx, query, args...) {
		return row, err
	}
	return nil, nil
}

// QueryFirstRowObject returns the first row, or an empty Row when the
// result is empty.
func (h Helpers) QueryFirstRowObject(ctx context.Context, query string, args ...any) (Row, error) {
	row, err := h.QueryFirstRow(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return Row{}, nil
	}
	return row, nil
}

// QueryFirstCell returns the first column of the first row, or nil when
// the result is empty.
func (h Helpers) QueryFirstCell(ctx context.Context, query string, args ...any) (any, error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating rows: %w", err)
		}
		return nil, nil
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

// QueryColumn returns the values of column across all rows.
func (h Helpers) QueryColumn(ctx context.Context, column, query string, args ...any) ([]any, error) {
	values := []any{}
	for row, err := range h.QueryIterate(ctx, query, args...) {
		if err != nil {
			return nil, err
		}
		v, ok := row[column]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
		}
		values = append(values, v)
	}
	return values, nil
}

// QueryKeyAndColumn maps the key column to the value column across all
// rows. Keys are formatted with fmt.Sprint; later rows win on duplicates.
func (h Helpers) QueryKeyAndColumn(ctx context.Context, key, column, query string, args ...any) (map[string]any, error) {
	result := map[string]any{}
	for row, err := range h.QueryIterate(ctx, query, args...) {
		if err != nil {
			return nil, err
		}
		k, ok := row[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, key)
		}
		v, ok := row[column]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
		}
		result[keyString(k)] = v
	}
	return result, nil
}

// Exec runs one or more statements without arguments.
func (h Helpers) Exec(ctx context.Context, query string) error {
	if err := h.check(); err != nil {
		return err
	}
	if _, err := h.q.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}
	return nil
}

// Run executes one statement with arguments and reports its effect.
func (h Helpers) Run(ctx context.Context, query string, args ...any) (RunResult, error) {
	if err := h.check(); err != nil {
		return RunResult{}, err
	}

	res, err := h.q.ExecContext(ctx, query, args...)
	if err != nil {
		return RunResult{}, fmt.Errorf("executing statement: %w", err)
	}

	changes, err := res.RowsAffected()
	if err != nil {
		return RunResult{}, fmt.Errorf("reading rows affected: %w", err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return RunResult{}, fmt.Errorf("reading last insert id: %w", err)
	}

	return RunResult{Changes: changes, LastInsertID: lastID}, nil
}

// Prepare compiles a statement. The caller must Close it.
func (h Helpers) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	stmt, err := h.q.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	return stmt, nil
}

func scanRow(rows *sql.Rows, columns []string) (Row, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	row := make(Row, len(columns))
	for i, name := range columns {
		row[name] = values[i]
	}
	return row, nil
}

func keyString(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case []byte:
		return string(k)
	default:
		return fmt.Sprint(k)
	}
}
