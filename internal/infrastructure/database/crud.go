package database

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Record is a set of column values for a write.
// A nil value writes NULL; a value of Undefined drops the column.
type Record map[string]any

type undefined struct{}

// Undefined marks a record field as absent. The column is left out of the
// statement entirely, so the table default applies on insert and the
// existing value is kept on update.
var Undefined any = undefined{}

// ColumnFilter restricts which record columns are written.
type ColumnFilter struct {
	// Columns lists the column names the filter refers to.
	Columns []string

	// Exclude drops the listed columns (blacklist) instead of keeping only
	// them (whitelist).
	Exclude bool
}

// FilterColumns returns a copy of record reduced by filter.
// Fields set to Undefined are always dropped. A nil filter only drops those.
func FilterColumns(record Record, filter *ColumnFilter) Record {
	out := make(Record, len(record))
	for col, v := range record {
		if v == Undefined {
			continue
		}
		if filter != nil && slices.Contains(filter.Columns, col) == filter.Exclude {
			continue
		}
		out[col] = v
	}
	return out
}

// Option configures a single write.
type Option func(*writeOptions)

type writeOptions struct {
	whitelist *ColumnFilter
	blacklist *ColumnFilter
}

// Whitelist keeps only the named columns of each record.
func Whitelist(columns ...string) Option {
	return func(o *writeOptions) {
		o.whitelist = &ColumnFilter{Columns: columns}
	}
}

// Blacklist drops the named columns from each record.
func Blacklist(columns ...string) Option {
	return func(o *writeOptions) {
		o.blacklist = &ColumnFilter{Columns: columns, Exclude: true}
	}
}

func resolveFilter(opts []Option) (*ColumnFilter, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.whitelist != nil && o.blacklist != nil {
		return nil, ErrWhitelistConflict
	}
	if o.whitelist != nil {
		return o.whitelist, nil
	}
	return o.blacklist, nil
}

// Where is the condition of an Update or Delete.
type Where interface {
	clause() (string, []any, error)
}

type idWhere struct{ id any }

func (w idWhere) clause() (string, []any, error) {
	return "`id` = ?", []any{w.id}, nil
}

// ID matches the row whose id column equals id.
func ID(id any) Where {
	return idWhere{id: id}
}

type exprWhere struct {
	fragment string
	args     []any
}

func (w exprWhere) clause() (string, []any, error) {
	if strings.TrimSpace(w.fragment) == "" {
		return "", nil, ErrEmptyWhere
	}
	return w.fragment, w.args, nil
}

// Expr is a raw SQL condition with ? placeholders.
//
// Example:
//
//	database.Expr("`key` = ? AND `value` = ?", "test", "now")
func Expr(fragment string, args ...any) Where {
	return exprWhere{fragment: fragment, args: args}
}

// Equals matches rows where every listed column equals its value.
// Columns are joined with AND in sorted order. Undefined values are skipped.
type Equals map[string]any

func (e Equals) clause() (string, []any, error) {
	columns := make([]string, 0, len(e))
	for col, v := range e {
		if v == Undefined {
			continue
		}
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return "", nil, ErrEmptyWhere
	}
	sort.Strings(columns)

	parts := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		parts[i] = quoteIdent(col) + " = ?"
		args[i] = e[col]
	}
	return strings.Join(parts, " AND "), args, nil
}

// Insert writes one record and returns its row id.
func (h Helpers) Insert(ctx context.Context, table string, record Record, opts ...Option) (int64, error) {
	return h.insert(ctx, "INSERT", table, []Record{record}, opts)
}

// InsertMany writes records with a single multi-row statement and returns
// the row id of the last one. Columns are taken from the first record;
// columns missing from a later record are written as NULL, and a column
// only a later record carries fails with ErrColumnNotFound.
func (h Helpers) InsertMany(ctx context.Context, table string, records []Record, opts ...Option) (int64, error) {
	return h.insert(ctx, "INSERT", table, records, opts)
}

// Replace inserts one record, deleting any row it conflicts with, and
// returns the new row id.
func (h Helpers) Replace(ctx context.Context, table string, record Record, opts ...Option) (int64, error) {
	return h.insert(ctx, "REPLACE", table, []Record{record}, opts)
}

// ReplaceMany is the REPLACE form of InsertMany.
func (h Helpers) ReplaceMany(ctx context.Context, table string, records []Record, opts ...Option) (int64, error) {
	return h.insert(ctx, "REPLACE", table, records, opts)
}

func (h Helpers) insert(ctx context.Context, verb, table string, records []Record, opts []Option) (int64, error) {
	if table == "" {
		return 0, ErrInvalidTable
	}
	if len(records) == 0 {
		return 0, ErrEmptyRecord
	}

	filter, err := resolveFilter(opts)
	if err != nil {
		return 0, err
	}

	filtered := make([]Record, len(records))
	for i, rec := range records {
		filtered[i] = FilterColumns(rec, filter)
	}

	columns := sortedColumns(filtered[0])
	if len(columns) == 0 {
		return 0, ErrEmptyRecord
	}

	known := make(map[string]bool, len(columns))
	for _, col := range columns {
		known[col] = true
	}
	for i, rec := range filtered[1:] {
		for _, col := range sortedColumns(rec) {
			if !known[col] {
				return 0, fmt.Errorf("%w: %s in record %d is not in the first record", ErrColumnNotFound, col, i+1)
			}
		}
	}

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	tuples := make([]string, len(filtered))
	args := make([]any, 0, len(columns)*len(filtered))
	for i, rec := range filtered {
		tuples[i] = placeholders
		for _, col := range columns {
			args = append(args, rec[col])
		}
	}

	query := fmt.Sprintf("%s INTO %s (%s) VALUES %s",
		verb, quoteIdent(table), strings.Join(quoted, ", "), strings.Join(tuples, ", "))

	res, err := h.Run(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// Update sets the record's columns on rows matching where and returns the
// number of changed rows.
func (h Helpers) Update(ctx context.Context, table string, record Record, where Where, opts ...Option) (int64, error) {
	if table == "" {
		return 0, ErrInvalidTable
	}
	if where == nil {
		return 0, ErrEmptyWhere
	}

	filter, err := resolveFilter(opts)
	if err != nil {
		return 0, err
	}

	rec := FilterColumns(record, filter)
	columns := sortedColumns(rec)
	if len(columns) == 0 {
		return 0, ErrEmptyRecord
	}

	cond, whereArgs, err := where.clause()
	if err != nil {
		return 0, err
	}

	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(whereArgs))
	for i, col := range columns {
		sets[i] = quoteIdent(col) + " = ?"
		args = append(args, rec[col])
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quoteIdent(table), strings.Join(sets, ", "), cond)

	res, err := h.Run(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.Changes, nil
}

// Delete removes rows matching where and returns how many were removed.
func (h Helpers) Delete(ctx context.Context, table string, where Where) (int64, error) {
	if table == "" {
		return 0, ErrInvalidTable
	}
	if where == nil {
		return 0, ErrEmptyWhere
	}

	cond, args, err := where.clause()
	if err != nil {
		return 0, err
	}

	res, err := h.Run(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(table), cond), args...)
	if err != nil {
		return 0, err
	}
	return res.Changes, nil
}

func sortedColumns(rec Record) []string {
	columns := make([]string, 0, len(rec))
	for col := range rec {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

// quoteIdent wraps an identifier in backticks, doubling embedded ones.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
