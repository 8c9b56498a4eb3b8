package migration

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var testMigrationsDir = filepath.Join("testdata", "migrations")

func newTestRunner(t *testing.T, db *sql.DB, opts Options) *Runner {
	t.Helper()

	if opts.Source == nil {
		opts.Source = DirSource{Path: testMigrationsDir}
	}
	r, err := NewRunner(db, opts)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r
}

func queryString(t *testing.T, db *sql.DB, query string, args ...any) string {
	t.Helper()

	var s string
	if err := db.QueryRow(query, args...).Scan(&s); err != nil {
		t.Fatalf("QueryRow(%q) error = %v", query, err)
	}
	return s
}

func queryInt(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()

	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("QueryRow(%q) error = %v", query, err)
	}
	return n
}

func TestRunAppliesDirectory(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r := newTestRunner(t, db, Options{})
	if r.State() != StateIdle {
		t.Errorf("State() = %v, want idle", r.State())
	}

	result, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := queryString(t, db, "SELECT value FROM Setting WHERE key = ?", "test"); got != "now" {
		t.Errorf("Setting test = %q, want now", got)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM migration"); got != 2 {
		t.Errorf("ledger rows = %d, want 2", got)
	}
	if result.Version != 2 {
		t.Errorf("Result.Version = %d, want 2", result.Version)
	}
	if len(result.Applied) != 2 || result.Applied[0] != "001-initial" || result.Applied[1] != "002-some-feature" {
		t.Errorf("Result.Applied = %v", result.Applied)
	}
	if result.RunID == "" {
		t.Error("Result.RunID is empty")
	}
	if r.State() != StateDone {
		t.Errorf("State() = %v, want done", r.State())
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	r := newTestRunner(t, db, Options{})
	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	result, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(result.Applied) != 0 {
		t.Errorf("second Run() applied %v, want nothing", result.Applied)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM migration"); got != 2 {
		t.Errorf("ledger rows = %d, want 2", got)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM Setting"); got != 2 {
		t.Errorf("Setting rows = %d, want 2", got)
	}
}

func TestRunResumesAfterNewMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := ListSource{"-- Up\nCREATE TABLE a (id INTEGER);"}
	if _, err := newTestRunner(t, db, Options{Source: first}).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	second := append(first, "-- Up\nCREATE TABLE b (id INTEGER);")
	result, err := newTestRunner(t, db, Options{Source: second}).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Applied) != 1 || result.Applied[0] != "migration 2" {
		t.Errorf("Result.Applied = %v, want [migration 2]", result.Applied)
	}
}

func TestRunForceLast(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := newTestRunner(t, db, Options{}).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	idBefore := queryInt(t, db, "SELECT id FROM Setting WHERE key = ?", "locale")

	var events []Event
	observer := ObserverFunc(func(_ context.Context, e Event) {
		events = append(events, e)
	})

	r := newTestRunner(t, db, Options{Force: ForceLast, Observers: []Observer{observer}})
	result, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("forced Run() error = %v", err)
	}

	if result.Reapplied != "002-some-feature" {
		t.Errorf("Result.Reapplied = %q, want 002-some-feature", result.Reapplied)
	}
	if len(result.Applied) != 0 {
		t.Errorf("Result.Applied = %v, want nothing", result.Applied)
	}
	if result.Version != 2 {
		t.Errorf("Result.Version = %d, want 2", result.Version)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM migration"); got != 2 {
		t.Errorf("ledger rows = %d, want 2", got)
	}

	// The row was deleted by the down script and inserted again.
	idAfter := queryInt(t, db, "SELECT id FROM Setting WHERE key = ?", "locale")
	if idAfter == idBefore {
		t.Errorf("locale id = %d after reapply, want a new id", idAfter)
	}

	if len(events) != 2 {
		t.Fatalf("observer got %d events, want 2", len(events))
	}
	if events[0].Direction != DirectionDown || events[1].Direction != DirectionUp {
		t.Errorf("event directions = %s, %s, want down, up", events[0].Direction, events[1].Direction)
	}
	for _, e := range events {
		if e.Index != 2 || e.RunID != result.RunID || e.Table != DefaultTable {
			t.Errorf("unexpected event %+v", e)
		}
	}
}

func TestRunForceLastOnEmptyLedger(t *testing.T) {
	db := openTestDB(t)

	r := newTestRunner(t, db, Options{Force: ForceLast})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reapplied != "" {
		t.Errorf("Result.Reapplied = %q, want empty", result.Reapplied)
	}
	if len(result.Applied) != 2 {
		t.Errorf("Result.Applied = %v, want 2 migrations", result.Applied)
	}
}

func TestRunForceLastAppliesPending(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := ListSource{"-- Up\nCREATE TABLE a (id INTEGER);\n-- Down\nDROP TABLE a;"}
	if _, err := newTestRunner(t, db, Options{Source: first}).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	both := append(first, "-- Up\nCREATE TABLE b (id INTEGER);")
	result, err := newTestRunner(t, db, Options{Source: both, Force: ForceLast}).Run(ctx)
	if err != nil {
		t.Fatalf("forced Run() error = %v", err)
	}
	if result.Reapplied != "migration 1" {
		t.Errorf("Result.Reapplied = %q, want migration 1", result.Reapplied)
	}
	if len(result.Applied) != 1 || result.Applied[0] != "migration 2" {
		t.Errorf("Result.Applied = %v, want [migration 2]", result.Applied)
	}
}

func TestRunForceLastDownFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := ListSource{"-- Up\nCREATE TABLE a (id INTEGER);\n-- Down\nDROP TABLE nope;"}
	if _, err := newTestRunner(t, db, Options{Source: src}).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var events []Event
	observer := ObserverFunc(func(_ context.Context, e Event) {
		events = append(events, e)
	})

	r := newTestRunner(t, db, Options{Source: src, Force: ForceLast, Observers: []Observer{observer}})
	result, err := r.Run(ctx)

	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("forced Run() error = %v, want *ScriptError", err)
	}
	if scriptErr.Index != 1 || scriptErr.Direction != DirectionDown {
		t.Errorf("ScriptError = %+v, want index 1 down", scriptErr)
	}
	if r.State() != StateFailed {
		t.Errorf("State() = %v, want failed", r.State())
	}

	// The down transaction rolled back, so nothing moved.
	if result == nil || result.Version != 1 || result.Reapplied != "" {
		t.Errorf("Result = %+v, want version 1 and nothing reapplied", result)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM migration"); got != 1 {
		t.Errorf("ledger rows = %d, want 1", got)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'a'"); got != 1 {
		t.Errorf("table a exists = %d, want 1", got)
	}
	if len(events) != 0 {
		t.Errorf("observer got %d events, want 0", len(events))
	}
}

func TestRunForceLastUpFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// The down script leaves the table behind, so the reapply's up step
	// fails on CREATE TABLE.
	src := ListSource{"-- Up\nCREATE TABLE a (id INTEGER);\n-- Down\nDELETE FROM a;"}
	if _, err := newTestRunner(t, db, Options{Source: src}).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var events []Event
	observer := ObserverFunc(func(_ context.Context, e Event) {
		events = append(events, e)
	})

	r := newTestRunner(t, db, Options{Source: src, Force: ForceLast, Observers: []Observer{observer}})
	result, err := r.Run(ctx)

	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("forced Run() error = %v, want *ScriptError", err)
	}
	if scriptErr.Index != 1 || scriptErr.Direction != DirectionUp {
		t.Errorf("ScriptError = %+v, want index 1 up", scriptErr)
	}
	if r.State() != StateFailed {
		t.Errorf("State() = %v, want failed", r.State())
	}

	// The down step committed before the up step failed.
	if result == nil || result.Version != 0 || result.Reapplied != "" {
		t.Errorf("Result = %+v, want version 0 and nothing reapplied", result)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM migration"); got != 0 {
		t.Errorf("ledger rows = %d, want 0", got)
	}
	if len(events) != 1 || events[0].Direction != DirectionDown {
		t.Errorf("observer events = %+v, want a single down event", events)
	}

	// Rerunning without force applies the migration again from version 0.
	src[0] = "-- Up\nCREATE TABLE IF NOT EXISTS a (id INTEGER);\n-- Down\nDELETE FROM a;"
	result, err = newTestRunner(t, db, Options{Source: src}).Run(ctx)
	if err != nil {
		t.Fatalf("Run() after fix error = %v", err)
	}
	if result.Version != 1 || len(result.Applied) != 1 {
		t.Errorf("Result after fix = %+v, want migration 1 applied", result)
	}
}

func TestRunScriptFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := ListSource{
		"-- Up\nCREATE TABLE a (id INTEGER);",
		"-- Up\nCREATE TABLE b (id INTEGER);\nINSERT INTO missing VALUES (1);",
		"-- Up\nCREATE TABLE c (id INTEGER);",
	}

	r := newTestRunner(t, db, Options{Source: src})
	result, err := r.Run(ctx)

	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("Run() error = %v, want *ScriptError", err)
	}
	if scriptErr.Index != 2 || scriptErr.Direction != DirectionUp {
		t.Errorf("ScriptError = %+v, want index 2 up", scriptErr)
	}
	if r.State() != StateFailed {
		t.Errorf("State() = %v, want failed", r.State())
	}
	if result == nil || result.Version != 1 {
		t.Errorf("Result = %+v, want version 1", result)
	}

	if got := queryInt(t, db, "SELECT COUNT(*) FROM migration"); got != 1 {
		t.Errorf("ledger rows = %d, want 1", got)
	}
	for table, want := range map[string]int{"a": 1, "b": 0, "c": 0} {
		got := queryInt(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		if got != want {
			t.Errorf("table %s exists = %d, want %d", table, got, want)
		}
	}

	// Fixing the script resumes from the failed migration.
	src[1] = "-- Up\nCREATE TABLE b (id INTEGER);"
	result, err = newTestRunner(t, db, Options{Source: src}).Run(ctx)
	if err != nil {
		t.Fatalf("Run() after fix error = %v", err)
	}
	if len(result.Applied) != 2 || result.Version != 3 {
		t.Errorf("Result after fix = %+v", result)
	}
}

func TestRunLedgerAhead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := newTestRunner(t, db, Options{}).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	fewer := ListSource{"-- Up\nSELECT 1;"}

	result, err := newTestRunner(t, db, Options{Source: fewer}).Run(ctx)
	if err != nil {
		t.Fatalf("Run() with ledger ahead error = %v", err)
	}
	if len(result.Applied) != 0 {
		t.Errorf("Result.Applied = %v, want nothing", result.Applied)
	}

	_, err = newTestRunner(t, db, Options{Source: fewer, Force: ForceLast}).Run(ctx)
	if !errors.Is(err, ErrLedgerAhead) {
		t.Errorf("forced Run() error = %v, want ErrLedgerAhead", err)
	}
}

func TestRunBlankScriptsAreRecorded(t *testing.T) {
	db := openTestDB(t)

	src := ListSource{"-- Up\n-- nothing yet\n-- Down\n"}
	result, err := newTestRunner(t, db, Options{Source: src}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Version != 1 {
		t.Errorf("Result.Version = %d, want 1", result.Version)
	}
}

func TestRunCustomTable(t *testing.T) {
	db := openTestDB(t)

	r := newTestRunner(t, db, Options{Table: "schema_log"})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM schema_log"); got != 2 {
		t.Errorf("schema_log rows = %d, want 2", got)
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'migration'"); got != 0 {
		t.Error("default ledger table should not exist")
	}
}

func TestPlanAndStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	r := newTestRunner(t, db, Options{})

	plan, err := r.Plan(ctx)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Current != 0 || plan.Available != 2 || len(plan.Pending) != 2 || plan.Empty() {
		t.Errorf("Plan() = %+v, want 2 pending", plan)
	}

	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	plan, err = r.Plan(ctx)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !plan.Empty() {
		t.Errorf("Plan() after Run = %+v, want empty", plan)
	}

	status, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Version != 2 || len(status.Applied) != 2 || len(status.Pending) != 0 {
		t.Errorf("Status() = %+v", status)
	}
	if status.Table != DefaultTable {
		t.Errorf("Status().Table = %q, want %q", status.Table, DefaultTable)
	}
}

func TestRunConcurrentCallsSerialise(t *testing.T) {
	db := openTestDB(t)
	r := newTestRunner(t, db, Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Run(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}
	if got := queryInt(t, db, "SELECT COUNT(*) FROM migration"); got != 2 {
		t.Errorf("ledger rows = %d, want 2", got)
	}
}

func TestNewRunnerValidation(t *testing.T) {
	db := openTestDB(t)

	if _, err := NewRunner(db, Options{}); !errors.Is(err, ErrNoSource) {
		t.Errorf("NewRunner() without source error = %v, want ErrNoSource", err)
	}
	if _, err := NewRunner(db, Options{Source: ListSource{}, Force: "first"}); !errors.Is(err, ErrInvalidForce) {
		t.Errorf("NewRunner() bad force error = %v, want ErrInvalidForce", err)
	}
	if _, err := NewRunner(db, Options{Source: ListSource{}, Table: "no-dash"}); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("NewRunner() bad table error = %v, want ErrInvalidTable", err)
	}
}

func TestParseForce(t *testing.T) {
	tests := []struct {
		in      string
		want    Force
		wantErr bool
	}{
		{"", ForceNone, false},
		{"false", ForceNone, false},
		{"last", ForceLast, false},
		{"all", ForceNone, true},
	}

	for _, tt := range tests {
		got, err := ParseForce(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseForce(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseForce(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
