package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Runner.
type State int32

// Runner states.
const (
	StateIdle State = iota
	StatePlanning
	StateForcedLast
	StateApplying
	StateDone
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateForcedLast:
		return "forced_last"
	case StateApplying:
		return "applying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Runner.
type Options struct {
	// Source provides the migrations. Required.
	Source Source

	// Table is the ledger table name. Empty means DefaultTable.
	Table string

	// Force selects forced reapply of the last migration.
	Force Force

	// Logger receives progress messages. Nil discards them.
	Logger Logger

	// Observers are notified after each committed step.
	Observers []Observer
}

// Runner applies migrations from a Source to a database.
// A Runner is safe for concurrent use; runs are serialised.
type Runner struct {
	db        *sql.DB
	source    Source
	ledger    *Ledger
	force     Force
	logger    Logger
	observers []Observer

	mu    sync.Mutex
	state atomic.Int32
}

// NewRunner validates opts and returns a runner for db.
//
// Parameters:
//   - db: Open database handle; the runner never closes it
//   - opts: Migration source, ledger table, force mode, logger and observers
//
// Returns:
//   - *Runner: Ready runner in StateIdle
//   - error: ErrNoSource, ErrInvalidForce or ErrInvalidTable if opts are invalid
func NewRunner(db *sql.DB, opts Options) (*Runner, error) {
	if db == nil {
		return nil, errors.New("migration: nil database")
	}
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if opts.Force != ForceNone && opts.Force != ForceLast {
		return nil, fmt.Errorf("%w: %q", ErrInvalidForce, opts.Force)
	}

	ledger, err := NewLedger(opts.Table)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{
		db:        db,
		source:    opts.Source,
		ledger:    ledger,
		force:     opts.Force,
		logger:    logger,
		observers: opts.Observers,
	}, nil
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Table returns the ledger table name.
func (r *Runner) Table() string {
	return r.ledger.Table()
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// Plan computes the work Run would perform without applying anything.
// The ledger table is created if missing.
func (r *Runner) Plan(ctx context.Context) (Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.plan(ctx)
}

// Run applies the plan.
//
// In ForceLast mode the most recently applied migration is rolled back and
// re-applied before any pending migrations. Each step commits in its own
// transaction together with its ledger change.
//
// On failure the returned Result lists the steps committed before the
// error, and the error is a *ScriptError when a script failed.
//
// Parameters:
//   - ctx: Context for cancellation; each step transaction is bound to it
//
// Returns:
//   - *Result: Steps applied and the ledger version reached (partial on failure)
//   - error: Planning error, *ScriptError, or a ledger/transaction error
//
// Thread Safety:
//   - Safe for concurrent use; concurrent calls run one after another
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	r.setState(StatePlanning)
	plan, err := r.plan(ctx)
	if err != nil {
		r.setState(StateFailed)
		return nil, err
	}
	result.Version = plan.Current

	if plan.Empty() {
		r.logger.Debug("migrations up to date", "table", r.ledger.Table(), "version", plan.Current)
	}

	if plan.Reapply != nil {
		r.setState(StateForcedLast)
		r.logger.Info("re-applying last migration", "index", plan.Reapply.Index, "name", plan.Reapply.Name)

		// A failed down step rolls back with its ledger row, so the version
		// only drops once the down step has committed.
		if err := r.step(ctx, result.RunID, *plan.Reapply, DirectionDown); err != nil {
			r.setState(StateFailed)
			result.FinishedAt = time.Now()
			return result, err
		}
		if err := r.step(ctx, result.RunID, *plan.Reapply, DirectionUp); err != nil {
			r.setState(StateFailed)
			result.Version = plan.Reapply.Index - 1
			result.FinishedAt = time.Now()
			return result, err
		}
		result.Reapplied = plan.Reapply.Name
	}

	r.setState(StateApplying)
	for _, m := range plan.Pending {
		if err := r.step(ctx, result.RunID, m, DirectionUp); err != nil {
			r.setState(StateFailed)
			result.FinishedAt = time.Now()
			return result, err
		}
		result.Applied = append(result.Applied, m.Name)
		result.Version = m.Index
	}

	r.setState(StateDone)
	result.FinishedAt = time.Now()

	if len(result.Applied) > 0 || result.Reapplied != "" {
		r.logger.Info("migrations complete",
			"run_id", result.RunID,
			"applied", len(result.Applied),
			"reapplied", result.Reapplied,
			"version", result.Version,
			"duration", result.FinishedAt.Sub(result.StartedAt),
		)
	}

	return result, nil
}

// Status reports the applied ledger rows and the pending migrations.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	migrations, err := r.source.Load()
	if err != nil {
		return Status{}, fmt.Errorf("loading migrations: %w", err)
	}

	if err := r.ledger.Ensure(ctx, r.db); err != nil {
		return Status{}, err
	}

	applied, err := r.ledger.Applied(ctx, r.db)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		Table:   r.ledger.Table(),
		Version: len(applied),
		Applied: applied,
	}
	if len(applied) < len(migrations) {
		status.Pending = migrations[len(applied):]
	}

	return status, nil
}

// plan loads the source and compares it with the ledger.
func (r *Runner) plan(ctx context.Context) (Plan, error) {
	migrations, err := r.source.Load()
	if err != nil {
		return Plan{}, fmt.Errorf("loading migrations: %w", err)
	}

	if err := r.ledger.Ensure(ctx, r.db); err != nil {
		return Plan{}, err
	}

	applied, err := r.ledger.Applied(ctx, r.db)
	if err != nil {
		return Plan{}, err
	}
	r.checkNames(applied, migrations)

	plan := Plan{
		Current:   len(applied),
		Available: len(migrations),
	}

	if plan.Current > plan.Available {
		r.logger.Warn("ledger is ahead of available migrations",
			"table", r.ledger.Table(),
			"version", plan.Current,
			"available", plan.Available,
		)
		if r.force == ForceLast {
			return Plan{}, fmt.Errorf("%w: version %d, %d available", ErrLedgerAhead, plan.Current, plan.Available)
		}
		return plan, nil
	}

	if r.force == ForceLast && plan.Current > 0 {
		last := migrations[plan.Current-1]
		plan.Reapply = &last
	}
	plan.Pending = migrations[plan.Current:]

	return plan, nil
}

// checkNames warns about ledger rows whose name differs from the migration
// now at that position. The ledger only counts, so this is not an error.
func (r *Runner) checkNames(applied []Record, migrations []Migration) {
	for i := 0; i < len(applied) && i < len(migrations); i++ {
		if applied[i].Name != migrations[i].Name {
			r.logger.Warn("ledger name mismatch",
				"index", i+1,
				"ledger", applied[i].Name,
				"migration", migrations[i].Name,
			)
		}
	}
}

// step runs one script and its ledger change in a single transaction.
func (r *Runner) step(ctx context.Context, runID string, m Migration, dir Direction) error {
	start := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	script := m.Up
	if dir == DirectionDown {
		script = m.Down
	}

	if !IsBlank(script) {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return &ScriptError{Index: m.Index, Name: m.Name, Direction: dir, Err: err}
		}
	}

	if dir == DirectionUp {
		err = r.ledger.Record(ctx, tx, m.Name)
	} else {
		err = r.ledger.Unrecord(ctx, tx)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d (%s): %w", m.Index, m.Name, err)
	}

	event := Event{
		RunID:     runID,
		Table:     r.ledger.Table(),
		Direction: dir,
		Index:     m.Index,
		Name:      m.Name,
		Duration:  time.Since(start),
		At:        time.Now(),
	}
	r.logger.Info("migration step committed",
		"index", m.Index,
		"name", m.Name,
		"direction", string(dir),
		"duration", event.Duration,
	)
	for _, o := range r.observers {
		o.MigrationApplied(ctx, event)
	}

	return nil
}
