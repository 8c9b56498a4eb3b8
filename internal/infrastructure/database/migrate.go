package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/nerrad567/sqlitehelper/internal/migration"
)

// DefaultMigrationsPath is the directory read when MigrateOptions names no source.
const DefaultMigrationsPath = "./migrations"

// MigrateOptions selects the migration source and run mode.
// At most one of MigrationsPath, Migrations and FS may be set. With none
// set, DefaultMigrationsPath is read and a missing directory means no
// migrations.
type MigrateOptions struct {
	// MigrationsPath is a directory of numbered *.sql files.
	MigrationsPath string

	// Migrations are migration texts applied in order.
	Migrations []string

	// FS and FSDir read numbered *.sql files from an fs.FS, e.g. an embed.FS.
	FS    fs.FS
	FSDir string

	// Table is the ledger table. Empty means migration.DefaultTable.
	Table string

	// Force re-applies the last migration when set to migration.ForceLast.
	Force migration.Force

	// Observers are notified after each committed step.
	Observers []migration.Observer
}

// Source returns the migration source the options describe.
func (o MigrateOptions) Source() (migration.Source, error) {
	set := 0
	if o.MigrationsPath != "" {
		set++
	}
	if o.Migrations != nil {
		set++
	}
	if o.FS != nil {
		set++
	}
	if set > 1 {
		return nil, migration.ErrConflictingSources
	}

	switch {
	case o.MigrationsPath != "":
		return migration.DirSource{Path: o.MigrationsPath}, nil
	case o.Migrations != nil:
		return migration.ListSource(o.Migrations), nil
	case o.FS != nil:
		return migration.FSSource{FS: o.FS, Dir: o.FSDir}, nil
	default:
		return migration.DirSource{Path: DefaultMigrationsPath, AllowMissing: true}, nil
	}
}

// NewRunner builds a migration runner for this database.
func (db *DB) NewRunner(opts MigrateOptions) (*migration.Runner, error) {
	src, err := opts.Source()
	if err != nil {
		return nil, err
	}

	return migration.NewRunner(db.sqlDB, migration.Options{
		Source:    src,
		Table:     opts.Table,
		Force:     opts.Force,
		Logger:    db.logger,
		Observers: opts.Observers,
	})
}

// Migrate applies pending migrations and returns the run result.
//
// Each migration runs in its own transaction together with its ledger row.
// If migration N fails, 1 to N-1 stay committed, N is rolled back and the
// error is a *migration.ScriptError. Re-running continues from N.
func (db *DB) Migrate(ctx context.Context, opts MigrateOptions) (*migration.Result, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	db.runMu.Lock()
	defer db.runMu.Unlock()

	runner, err := db.NewRunner(opts)
	if err != nil {
		return nil, fmt.Errorf("configuring migrations: %w", err)
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return result, fmt.Errorf("migrating %s: %w", db.name, err)
	}
	return result, nil
}

// MigrationStatus reports applied and pending migrations without applying any.
func (db *DB) MigrationStatus(ctx context.Context, opts MigrateOptions) (migration.Status, error) {
	if err := db.checkOpen(); err != nil {
		return migration.Status{}, err
	}

	db.runMu.Lock()
	defer db.runMu.Unlock()

	runner, err := db.NewRunner(opts)
	if err != nil {
		return migration.Status{}, fmt.Errorf("configuring migrations: %w", err)
	}
	return runner.Status(ctx)
}
