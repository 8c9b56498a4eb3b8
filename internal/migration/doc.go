// Package migration applies versioned SQL migrations to a SQLite database.
//
// A migration is a piece of SQL text with an optional "-- Up" marker line
// and an optional "-- Down" marker line:
//
//	-- Up
//	CREATE TABLE Setting (key TEXT NOT NULL, value TEXT);
//
//	-- Down
//	DROP TABLE Setting;
//
// Migrations come from a Source: a directory of numbered *.sql files
// (DirSource), an fs.FS such as an embed.FS (FSSource), or an ordered list
// of SQL strings (ListSource). Sources are never merged in a single run.
//
// Applied migrations are tracked in a Ledger table inside the target
// database. The ledger only counts: migration N is applied when the ledger
// holds at least N rows. The version sequence is strictly linear.
//
// # Atomicity
//
// Each migration runs in its own transaction together with its ledger row.
// If migration N fails:
//   - Migrations 1 to N-1 remain committed
//   - Migration N is rolled back
//   - Migrations N+1 onwards are not attempted
//
// Re-running after fixing the failing script continues from N.
//
// # Forced reapply
//
// With ForceLast the most recently applied migration is rolled back (down
// script, ledger row removed) and applied again (up script, ledger row
// added) in two separate transactions. A failure between the two leaves the
// ledger one version behind with the down script already applied.
//
// # Concurrency
//
// A Runner serialises its own runs. Concurrent runs from several processes
// against one database are not supported.
//
// Usage:
//
//	runner, err := migration.NewRunner(sqlDB, migration.Options{
//	    Source: migration.DirSource{Path: "./migrations"},
//	})
//	if err != nil {
//	    return err
//	}
//	result, err := runner.Run(ctx)
package migration
