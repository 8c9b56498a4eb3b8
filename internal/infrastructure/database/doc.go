// Package database is a convenience layer over one SQLite connection.
//
// This package manages:
//   - Opening file or in-memory databases (mattn/go-sqlite3)
//   - Query helpers returning rows as maps, single rows, cells and columns
//   - Insert, replace, update and delete built from records, with
//     whitelist or blacklist column filtering
//   - Migrations at open time or on demand (see package migration)
//   - Engine features: pragmas, checkpoints, SQL functions, aggregates,
//     extensions and online backups
//
// Security Considerations:
//   - Values are always bound as parameters
//   - Table and column names are backtick-quoted, never validated; do not
//     build them from untrusted input
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:    "./data/app.db",
//	    WALMode: true,
//	    Migrate: &database.MigrateOptions{MigrationsPath: "./migrations"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	id, err := db.Insert(ctx, "Setting", database.Record{"key": "theme", "value": "dark"})
//	n, err := db.Update(ctx, "Setting", database.Record{"value": "light"}, database.ID(id))
//	v, err := db.QueryFirstCell(ctx, "SELECT value FROM Setting WHERE key = ?", "theme")
package database
