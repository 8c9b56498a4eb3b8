package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

// Pragma runs "PRAGMA <pragma>" and returns its rows.
//
// Example:
//
//	db.Pragma(ctx, "cache_size = 32000")
//	rows, err := db.Pragma(ctx, "table_info(Setting)")
func (db *DB) Pragma(ctx context.Context, pragma string) ([]Row, error) {
	return db.Query(ctx, "PRAGMA "+pragma)
}

// PragmaValue runs "PRAGMA <pragma>" and returns the first cell.
func (db *DB) PragmaValue(ctx context.Context, pragma string) (any, error) {
	return db.QueryFirstCell(ctx, "PRAGMA "+pragma)
}

// Checkpoint copies the write-ahead log into the database file and
// restarts it. It is harmless when WAL mode is off.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.Query(ctx, "PRAGMA wal_checkpoint(RESTART)"); err != nil {
		return fmt.Errorf("checkpointing: %w", err)
	}
	return nil
}

// RegisterFunction makes impl callable from SQL as name.
// impl is a Go function whose arguments and result map to SQLite values
// (see sqlite3.SQLiteConn.RegisterFunc). pure marks it deterministic.
//
// Example:
//
//	db.RegisterFunction(ctx, "add2", func(a, b int64) int64 { return a + b }, true)
func (db *DB) RegisterFunction(ctx context.Context, name string, impl any, pure bool) error {
	err := db.withDriverConn(ctx, func(c *sqlite3.SQLiteConn) error {
		return c.RegisterFunc(name, impl, pure)
	})
	if err != nil {
		return fmt.Errorf("registering function %s: %w", name, err)
	}
	return nil
}

// RegisterAggregator makes an aggregate callable from SQL as name.
// impl is a constructor returning a value with Step and Done methods
// (see sqlite3.SQLiteConn.RegisterAggregator).
func (db *DB) RegisterAggregator(ctx context.Context, name string, impl any, pure bool) error {
	err := db.withDriverConn(ctx, func(c *sqlite3.SQLiteConn) error {
		return c.RegisterAggregator(name, impl, pure)
	})
	if err != nil {
		return fmt.Errorf("registering aggregator %s: %w", name, err)
	}
	return nil
}

// LoadExtension loads a SQLite extension library. An empty entry point
// lets SQLite derive it from the file name.
func (db *DB) LoadExtension(ctx context.Context, lib, entry string) error {
	err := db.withDriverConn(ctx, func(c *sqlite3.SQLiteConn) error {
		return c.LoadExtension(lib, entry)
	})
	if err != nil {
		return fmt.Errorf("loading extension %s: %w", lib, err)
	}
	return nil
}

// withDriverConn applies fn to the live connection and records it so the
// connector replays it on any later connection.
func (db *DB) withDriverConn(ctx context.Context, fn func(*sqlite3.SQLiteConn) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	conn, err := db.sqlDB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck // Returns the connection to the pool

	err = conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		return fn(c)
	})
	if err != nil {
		return err
	}

	db.connector.addHook(fn)
	return nil
}

// Backup writes an online copy of the main database to dest.
// The destination directory is created if missing; an existing file is
// overwritten.
func (db *DB) Backup(ctx context.Context, dest string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), dirPermissions); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	destDriver := &sqlite3.SQLiteDriver{}
	dc, err := destDriver.Open(dest)
	if err != nil {
		return fmt.Errorf("opening backup destination: %w", err)
	}
	destConn := dc.(*sqlite3.SQLiteConn)
	defer destConn.Close() //nolint:errcheck // Destination is only written through the backup

	conn, err := db.sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Returns the connection to the pool

	err = conn.Raw(func(driverConn any) error {
		src, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}

		backup, err := destConn.Backup("main", src, "main")
		if err != nil {
			return err
		}

		for {
			done, err := backup.Step(-1)
			if err != nil {
				backup.Finish() //nolint:errcheck // Step error takes precedence
				return err
			}
			if done {
				break
			}
		}
		return backup.Finish()
	})
	if err != nil {
		return fmt.Errorf("backing up to %s: %w", dest, err)
	}

	db.logger.Info("database backed up", "source", db.name, "dest", dest)
	return nil
}
