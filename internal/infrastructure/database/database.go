package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/sqlitehelper/internal/migration"
)

// Database configuration constants.
const (
	// DefaultPath is the database file used when Config.Path is empty.
	DefaultPath = "./data/sqlite3.db"

	// MemoryName is reported by Name for in-memory databases.
	MemoryName = ":memory:"

	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// defaultBusyTimeout is used when Config.BusyTimeout is zero (seconds).
	defaultBusyTimeout = 5

	// connectionTimeout is the timeout for verifying database connectivity.
	connectionTimeout = 5 * time.Second
)

// Config contains database configuration options.
// These map to the database section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// The directory is created if it doesn't exist. Ignored when Memory is set.
	Path string

	// Memory opens a private in-memory database.
	Memory bool

	// Readonly opens the database in read-only mode.
	Readonly bool

	// FileMustExist fails with ErrDatabaseNotFound instead of creating the file.
	FileMustExist bool

	// WALMode enables Write-Ahead Logging. Ignored for in-memory and
	// read-only databases.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int

	// Migrate, when set, runs migrations as part of Open.
	Migrate *MigrateOptions

	// Logger receives database and migration messages. Nil discards them.
	Logger migration.Logger
}

// DB owns one SQLite connection and exposes the query and CRUD helpers.
//
// The pool is capped at a single connection which never expires, so
// in-memory databases and registered functions live as long as the DB.
// Statements serialise on that connection: do not call DB methods while
// a QueryIterate loop or a Transaction callback holds it.
type DB struct {
	Helpers

	sqlDB     *sql.DB
	connector *connector
	name      string
	memory    bool
	readonly  bool
	logger    migration.Logger

	open  atomic.Bool
	inTx  atomic.Bool
	runMu sync.Mutex // serialises Migrate calls sharing one runner per table
}

// connector opens mattn/go-sqlite3 connections for one DSN. Its ConnectHook
// replays registered functions, aggregators and extensions on every new
// connection.
type connector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver

	mu    sync.Mutex
	hooks []func(*sqlite3.SQLiteConn) error
}

func newConnector(dsn string) *connector {
	c := &connector{dsn: dsn}
	c.driver = &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			for _, hook := range c.hooks {
				if err := hook(conn); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return c
}

// Connect implements driver.Connector.
func (c *connector) Connect(_ context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

// Driver implements driver.Connector.
func (c *connector) Driver() driver.Driver {
	return c.driver
}

func (c *connector) addHook(hook func(*sqlite3.SQLiteConn) error) {
	c.mu.Lock()
	c.hooks = append(c.hooks, hook)
	c.mu.Unlock()
}

// Open creates a new database connection with the specified configuration.
//
// It performs the following setup:
//  1. Creates the database directory unless FileMustExist or Readonly is set
//  2. Opens the database (file or memory) with busy timeout and foreign keys
//  3. Configures WAL mode when requested
//  4. Verifies the connection with a ping
//  5. Runs migrations when cfg.Migrate is set
//
// A migration failure closes the database and is returned.
//
// Parameters:
//   - ctx: Context for the ping and the optional migration run
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: If configuration, connection or migration fails
//
// Thread Safety:
//   - The returned DB is safe for concurrent use; it holds a single
//     connection, so statements run one at a time
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Memory && cfg.Readonly {
		return nil, ErrMemoryReadonly
	}

	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	name := MemoryName
	var dsn string
	if cfg.Memory {
		dsn = fmt.Sprintf("file::memory:?_busy_timeout=%d&_foreign_keys=on", busyTimeout*msPerSecond)
	} else {
		name = cfg.Path
		if name == "" {
			name = DefaultPath
		}

		if cfg.FileMustExist || cfg.Readonly {
			if _, err := os.Stat(name); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
				}
				return nil, fmt.Errorf("checking database file: %w", err)
			}
		} else if err := os.MkdirAll(filepath.Dir(name), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// See: https://github.com/mattn/go-sqlite3#connection-string
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", name, busyTimeout*msPerSecond)
		if cfg.Readonly {
			dsn += "&mode=ro"
		} else if cfg.WALMode {
			dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
		}
	}

	conn := newConnector(dsn)
	sqlDB := sql.OpenDB(conn)

	// One connection that never expires: an in-memory database and the
	// functions registered on it die with the connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db := &DB{
		sqlDB:     sqlDB,
		connector: conn,
		name:      name,
		memory:    cfg.Memory,
		readonly:  cfg.Readonly,
		logger:    logger,
	}
	db.Helpers = Helpers{q: sqlDB, guard: db.checkOpen}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	db.open.Store(true)

	if !cfg.Memory && !cfg.Readonly {
		// Owner read/write only.
		_ = os.Chmod(name, filePermissions) //nolint:errcheck // Best effort
	}

	if cfg.Migrate != nil {
		if _, err := db.Migrate(ctx, *cfg.Migrate); err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, err
		}
	}

	return db, nil
}

func (db *DB) checkOpen() error {
	if !db.open.Load() {
		return ErrClosed
	}
	return nil
}

// Close closes the database connection gracefully.
// Closing an already closed DB is a no-op.
func (db *DB) Close() error {
	if !db.open.CompareAndSwap(true, false) {
		return nil
	}
	if err := db.sqlDB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Name returns the database file path, or ":memory:".
func (db *DB) Name() string {
	return db.name
}

// Memory reports whether the database lives in memory.
func (db *DB) Memory() bool {
	return db.memory
}

// Readonly reports whether the database was opened read-only.
func (db *DB) Readonly() bool {
	return db.readonly
}

// IsOpen reports whether Close has not been called yet.
func (db *DB) IsOpen() bool {
	return db.open.Load()
}

// InTransaction reports whether a Transaction callback is running.
func (db *DB) InTransaction() bool {
	return db.inTx.Load()
}

// SQLDB returns the underlying connection pool.
// Statements on it share the single connection with the helpers.
func (db *DB) SQLDB() *sql.DB {
	return db.sqlDB
}

// HealthCheck verifies the database is accessible and functioning.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	var result int
	if err := db.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats returns database connection pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.sqlDB.Stats()
}

// Tx is a transaction handed to a Transaction callback.
// It carries the same helpers as DB.
type Tx struct {
	Helpers

	tx *sql.Tx
}

// Transaction runs fn inside a transaction.
//
// The transaction commits when fn returns nil and rolls back when fn
// returns an error or panics. fn must use tx, not db: the DB's single
// connection is held by the transaction until it ends.
//
// Example:
//
//	err := db.Transaction(ctx, func(tx *database.Tx) error {
//	    if _, err := tx.Insert(ctx, "Setting", database.Record{"key": "a"}); err != nil {
//	        return err
//	    }
//	    _, err := tx.Delete(ctx, "Setting", database.Equals{"key": "b"})
//	    return err
//	})
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	sqlTx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	db.inTx.Store(true)
	defer db.inTx.Store(false)

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback() //nolint:errcheck // Re-panicking
			panic(p)
		}
	}()

	tx := &Tx{tx: sqlTx}
	tx.Helpers = Helpers{q: sqlTx}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back transaction: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
