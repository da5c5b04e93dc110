package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// openPingTimeout bounds the connectivity check inside Open.
	openPingTimeout = 5 * time.Second
)

// DB is the SQLite store backing the punch-event recorder. It embeds
// *sql.DB, so callers use the standard query surface directly; this
// wrapper adds lifecycle, migrations, and a health check.
//
// The store is diagnostic only. The terminal remains the system of
// record and the file can be deleted between runs without losing
// anything the gateway owns.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the recorder section of config.yaml.
type Config struct {
	// Path to the database file. Parent directories are created.
	Path string

	// WALMode turns on write-ahead logging so Recent queries can run
	// while the dispatch goroutine is inserting.
	WALMode bool

	// BusyTimeout in seconds. Bounds how long a statement waits on the
	// file lock before failing instead of hanging dispatch.
	BusyTimeout int
}

// buildDSN assembles the go-sqlite3 connection string. Foreign keys are
// always on; WAL and the busy timeout come from config.
func buildDSN(cfg Config) string {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return dsn
}

// Open opens (creating if necessary) the recorder database and verifies
// it answers before returning.
//
// The pool is pinned to a single connection: SQLite allows one writer,
// and the recorder is the only writer this process has. Event inserts
// and Recent queries serialise on it rather than fighting over the file
// lock.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Owner-only permissions. The file may not exist until the first
	// write on some filesystems, so a failure here is not fatal.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close releases the underlying connection. Safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path the store was opened with.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck issues a trivial query to confirm the store still answers.
// Used by the startup health sweep.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
