// Package database provides the SQL-backed contact store.
//
// Two dialects are supported: SQLite (the default, any path or ":memory:") and PostgreSQL
// (selected by a postgres:// or postgresql:// URL). Every reconciliation runs inside one
// transaction obtained from [DB.WithinTx].
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dawgdevv/identity-reconciliation/internal/models"
)

// Dialect identifies the SQL driver in use
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// Options configures a database connection
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	BusyTimeout  time.Duration
	Logger       *log.Logger
}

// DB wraps the sql.DB connection
type DB struct {
	Conn    *sql.DB
	dialect Dialect
	logger  *log.Logger
}

// New creates a new database connection and runs migrations
func New(dbURL string, opts Options) (*DB, error) {
	db, err := Open(dbURL, opts)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db.logger.Info("Database initialized successfully", "dialect", db.dialect)
	return db, nil
}

// Open connects to the database without touching the schema
func Open(dbURL string, opts Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	dialect, dsn := parseURL(dbURL, opts.BusyTimeout)

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch {
	case dialect == SQLite && isMemory(dbURL):
		// every connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Conn: conn, dialect: dialect, logger: opts.Logger}, nil
}

// Dialect returns the SQL dialect of the connection
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping verifies the connection is alive
func (db *DB) Ping(ctx context.Context) error {
	return db.Conn.PingContext(ctx)
}

// WithinTx implements [models.Store].
//
// PostgreSQL transactions run at serializable isolation. SQLite connections are opened with
// _txlock=immediate, so a transaction takes the write lock when it begins and concurrent
// reconciliations queue behind it.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, repo models.ContactRepository) error) error {
	opts := &sql.TxOptions{}
	if db.dialect == Postgres {
		opts.Isolation = sql.LevelSerializable
	}

	tx, err := db.Conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, NewContactRepository(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Conn.Close()
}

// parseURL picks the driver for dbURL and returns the DSN to hand it
func parseURL(dbURL string, busyTimeout time.Duration) (Dialect, string) {
	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		return Postgres, dbURL
	}

	path := strings.TrimPrefix(dbURL, "sqlite://")
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	params.Set("_foreign_keys", "on")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return SQLite, path + sep + params.Encode()
}

func isMemory(dbURL string) bool {
	return strings.Contains(dbURL, ":memory:") || strings.Contains(dbURL, "mode=memory")
}
