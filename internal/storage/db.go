package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("already exists")
)

// DB wraps SQLite database operations
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates a SQLite database and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db: db, now: time.Now}, nil
}

// dsn appends connection parameters. They are applied by the driver to every
// pooled connection: WAL for concurrent readers, foreign keys, a busy
// timeout and immediate transactions so writers queue instead of failing.
func dsn(path string) string {
	params := []string{
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
		"_foreign_keys=on",
		"_txlock=immediate",
	}
	return path + "?" + strings.Join(params, "&")
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// SetClock replaces the time source. Tests use it to pin timestamps.
func (d *DB) SetClock(now func() time.Time) {
	d.now = now
}

// Now returns the current time in UTC as seen by the store.
func (d *DB) Now() time.Time {
	return d.now().UTC()
}

// Ping checks the database connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// NewID returns a time-ordered unique identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewToken returns an opaque random token for sessions and unsubscribe links.
func NewToken() string {
	return uuid.NewString() + uuid.NewString()[:8]
}

// withTx runs fn inside a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mapError converts driver errors into package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

// affected returns ErrNotFound when res touched no rows.
func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullString maps "" to NULL.
func nullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
