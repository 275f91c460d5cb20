// Package db provides the SQLite-backed implementation of the storage port.
//
// The database runs embedded (ncruces/go-sqlite3, WAL mode) by default. A
// remote Turso/libSQL database can be used instead through OpenLibSQL; both
// share the same schema and queries.
//
// Architecture:
//   - Database file: .postlink/postlink.db
//   - WAL mode: concurrent readers during writes
//   - Schema: schedule, posts
//   - Index: posts(linked_schedule_id) backs the link query used by the cascade
//
// Ids are INTEGER PRIMARY KEY AUTOINCREMENT rowids, exposed as decimal
// strings, so they are monotonic and never reused.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/postlink/internal/datenorm"
	"github.com/mschirtzinger/postlink/internal/store"
)

// DB wraps the SQL connection and implements store.Store.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

var _ store.Store = (*DB)(nil)

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The schema is created if it does not exist yet.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	database, err := db.Open(".postlink/postlink.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newDB(conn, path)
}

func newDB(conn *sql.DB, path string) (*DB, error) {
	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	if err := db.InitSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the location the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing; remote libSQL ignores the pragma.
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS schedule (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		due_date TEXT,
		missed_deadline INTEGER NOT NULL DEFAULT 0,
		market TEXT NOT NULL DEFAULT '',
		client TEXT NOT NULL DEFAULT '',
		project TEXT NOT NULL DEFAULT '',
		task TEXT NOT NULL DEFAULT '',
		team TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	-- linked_schedule_id is a weak reference: no foreign key, deleting a
	-- schedule row orphans posts instead of removing them.
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_date TEXT,
		status TEXT NOT NULL DEFAULT 'Pending',
		linked_schedule_id INTEGER,
		linked_date_offset INTEGER NOT NULL DEFAULT 0,
		linked_row_orphaned INTEGER NOT NULL DEFAULT 0,
		client TEXT NOT NULL DEFAULT '',
		market TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		caption TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedule_due ON schedule(due_date);
	CREATE INDEX IF NOT EXISTS idx_posts_linked ON posts(linked_schedule_id);
	CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status);
	CREATE INDEX IF NOT EXISTS idx_posts_date ON posts(post_date);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// parseID converts a public id to a rowid. Provisional or malformed ids can
// never exist in the database, so they are reported as not found.
func parseID(c store.Collection, id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, store.NotFound(c, id)
	}
	return n, nil
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

// dateToNullString converts a nullable date to a nullable SQL string.
func dateToNullString(d *datenorm.Date) sql.NullString {
	if d == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// nullStringToDate converts a nullable SQL string to a nullable date.
// Unparseable stored values degrade to nil.
func nullStringToDate(ns sql.NullString) *datenorm.Date {
	if !ns.Valid {
		return nil
	}
	return datenorm.Optional(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func persistErr(c store.Collection, id, op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	return &store.PersistError{Collection: c, ID: id, Op: op, Err: err}
}
