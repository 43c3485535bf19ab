// Package db provides SQLite persistence for the backlog tracker: users and
// sessions, teams, projects, work items and the append-only history ledger.
//
// The database is stored at ~/.backlog/backlog.db by default.
// Use Open() to connect and Init() to create the schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_by TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS team_members (
	team_id TEXT NOT NULL REFERENCES teams(id),
	user_id TEXT NOT NULL REFERENCES users(id),
	role TEXT NOT NULL DEFAULT 'MEMBER',
	joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (team_id, user_id)
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	team_id TEXT REFERENCES teams(id),
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_by TEXT NOT NULL,
	item_seq INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS work_items (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL,
	type TEXT NOT NULL,
	project_id TEXT NOT NULL REFERENCES projects(id),
	parent_id TEXT REFERENCES work_items(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'TODO',
	priority INTEGER NOT NULL DEFAULT 2,
	assignee_id TEXT REFERENCES users(id),
	reporter_id TEXT NOT NULL,
	start_date DATETIME,
	end_date DATETIME,
	completed_at DATETIME,
	version INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (project_id, external_id)
);

CREATE TABLE IF NOT EXISTS work_item_history (
	id INTEGER PRIMARY KEY,
	work_item_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	field_name TEXT NOT NULL DEFAULT '',
	old_value TEXT,
	new_value TEXT,
	change_type TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id);
CREATE INDEX IF NOT EXISTS idx_projects_team ON projects(team_id);
CREATE INDEX IF NOT EXISTS idx_work_items_project ON work_items(project_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_work_items_parent ON work_items(parent_id);
CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_history_item ON work_item_history(work_item_id, created_at);
`

// DB wraps a SQL database connection with tracker-specific operations.
type DB struct {
	*sql.DB
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx so helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DefaultPath returns the default database path (~/.backlog/backlog.db)
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".backlog", "backlog.db"), nil
}

// Open opens or creates the database at the given path.
//
// Pragmas go through the DSN so every pooled connection gets them. The pool
// is held to one connection: SQLite serializes writers anyway, and a single
// connection turns in-process contention into queueing instead of
// SQLITE_BUSY.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return New(sqlDB), nil
}

// New wraps an already-open connection. Open is the usual entry point;
// New exists for callers that bring their own *sql.DB.
func New(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the time source used for timestamps. Tests use it to
// pin completedAt and history times.
func (db *DB) SetClock(now func() time.Time) {
	db.now = func() time.Time { return now().UTC() }
}

// Init creates the schema.
func (db *DB) Init() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on nil and rolling back on
// error. Lock contention and lost optimistic races are retried; see
// retry.go.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryTransient(ctx, func() error {
		return db.runTx(ctx, fn)
	})
}

func (db *DB) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
