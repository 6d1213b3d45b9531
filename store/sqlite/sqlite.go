/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists programs, allocation outcomes, reservation blocks, reservations
  and the audit log, plus the directory records (employees, groups, areas,
  inadmissible days, approved leave) the engine reads.

INTERFACES IMPLEMENTED:
  generic.TxStore:              programs, outcomes, blocks, audit + WithTx
  generic.Directory:            employees, groups, areas
  generic.InadmissibleCalendar: organization-wide non-working days
  generic.LeaveSource:          approved leave ranges

APPEND-ONLY AUDIT:
  audit_log has no UPDATE or DELETE path in Go, and triggers abort any
  attempt made directly in SQL.

KEY CONSTRAINTS:
  - outcomes:      one row per (program_id, employee_id)
  - blocks:        block_number unique per (program, area, group); at most one
                   overflow block per (program, area, group)
  - reservations:  seq keeps first-come order for equal positions

CONCURRENCY:
  The pool is limited to one connection, so a transaction holds the database
  until it commits. Inside WithTx only the Store passed to fn may be used.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and a busy timeout.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MiltronBee/leave-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	repo
	db *sql.DB
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo runs every statement against q.
type repo struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{repo: repo{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Directory
	CREATE TABLE IF NOT EXISTS areas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		manager_id TEXT,
		manning INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS crew_groups (
		id TEXT PRIMARY KEY,
		area_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		start_variant INTEGER NOT NULL DEFAULT 1,
		anchor TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		payroll_number TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT NOT NULL,
		area_id TEXT,
		group_id TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_employees_group ON employees(group_id, active);

	CREATE TABLE IF NOT EXISTS inadmissible_days (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL UNIQUE,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS leave_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		kind TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_leave_employee ON leave_records(employee_id, start_date);

	-- Annual programs (logical delete only)
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		state TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		owner_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Allocation outcomes
	CREATE TABLE IF NOT EXISTS outcomes (
		program_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		entitlement_json TEXT NOT NULL,
		auto_assigned_json TEXT NOT NULL,
		chosen_json TEXT NOT NULL,
		unassigned_reason TEXT,
		detail TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (program_id, employee_id)
	);

	-- Reservation blocks
	CREATE TABLE IF NOT EXISTS blocks (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		area_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		overflow INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_blocks_number
		ON blocks(program_id, area_id, group_id, block_number);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_blocks_one_overflow
		ON blocks(program_id, area_id, group_id) WHERE overflow = 1;

	CREATE TABLE IF NOT EXISTS reservations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		block_id TEXT NOT NULL REFERENCES blocks(id),
		employee_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		dates_json TEXT NOT NULL,
		status TEXT NOT NULL,
		urgent INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reservations_block ON reservations(block_id, position, seq);
	CREATE INDEX IF NOT EXISTS idx_reservations_employee ON reservations(employee_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		model TEXT NOT NULL,
		record_id TEXT NOT NULL,
		area_id TEXT,
		group_id TEXT,
		payload_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_log(model, record_id);

	CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
	BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
	BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func parseDate(s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, nil
	}
	return generic.ParseDate(s)
}

func formatDate(tp generic.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.Key()
}

func marshalDays(days []generic.TimePoint) (string, error) {
	if days == nil {
		days = []generic.TimePoint{}
	}
	b, err := json.Marshal(days)
	return string(b), err
}

func unmarshalDays(s string) ([]generic.TimePoint, error) {
	var days []generic.TimePoint
	if err := json.Unmarshal([]byte(s), &days); err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, nil
	}
	return days, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
