/*
store.go - Persistence interfaces for programs, outcomes, blocks and audit

PURPOSE:
  Defines the boundary between allocation logic and the database. Services
  depend on these interfaces; store/sqlite and generic/store implement them.

KEY INTERFACES:
  ProgramStore:     Annual programs (logical delete only)
  OutcomeStore:     Per employee allocation outcomes (one row per program+employee)
  BlockStore:       Reservation blocks and their reservations
  AuditLog:         Append-only audit trail
  Store:            All of the above
  TxStore:          Store + WithTx for atomic multi-record writes

ATOMIC UNITS:
  - A program transition and its AuditEntry are written in one WithTx.
  - A reservation, the outcome it updates and its audit entry are one WithTx.
  - An escalation move (expire + insert into overflow) is one WithTx.

APPEND-ONLY AUDIT:
  AuditLog has Append and Query. No Update() or Delete() methods exist.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (production)
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - types.go: record types
  - program/service.go, reservation/scheduler.go: main callers
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// PROGRAMS
// =============================================================================

type ProgramStore interface {
	// SaveProgram inserts or updates a program.
	SaveProgram(ctx context.Context, p AnnualProgram) error

	// GetProgram returns nil, nil when the id is unknown.
	GetProgram(ctx context.Context, id ProgramID) (*AnnualProgram, error)

	// ListPrograms returns all programs (deleted included), newest year first.
	ListPrograms(ctx context.Context) ([]AnnualProgram, error)
}

// =============================================================================
// OUTCOMES
// =============================================================================

type OutcomeStore interface {
	// SaveOutcome replaces the outcome for (ProgramID, EmployeeID) as one unit.
	SaveOutcome(ctx context.Context, o AllocationOutcome) error

	// GetOutcome returns nil, nil when no outcome exists yet.
	GetOutcome(ctx context.Context, programID ProgramID, employeeID EmployeeID) (*AllocationOutcome, error)

	ListOutcomes(ctx context.Context, programID ProgramID) ([]AllocationOutcome, error)
}

// =============================================================================
// BLOCKS
// =============================================================================

type BlockFilter struct {
	ProgramID ProgramID
	AreaID    *AreaID
	GroupID   *GroupID
	Overflow  *bool
	State     *BlockState
}

type BlockStore interface {
	SaveBlock(ctx context.Context, b Block) error

	// GetBlock returns nil, nil when the id is unknown.
	GetBlock(ctx context.Context, id BlockID) (*Block, error)

	// ListBlocks returns blocks ordered by (area, group, number).
	ListBlocks(ctx context.Context, filter BlockFilter) ([]Block, error)

	SaveReservation(ctx context.Context, r Reservation) error

	// ListReservations returns a block's reservations ordered by position,
	// then creation order.
	ListReservations(ctx context.Context, blockID BlockID) ([]Reservation, error)

	// ListEmployeeReservations returns every reservation of an employee
	// within a program.
	ListEmployeeReservations(ctx context.Context, programID ProgramID, employeeID EmployeeID) ([]Reservation, error)
}

// =============================================================================
// AUDIT LOG - Who did what when
// =============================================================================

type AuditAction string

const (
	AuditCreate AuditAction = "Create"
	AuditUpdate AuditAction = "Update"
	AuditDelete AuditAction = "Delete"
)

// AuditEntry records one state change. Never mutated once appended.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actorId"`
	Action    AuditAction    `json:"action"`
	Model     string         `json:"model"`    // "AnnualProgram", "Reservation", ...
	RecordID  string         `json:"recordId"` // id of the changed record
	AreaID    AreaID         `json:"areaId,omitempty"`
	GroupID   GroupID        `json:"groupId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	Model    string
	RecordID string
	ActorID  string
	Actions  []AuditAction
	From     *time.Time
	To       *time.Time
	Limit    int
}

// =============================================================================
// COMBINED + TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	ProgramStore
	OutcomeStore
	BlockStore
	AuditLog
}

// TxStore wraps Store with transaction support.
// If fn returns error, every write made through the Store passed to fn is
// rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
