/*
Package program owns the annual allocation cycle and its lifecycle.

STATE MACHINE:

	Pending ──Activate──► InProgress ──Reschedule──► Rescheduled
	                          │  ▲                        │
	                          │  └────────Activate────────┘
	                          ▼
	                        Closed  ◄────────Close─────────┘

	Delete / DeleteCurrent sets Deleted on any non-Closed, non-deleted
	program; State is left untouched.

RULES:
  - Closed is terminal. A deleted program accepts no further transition.
  - Every transition saves the program and appends exactly one AuditEntry
    (Update, or Delete for deletion) inside one store transaction.
  - At most one non-deleted, non-closed program exists per year.
  - EnsureNextYear creates next year's Pending program only when no
    non-deleted Pending or InProgress program exists at all, and no open
    program (Rescheduled included) already covers next year.
  - Activate refuses while another open program covers the same year.

SEE ALSO:
  - api/scheduler.go: periodic EnsureNextYear
  - generic/store.go: TxStore, AuditLog
*/
package program

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MiltronBee/leave-engine/generic"
)

// AuditModel is the Model name used for program audit entries.
const AuditModel = "AnnualProgram"

// SystemActor is recorded for transitions nobody requested explicitly.
const SystemActor = "system"

type Service struct {
	store  generic.TxStore
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store generic.TxStore, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id generic.ProgramID) (*generic.AnnualProgram, error) {
	p, err := s.store.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, generic.NotFound("program", string(id))
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]generic.AnnualProgram, error) {
	return s.store.ListPrograms(ctx)
}

// Current returns the newest non-deleted, non-closed program.
func (s *Service) Current(ctx context.Context) (*generic.AnnualProgram, error) {
	return current(ctx, s.store)
}

func current(ctx context.Context, st generic.ProgramStore) (*generic.AnnualProgram, error) {
	programs, err := st.ListPrograms(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range programs {
		if !p.Deleted && p.State != generic.ProgramClosed {
			p := p
			return &p, nil
		}
	}
	return nil, generic.NotFound("program", "current")
}

// =============================================================================
// CREATION
// =============================================================================

// Create opens a Pending program covering Jan 1 - Dec 31 of year.
func (s *Service) Create(ctx context.Context, year int, actor string) (*generic.AnnualProgram, error) {
	if year < 1900 || year > 9999 {
		return nil, generic.Invalid("year", "out of range: %d", year)
	}

	var created generic.AnnualProgram
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		programs, err := tx.ListPrograms(ctx)
		if err != nil {
			return err
		}
		if openForYear(programs, year, "") != nil {
			return fmt.Errorf("program for %d: %w", year, generic.ErrAlreadyExists)
		}

		created, err = s.insert(ctx, tx, year, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("program created", "program", created.ID, "year", year, "actor", actor)
	return &created, nil
}

// EnsureNextYear creates the Pending program for now.Year()+1 unless a
// non-deleted Pending or InProgress program already exists, or next year
// already has an open program in any state. Safe to call
// repeatedly; created reports whether a program was inserted.
func (s *Service) EnsureNextYear(ctx context.Context, now time.Time) (p *generic.AnnualProgram, created bool, err error) {
	year := now.Year() + 1

	var result generic.AnnualProgram
	err = s.store.WithTx(ctx, func(tx generic.Store) error {
		programs, err := tx.ListPrograms(ctx)
		if err != nil {
			return err
		}
		for _, existing := range programs {
			if existing.Deleted {
				continue
			}
			if existing.State == generic.ProgramPending || existing.State == generic.ProgramInProgress {
				result = existing
				return nil
			}
		}
		if open := openForYear(programs, year, ""); open != nil {
			result = *open
			return nil
		}
		result, err = s.insert(ctx, tx, year, SystemActor)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("next-year program ensured", "program", result.ID, "year", year)
	}
	return &result, created, nil
}

func (s *Service) insert(ctx context.Context, tx generic.Store, year int, actor string) (generic.AnnualProgram, error) {
	now := s.now().UTC()
	p := generic.AnnualProgram{
		ID:        generic.ProgramID(uuid.NewString()),
		Year:      year,
		State:     generic.ProgramPending,
		Period:    generic.YearPeriod(year),
		OwnerID:   actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.SaveProgram(ctx, p); err != nil {
		return generic.AnnualProgram{}, err
	}
	err := tx.Append(ctx, generic.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   actor,
		Action:    generic.AuditCreate,
		Model:     AuditModel,
		RecordID:  string(p.ID),
		Payload:   map[string]any{"year": year, "state": string(p.State)},
	})
	return p, err
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Activate moves a Pending or Rescheduled program to InProgress.
func (s *Service) Activate(ctx context.Context, id generic.ProgramID, actor string) (*generic.AnnualProgram, error) {
	return s.transition(ctx, id, actor, "activate", generic.ProgramInProgress,
		generic.ProgramPending, generic.ProgramRescheduled)
}

// Reschedule moves an InProgress program to Rescheduled.
func (s *Service) Reschedule(ctx context.Context, id generic.ProgramID, actor string) (*generic.AnnualProgram, error) {
	return s.transition(ctx, id, actor, "reschedule", generic.ProgramRescheduled,
		generic.ProgramInProgress)
}

// Close terminates an InProgress or Rescheduled program.
func (s *Service) Close(ctx context.Context, id generic.ProgramID, actor string) (*generic.AnnualProgram, error) {
	return s.transition(ctx, id, actor, "close", generic.ProgramClosed,
		generic.ProgramInProgress, generic.ProgramRescheduled)
}

// Delete logically deletes a non-closed program. State is preserved.
func (s *Service) Delete(ctx context.Context, id generic.ProgramID, actor string) (*generic.AnnualProgram, error) {
	var out generic.AnnualProgram
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		p, err := tx.GetProgram(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return generic.NotFound("program", string(id))
		}
		out, err = s.markDeleted(ctx, tx, *p, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("program deleted", "program", id, "actor", actor)
	return &out, nil
}

// DeleteCurrent logically deletes the current program.
func (s *Service) DeleteCurrent(ctx context.Context, actor string) (*generic.AnnualProgram, error) {
	var out generic.AnnualProgram
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		p, err := current(ctx, tx)
		if err != nil {
			return err
		}
		out, err = s.markDeleted(ctx, tx, *p, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("current program deleted", "program", out.ID, "year", out.Year, "actor", actor)
	return &out, nil
}

func (s *Service) markDeleted(ctx context.Context, tx generic.Store, p generic.AnnualProgram, actor string) (generic.AnnualProgram, error) {
	if p.Deleted || p.State == generic.ProgramClosed {
		return p, invalidTransition("delete", p)
	}
	now := s.now().UTC()
	p.Deleted = true
	p.UpdatedAt = now
	if err := tx.SaveProgram(ctx, p); err != nil {
		return p, err
	}
	return p, tx.Append(ctx, generic.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   actor,
		Action:    generic.AuditDelete,
		Model:     AuditModel,
		RecordID:  string(p.ID),
		Payload:   map[string]any{"year": p.Year, "state": string(p.State), "deleted": true},
	})
}

func (s *Service) transition(ctx context.Context, id generic.ProgramID, actor, op string, to generic.ProgramState, from ...generic.ProgramState) (*generic.AnnualProgram, error) {
	var out generic.AnnualProgram
	var prev generic.ProgramState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		p, err := tx.GetProgram(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return generic.NotFound("program", string(id))
		}
		if p.Deleted || !allowed(p.State, from) {
			return invalidTransition(op, *p)
		}
		if to == generic.ProgramInProgress {
			programs, err := tx.ListPrograms(ctx)
			if err != nil {
				return err
			}
			if other := openForYear(programs, p.Year, p.ID); other != nil {
				return &generic.ValidationError{
					Field:   "year",
					Message: fmt.Sprintf("cannot %s program %s: program %s is open for %d", op, p.ID, other.ID, p.Year),
					Err:     generic.ErrInvalidTransition,
				}
			}
		}

		now := s.now().UTC()
		prev = p.State
		p.State = to
		p.UpdatedAt = now
		if err := tx.SaveProgram(ctx, *p); err != nil {
			return err
		}
		out = *p
		return tx.Append(ctx, generic.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   actor,
			Action:    generic.AuditUpdate,
			Model:     AuditModel,
			RecordID:  string(p.ID),
			Payload:   map[string]any{"from": string(prev), "to": string(to), "year": p.Year},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("program transition", "program", id, "from", prev, "to", to, "actor", actor)
	return &out, nil
}

// openForYear returns a non-deleted, non-closed program for year other
// than skip, or nil.
func openForYear(programs []generic.AnnualProgram, year int, skip generic.ProgramID) *generic.AnnualProgram {
	for i := range programs {
		p := programs[i]
		if p.Year == year && p.ID != skip && !p.Deleted && p.State != generic.ProgramClosed {
			return &p
		}
	}
	return nil
}

func allowed(state generic.ProgramState, from []generic.ProgramState) bool {
	for _, f := range from {
		if state == f {
			return true
		}
	}
	return false
}

func invalidTransition(op string, p generic.AnnualProgram) error {
	state := string(p.State)
	if p.Deleted {
		state = "deleted"
	}
	return &generic.ValidationError{
		Field:   "state",
		Message: fmt.Sprintf("cannot %s program %s in state %s", op, p.ID, state),
		Err:     generic.ErrInvalidTransition,
	}
}
