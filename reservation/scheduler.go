/*
Package reservation lays employees out across capacity-limited reservation
blocks and lets them choose their remaining vacation days.

PURPOSE:
  After auto-assignment, every employee with choose days left is given a
  position in a block of their Area+Group. Blocks open one after another;
  while its window is open a block accepts reservations up to its capacity.
  Employees who let their window pass are moved to a single overflow
  ("cola") block per Area+Group, and flagged for urgent action when that
  one expires too.

LIFECYCLE OF A RESERVATION:
  Pending --Reserve--> Assigned
  Pending --EscalateExpired (ordinary block past deadline)--> Expired
          + new Pending in the overflow block
  Pending in overflow --EscalateExpired (overflow past deadline)--> Pending,
          RequiresUrgentAction

CONCURRENCY:
  Every mutation of an Area+Group runs under that group's mutex and inside
  one store transaction, so capacity checks and writes are atomic. Reads of
  the directory, calendar and leave sources happen before the transaction.
  Notifications are handed off after commit and never block the caller.

SEE ALSO:
  - windows.go: window layout and weekend pause
  - policy.go: Config and PositionPolicy
  - stats.go: per-block progress
*/
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MiltronBee/leave-engine/absence"
	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/notify"
	"github.com/MiltronBee/leave-engine/rotation"
)

const (
	BlockAuditModel       = "ReservationBlock"
	ReservationAuditModel = "Reservation"
)

const schedulerActor = "scheduler"

const windowLayout = "2006-01-02 15:04"

type Scheduler struct {
	store    generic.TxStore
	dir      generic.Directory
	resolver *rotation.Resolver
	cfg      Config
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[groupKey]*sync.Mutex
}

type groupKey struct {
	area  generic.AreaID
	group generic.GroupID
}

type Option func(*Scheduler)

func WithNotifier(n notify.Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func NewScheduler(store generic.TxStore, dir generic.Directory, resolver *rotation.Resolver, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		dir:      dir,
		resolver: resolver,
		cfg:      cfg.normalized(),
		notifier: notify.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
		locks:    make(map[groupKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Config() Config { return s.cfg }

// lock serializes all block work of one Area+Group.
func (s *Scheduler) lock(area generic.AreaID, group generic.GroupID) func() {
	s.mu.Lock()
	k := groupKey{area, group}
	m, ok := s.locks[k]
	if !ok {
		m = &sync.Mutex{}
		s.locks[k] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// =============================================================================
// OPEN BLOCKS
// =============================================================================

// OpenBlocksFor creates the ordinary blocks of one Area+Group, each
// pre-loaded with Pending reservations in roster order. The roster is every
// active member whose outcome still has choose days left. A group with
// nobody to schedule yields no blocks.
func (s *Scheduler) OpenBlocksFor(ctx context.Context, programID generic.ProgramID, areaID generic.AreaID, groupID generic.GroupID, start generic.TimePoint) ([]generic.Block, error) {
	program, err := s.activeProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	group, err := s.dir.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, generic.NotFound("group", string(groupID))
	}
	if group.AreaID != areaID {
		return nil, generic.Invalid("areaId", "group %s belongs to area %s, not %s", groupID, group.AreaID, areaID)
	}
	if start.IsZero() {
		return nil, generic.Invalid("start", "start date is required")
	}

	unlock := s.lock(areaID, groupID)
	defer unlock()

	if existing, err := s.ordinaryBlocks(ctx, s.store, programID, areaID, groupID); err != nil {
		return nil, err
	} else if len(existing) > 0 {
		return nil, fmt.Errorf("blocks for group %s in program %s: %w", groupID, programID, generic.ErrAlreadyExists)
	}

	roster, remaining, err := s.roster(ctx, programID, groupID)
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		s.logger.Info("no employees to schedule", "program", programID, "group", groupID)
		return nil, nil
	}

	count := (len(roster) + s.cfg.Capacity - 1) / s.cfg.Capacity
	windows, err := layoutWindows(ctx, s.resolver, *group, start, count, s.cfg.BlockDuration, s.cfg.OpenHour)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	blocks := make([]generic.Block, 0, count)
	var notices []notify.Notice
	err = s.store.WithTx(ctx, func(tx generic.Store) error {
		if existing, err := s.ordinaryBlocks(ctx, tx, programID, areaID, groupID); err != nil {
			return err
		} else if len(existing) > 0 {
			return fmt.Errorf("blocks for group %s in program %s: %w", groupID, programID, generic.ErrAlreadyExists)
		}
		for i, w := range windows {
			b := generic.Block{
				ID:          generic.BlockID(uuid.NewString()),
				ProgramID:   program.ID,
				AreaID:      areaID,
				GroupID:     groupID,
				Number:      i + 1,
				WindowStart: w.Start,
				WindowEnd:   w.End,
				Capacity:    s.cfg.Capacity,
				State:       generic.BlockOpen,
				CreatedAt:   now,
			}
			if err := tx.SaveBlock(ctx, b); err != nil {
				return err
			}
			lo := i * s.cfg.Capacity
			hi := min(lo+s.cfg.Capacity, len(roster))
			members := make([]string, 0, hi-lo)
			for pos, emp := range roster[lo:hi] {
				r := generic.Reservation{
					ID:         generic.ReservationID(uuid.NewString()),
					BlockID:    b.ID,
					EmployeeID: emp.ID,
					Position:   pos + 1,
					Status:     generic.ReservationPending,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := tx.SaveReservation(ctx, r); err != nil {
					return err
				}
				members = append(members, string(emp.ID))
				notices = append(notices, notify.Notice{
					Kind:       notify.KindBlockAssigned,
					To:         emp.Email,
					EmployeeID: emp.ID,
					ProgramID:  program.ID,
					BlockID:    b.ID,
					CreatedAt:  now,
					Data: map[string]any{
						"blockNumber": b.Number,
						"position":    r.Position,
						"windowStart": b.WindowStart.Format(windowLayout),
						"windowEnd":   b.WindowEnd.Format(windowLayout),
						"remaining":   remaining[emp.ID],
					},
				})
			}
			if err := tx.Append(ctx, s.blockAudit(b, generic.AuditCreate, schedulerActor, now, map[string]any{
				"blockNumber": b.Number,
				"capacity":    b.Capacity,
				"windowStart": b.WindowStart,
				"windowEnd":   b.WindowEnd,
				"employees":   members,
			})); err != nil {
				return err
			}
			blocks = append(blocks, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("blocks opened",
		"program", programID, "area", areaID, "group", groupID,
		"blocks", len(blocks), "employees", len(roster))
	s.emit(ctx, notices...)
	return blocks, nil
}

// OpenSummary reports an OpenAll run.
type OpenSummary struct {
	ProgramID    generic.ProgramID `json:"programId"`
	Groups       int               `json:"groups"`
	Blocks       int               `json:"blocks"`
	AlreadyOpen  []generic.GroupID `json:"alreadyOpen,omitempty"`
	Failed       []GroupFailure    `json:"failed,omitempty"`
	BlocksOpened []generic.Block   `json:"-"`
}

type GroupFailure struct {
	GroupID generic.GroupID `json:"groupId"`
	Error   string          `json:"error"`
}

// OpenAll opens blocks for every group. Groups that already have blocks are
// reported and skipped; a failing group does not stop the others.
func (s *Scheduler) OpenAll(ctx context.Context, programID generic.ProgramID, start generic.TimePoint) (OpenSummary, error) {
	summary := OpenSummary{ProgramID: programID}
	if _, err := s.activeProgram(ctx, programID); err != nil {
		return summary, err
	}
	groups, err := s.dir.ListGroups(ctx)
	if err != nil {
		return summary, err
	}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Groups++
		blocks, err := s.OpenBlocksFor(ctx, programID, g.AreaID, g.ID, start)
		switch {
		case generic.IsAlreadyExists(err):
			summary.AlreadyOpen = append(summary.AlreadyOpen, g.ID)
		case err != nil:
			s.logger.Error("opening blocks failed", "program", programID, "group", g.ID, "error", err)
			summary.Failed = append(summary.Failed, GroupFailure{GroupID: g.ID, Error: err.Error()})
		default:
			summary.Blocks += len(blocks)
			summary.BlocksOpened = append(summary.BlocksOpened, blocks...)
		}
	}
	return summary, nil
}

// roster returns the active members with choose days left, ordered by the
// position policy, and the days each may still choose.
func (s *Scheduler) roster(ctx context.Context, programID generic.ProgramID, groupID generic.GroupID) ([]generic.Employee, map[generic.EmployeeID]int, error) {
	members, err := s.dir.ListEmployeesByGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	outcomes, err := s.store.ListOutcomes(ctx, programID)
	if err != nil {
		return nil, nil, err
	}
	byEmployee := make(map[generic.EmployeeID]generic.AllocationOutcome, len(outcomes))
	for _, o := range outcomes {
		byEmployee[o.EmployeeID] = o
	}
	remaining := make(map[generic.EmployeeID]int)
	var out []generic.Employee
	for _, e := range members {
		o, ok := byEmployee[e.ID]
		if !ok {
			s.logger.Warn("employee has no allocation outcome, not scheduled", "program", programID, "employee", e.ID)
			continue
		}
		if n := o.RemainingChoose(); n > 0 {
			out = append(out, e)
			remaining[e.ID] = n
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return s.cfg.Positions(out[i], out[j]) })
	return out, remaining, nil
}

// =============================================================================
// RESERVE
// =============================================================================

type ReserveRequest struct {
	EmployeeID generic.EmployeeID
	BlockID    generic.BlockID
	Dates      []generic.TimePoint
	ActorID    string
}

// Reserve books dates for an employee in an open block. A rostered
// employee converts their own Pending slot; anyone else takes a free slot.
// An employee already Assigned in the block may add dates while choose
// days remain, one call per date if they like.
func (s *Scheduler) Reserve(ctx context.Context, req ReserveRequest) (*generic.Reservation, error) {
	if len(req.Dates) == 0 {
		return nil, generic.Invalid("dates", "at least one date is required")
	}
	block, err := s.store.GetBlock(ctx, req.BlockID)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, generic.NotFound("block", string(req.BlockID))
	}
	emp, err := s.dir.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, generic.NotFound("employee", string(req.EmployeeID))
	}
	if emp.AreaID != block.AreaID || emp.GroupID != block.GroupID {
		return nil, generic.Invalid("blockId", "block %s belongs to another area or group", block.ID)
	}
	program, err := s.store.GetProgram(ctx, block.ProgramID)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return nil, generic.NotFound("program", string(block.ProgramID))
	}
	group, err := s.dir.GetGroup(ctx, emp.GroupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, generic.Misconfigured("reservation", "employee %s belongs to unknown group %q", emp.ID, emp.GroupID)
	}

	dates, err := s.validateDates(ctx, *emp, *group, *program, req.Dates)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(block.AreaID, block.GroupID)
	defer unlock()

	var area *generic.Area
	var members []generic.Employee
	if s.cfg.Absence.Enabled() {
		if area, err = s.dir.GetArea(ctx, block.AreaID); err != nil {
			return nil, err
		}
		if members, err = s.dir.ListEmployeesByGroup(ctx, block.GroupID); err != nil {
			return nil, err
		}
	}

	actor := req.ActorID
	if actor == "" {
		actor = string(emp.ID)
	}
	now := s.now().UTC()
	var saved generic.Reservation
	err = s.store.WithTx(ctx, func(tx generic.Store) error {
		b, err := tx.GetBlock(ctx, req.BlockID)
		if err != nil {
			return err
		}
		if b == nil {
			return generic.NotFound("block", string(req.BlockID))
		}
		p, err := tx.GetProgram(ctx, b.ProgramID)
		if err != nil {
			return err
		}
		if err := reservable(*b, p, now); err != nil {
			return err
		}

		reservations, err := tx.ListReservations(ctx, b.ID)
		if err != nil {
			return err
		}
		var own *generic.Reservation
		holding, lastPos := 0, 0
		for i := range reservations {
			r := reservations[i]
			if r.Holding() {
				holding++
			}
			lastPos = max(lastPos, r.Position)
			if r.EmployeeID == emp.ID && r.Status != generic.ReservationTransferred {
				own = &reservations[i]
			}
		}
		outcome, err := tx.GetOutcome(ctx, b.ProgramID, emp.ID)
		if err != nil {
			return err
		}

		switch {
		case own != nil && own.Status == generic.ReservationAssigned && (outcome == nil || outcome.RemainingChoose() == 0):
			return &generic.ValidationError{Field: "employeeId", Message: "employee already reserved all days in this block", Err: generic.ErrAlreadyExists}
		case own != nil && own.Status == generic.ReservationExpired:
			return &generic.CapacityError{BlockID: b.ID, Reason: generic.ErrExpired}
		case own == nil && holding >= b.Capacity:
			return &generic.CapacityError{BlockID: b.ID, Reason: generic.ErrBlockFull}
		}
		if own == nil {
			if err := s.holdsElsewhere(ctx, tx, b.ProgramID, emp.ID, b.ID); err != nil {
				return err
			}
		}

		if outcome == nil {
			return generic.Invalid("employeeId", "employee %s has no allocation outcome; run auto-assignment first", emp.ID)
		}
		for _, d := range dates {
			if outcome.Holds(d) {
				return generic.Invalid("dates", "%s is already assigned to the employee", d)
			}
		}
		if len(dates) > outcome.RemainingChoose() {
			return generic.Invalid("dates", "%d dates requested but only %d remain", len(dates), outcome.RemainingChoose())
		}

		if s.cfg.Absence.Enabled() {
			outcomes, err := tx.ListOutcomes(ctx, b.ProgramID)
			if err != nil {
				return err
			}
			ledger := absence.LedgerFor(s.cfg.Absence, area, members, outcomes)
			for _, d := range dates {
				if c := ledger.Check(d); !c.Allowed {
					return generic.Invalid("dates", "%s exceeds the group absence limit (deficit %s%%)", d, c.Deficit.StringFixed(2))
				}
				ledger.Take(d)
			}
		}

		action := generic.AuditUpdate
		if own != nil {
			saved = *own
		} else {
			action = generic.AuditCreate
			saved = generic.Reservation{
				ID:         generic.ReservationID(uuid.NewString()),
				BlockID:    b.ID,
				EmployeeID: emp.ID,
				Position:   lastPos + 1,
				CreatedAt:  now,
			}
		}
		saved.Status = generic.ReservationAssigned
		saved.Dates = append(append([]generic.TimePoint(nil), saved.Dates...), dates...)
		sort.Slice(saved.Dates, func(i, j int) bool { return saved.Dates[i].Before(saved.Dates[j]) })
		saved.UpdatedAt = now
		if err := tx.SaveReservation(ctx, saved); err != nil {
			return err
		}

		outcome.Chosen = append(outcome.Chosen, dates...)
		sort.Slice(outcome.Chosen, func(i, j int) bool { return outcome.Chosen[i].Before(outcome.Chosen[j]) })
		outcome.UpdatedAt = now
		if err := tx.SaveOutcome(ctx, *outcome); err != nil {
			return err
		}

		return tx.Append(ctx, generic.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   actor,
			Action:    action,
			Model:     ReservationAuditModel,
			RecordID:  string(saved.ID),
			AreaID:    b.AreaID,
			GroupID:   b.GroupID,
			Payload: map[string]any{
				"blockId":     string(b.ID),
				"blockNumber": b.Number,
				"overflow":    b.Overflow,
				"employeeId":  string(emp.ID),
				"status":      string(saved.Status),
				"dates":       dateKeys(dates),
			},
		})
	})
	if err != nil {
		s.logger.Info("reservation rejected", "block", req.BlockID, "employee", req.EmployeeID, "error", err)
		return nil, err
	}

	s.logger.Info("reservation confirmed", "block", saved.BlockID, "employee", emp.ID, "days", len(dates))
	s.emit(ctx, notify.Notice{
		Kind:       notify.KindReservationConfirmed,
		To:         emp.Email,
		EmployeeID: emp.ID,
		ProgramID:  block.ProgramID,
		BlockID:    block.ID,
		CreatedAt:  now,
		Data:       map[string]any{"dates": dateKeys(dates)},
	})
	return &saved, nil
}

// reservable checks block state and window against now.
func reservable(b generic.Block, p *generic.AnnualProgram, now time.Time) error {
	if p == nil || !p.Active() || b.State == generic.BlockClosed || now.Before(b.WindowStart) {
		return &generic.CapacityError{BlockID: b.ID, Reason: generic.ErrBlockClosed}
	}
	if now.After(b.WindowEnd) {
		return &generic.CapacityError{BlockID: b.ID, Reason: generic.ErrExpired}
	}
	return nil
}

// holdsElsewhere rejects a new reservation while the employee still holds
// one in another block of the program.
func (s *Scheduler) holdsElsewhere(ctx context.Context, tx generic.Store, programID generic.ProgramID, empID generic.EmployeeID, blockID generic.BlockID) error {
	mine, err := tx.ListEmployeeReservations(ctx, programID, empID)
	if err != nil {
		return err
	}
	for _, r := range mine {
		if r.BlockID != blockID && r.Holding() {
			return generic.Invalid("blockId", "employee %s already holds a reservation in block %s", empID, r.BlockID)
		}
	}
	return nil
}

// validateDates checks dates against the program year and the employee's
// calendar and returns them sorted.
func (s *Scheduler) validateDates(ctx context.Context, emp generic.Employee, group generic.Group, program generic.AnnualProgram, dates []generic.TimePoint) ([]generic.TimePoint, error) {
	seen := make(map[string]bool, len(dates))
	out := make([]generic.TimePoint, 0, len(dates))
	for _, d := range dates {
		d = generic.DayOf(d.Time)
		if !program.Period.Contains(d) {
			return nil, generic.Invalid("dates", "%s is outside program %d", d, program.Year)
		}
		if seen[d.Key()] {
			return nil, generic.Invalid("dates", "%s is listed twice", d)
		}
		seen[d.Key()] = true
		res, err := s.resolver.ResolveFor(ctx, emp.ID, group, d)
		if err != nil {
			return nil, err
		}
		if !res.IsWorkday() {
			return nil, generic.Invalid("dates", "%s is not a workday for the employee (%s)", d, res.Activity)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// =============================================================================
// ESCALATION
// =============================================================================

type EscalationItem struct {
	EmployeeID generic.EmployeeID `json:"employeeId"`
	FromBlock  generic.BlockID    `json:"fromBlock,omitempty"`
	ToBlock    generic.BlockID    `json:"toBlock,omitempty"`
	Urgent     bool               `json:"urgent"`
}

type EscalationSummary struct {
	ProgramID generic.ProgramID `json:"programId"`
	Closed    int               `json:"closed"`
	Escalated int               `json:"escalated"`
	Flagged   int               `json:"flagged"`
	Items     []EscalationItem  `json:"items"`
}

func (s *EscalationSummary) add(o EscalationSummary) {
	s.Closed += o.Closed
	s.Escalated += o.Escalated
	s.Flagged += o.Flagged
	s.Items = append(s.Items, o.Items...)
}

// EscalateExpired closes blocks whose window ended before now, moves their
// Pending reservations to the overflow block of the group and flags Pending
// overflow reservations once the overflow block itself expires. Running it
// again with the same now changes nothing.
func (s *Scheduler) EscalateExpired(ctx context.Context, programID generic.ProgramID, now time.Time) (EscalationSummary, error) {
	summary := EscalationSummary{ProgramID: programID}
	if _, err := s.activeProgram(ctx, programID); err != nil {
		return summary, err
	}
	blocks, err := s.store.ListBlocks(ctx, generic.BlockFilter{ProgramID: programID})
	if err != nil {
		return summary, err
	}
	var keys []groupKey
	seen := make(map[groupKey]bool)
	for _, b := range blocks {
		k := groupKey{b.AreaID, b.GroupID}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	now = now.UTC()
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		part, err := s.escalateGroup(ctx, programID, k, now)
		if err != nil {
			s.logger.Error("escalation failed", "program", programID, "area", k.area, "group", k.group, "error", err)
			return summary, err
		}
		summary.add(part)
	}
	if summary.Closed+summary.Escalated+summary.Flagged > 0 {
		s.logger.Info("escalation finished",
			"program", programID, "closed", summary.Closed,
			"escalated", summary.Escalated, "flagged", summary.Flagged)
	}
	return summary, nil
}

func (s *Scheduler) escalateGroup(ctx context.Context, programID generic.ProgramID, k groupKey, now time.Time) (EscalationSummary, error) {
	unlock := s.lock(k.area, k.group)
	defer unlock()

	members, err := s.dir.ListEmployeesByGroup(ctx, k.group)
	if err != nil {
		return EscalationSummary{}, err
	}
	people := make(map[generic.EmployeeID]generic.Employee, len(members))
	for _, m := range members {
		people[m.ID] = m
	}
	manager := s.manager(ctx, k.area)

	var summary EscalationSummary
	var notices []notify.Notice
	err = s.store.WithTx(ctx, func(tx generic.Store) error {
		summary = EscalationSummary{}
		notices = nil

		blocks, err := tx.ListBlocks(ctx, generic.BlockFilter{ProgramID: programID, AreaID: &k.area, GroupID: &k.group})
		if err != nil {
			return err
		}
		var ordinary []generic.Block
		var overflow *generic.Block
		for i := range blocks {
			if blocks[i].Overflow {
				overflow = &blocks[i]
			} else {
				ordinary = append(ordinary, blocks[i])
			}
		}

		var moved []generic.Reservation
		rostered := 0
		for _, b := range ordinary {
			rs, err := tx.ListReservations(ctx, b.ID)
			if err != nil {
				return err
			}
			rostered += len(rs)
			if b.State == generic.BlockClosed || !now.After(b.WindowEnd) {
				continue
			}
			b.State = generic.BlockClosed
			if err := tx.SaveBlock(ctx, b); err != nil {
				return err
			}
			if err := tx.Append(ctx, s.blockAudit(b, generic.AuditUpdate, schedulerActor, now, map[string]any{
				"state": string(generic.BlockClosed),
			})); err != nil {
				return err
			}
			summary.Closed++
			for _, r := range rs {
				if r.Status != generic.ReservationPending {
					continue
				}
				r.Status = generic.ReservationExpired
				r.UpdatedAt = now
				if err := tx.SaveReservation(ctx, r); err != nil {
					return err
				}
				if err := tx.Append(ctx, s.reservationAudit(r, b, generic.AuditUpdate, schedulerActor, now)); err != nil {
					return err
				}
				moved = append(moved, r)
			}
		}

		if len(moved) > 0 {
			if overflow == nil {
				ob := s.newOverflow(programID, k, ordinary, rostered, now)
				if err := tx.SaveBlock(ctx, ob); err != nil {
					return err
				}
				if err := tx.Append(ctx, s.blockAudit(ob, generic.AuditCreate, schedulerActor, now, map[string]any{
					"blockNumber": ob.Number,
					"capacity":    ob.Capacity,
					"overflow":    true,
					"windowStart": ob.WindowStart,
					"windowEnd":   ob.WindowEnd,
				})); err != nil {
					return err
				}
				overflow = &ob
			}
			existing, err := tx.ListReservations(ctx, overflow.ID)
			if err != nil {
				return err
			}
			inOverflow := make(map[generic.EmployeeID]bool, len(existing))
			lastPos := 0
			for _, r := range existing {
				inOverflow[r.EmployeeID] = true
				lastPos = max(lastPos, r.Position)
			}
			for _, from := range moved {
				if inOverflow[from.EmployeeID] {
					continue
				}
				lastPos++
				r := generic.Reservation{
					ID:         generic.ReservationID(uuid.NewString()),
					BlockID:    overflow.ID,
					EmployeeID: from.EmployeeID,
					Position:   lastPos,
					Status:     generic.ReservationPending,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := tx.SaveReservation(ctx, r); err != nil {
					return err
				}
				if err := tx.Append(ctx, s.reservationAudit(r, *overflow, generic.AuditCreate, schedulerActor, now)); err != nil {
					return err
				}
				inOverflow[r.EmployeeID] = true
				summary.Escalated++
				summary.Items = append(summary.Items, EscalationItem{EmployeeID: r.EmployeeID, FromBlock: from.BlockID, ToBlock: overflow.ID})
				notices = append(notices, s.escalationNotices(programID, *overflow, people[r.EmployeeID], manager, now)...)
			}
		}

		if overflow != nil && overflow.State == generic.BlockOpen && now.After(overflow.WindowEnd) {
			rs, err := tx.ListReservations(ctx, overflow.ID)
			if err != nil {
				return err
			}
			for _, r := range rs {
				if r.Status != generic.ReservationPending || r.RequiresUrgentAction {
					continue
				}
				r.RequiresUrgentAction = true
				r.UpdatedAt = now
				if err := tx.SaveReservation(ctx, r); err != nil {
					return err
				}
				if err := tx.Append(ctx, s.reservationAudit(r, *overflow, generic.AuditUpdate, schedulerActor, now)); err != nil {
					return err
				}
				summary.Flagged++
				summary.Items = append(summary.Items, EscalationItem{EmployeeID: r.EmployeeID, FromBlock: overflow.ID, Urgent: true})
				if manager != nil {
					notices = append(notices, notify.Notice{
						Kind:       notify.KindUrgentAction,
						To:         manager.Email,
						EmployeeID: r.EmployeeID,
						ProgramID:  programID,
						BlockID:    overflow.ID,
						CreatedAt:  now,
						Data:       map[string]any{"employeeName": people[r.EmployeeID].Name},
					})
				}
			}
			closed := *overflow
			closed.State = generic.BlockClosed
			if err := tx.SaveBlock(ctx, closed); err != nil {
				return err
			}
			if err := tx.Append(ctx, s.blockAudit(closed, generic.AuditUpdate, schedulerActor, now, map[string]any{
				"state": string(generic.BlockClosed),
			})); err != nil {
				return err
			}
			summary.Closed++
		}
		return nil
	})
	if err != nil {
		return EscalationSummary{}, err
	}
	s.emit(ctx, notices...)
	return summary, nil
}

// newOverflow builds the group's overflow block. It opens once the last
// ordinary window has ended and can hold the whole roster.
func (s *Scheduler) newOverflow(programID generic.ProgramID, k groupKey, ordinary []generic.Block, rostered int, now time.Time) generic.Block {
	var last time.Time
	number := 0
	for _, b := range ordinary {
		if b.WindowEnd.After(last) {
			last = b.WindowEnd
		}
		number = max(number, b.Number)
	}
	start := WeekendPause(last, s.cfg.OpenHour)
	return generic.Block{
		ID:          generic.BlockID(uuid.NewString()),
		ProgramID:   programID,
		AreaID:      k.area,
		GroupID:     k.group,
		Number:      number + 1,
		WindowStart: start,
		WindowEnd:   start.Add(s.cfg.OverflowDuration),
		Capacity:    max(rostered, 1),
		Overflow:    true,
		State:       generic.BlockOpen,
		CreatedAt:   now,
	}
}

func (s *Scheduler) escalationNotices(programID generic.ProgramID, overflow generic.Block, emp generic.Employee, manager *generic.Employee, now time.Time) []notify.Notice {
	data := map[string]any{
		"windowStart": overflow.WindowStart.Format(windowLayout),
		"windowEnd":   overflow.WindowEnd.Format(windowLayout),
	}
	out := []notify.Notice{{
		Kind:       notify.KindEscalated,
		To:         emp.Email,
		EmployeeID: emp.ID,
		ProgramID:  programID,
		BlockID:    overflow.ID,
		CreatedAt:  now,
		Data:       data,
	}}
	if manager != nil {
		mdata := map[string]any{"employeeName": emp.Name}
		for k, v := range data {
			mdata[k] = v
		}
		out = append(out, notify.Notice{
			Kind:       notify.KindEscalated,
			To:         manager.Email,
			EmployeeID: emp.ID,
			ProgramID:  programID,
			BlockID:    overflow.ID,
			CreatedAt:  now,
			Data:       mdata,
		})
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Scheduler) activeProgram(ctx context.Context, id generic.ProgramID) (*generic.AnnualProgram, error) {
	p, err := s.store.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, generic.NotFound("program", string(id))
	}
	if !p.Active() {
		return nil, &generic.ValidationError{
			Field:   "program",
			Message: fmt.Sprintf("program %s is %s", p.ID, p.State),
			Err:     generic.ErrInvalidTransition,
		}
	}
	return p, nil
}

func (s *Scheduler) ordinaryBlocks(ctx context.Context, st generic.BlockStore, programID generic.ProgramID, area generic.AreaID, group generic.GroupID) ([]generic.Block, error) {
	ordinary := false
	return st.ListBlocks(ctx, generic.BlockFilter{ProgramID: programID, AreaID: &area, GroupID: &group, Overflow: &ordinary})
}

// manager returns the area manager, or nil when the area has none.
func (s *Scheduler) manager(ctx context.Context, areaID generic.AreaID) *generic.Employee {
	area, err := s.dir.GetArea(ctx, areaID)
	if err != nil || area == nil || area.ManagerID == "" {
		return nil
	}
	m, err := s.dir.GetEmployee(ctx, area.ManagerID)
	if err != nil {
		return nil
	}
	return m
}

func (s *Scheduler) emit(ctx context.Context, notices ...notify.Notice) {
	for _, n := range notices {
		if n.To == "" {
			continue
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("notification failed", "type", n.Kind, "employee", n.EmployeeID, "error", err)
		}
	}
}

func (s *Scheduler) blockAudit(b generic.Block, action generic.AuditAction, actor string, now time.Time, payload map[string]any) generic.AuditEntry {
	return generic.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   actor,
		Action:    action,
		Model:     BlockAuditModel,
		RecordID:  string(b.ID),
		AreaID:    b.AreaID,
		GroupID:   b.GroupID,
		Payload:   payload,
	}
}

func (s *Scheduler) reservationAudit(r generic.Reservation, b generic.Block, action generic.AuditAction, actor string, now time.Time) generic.AuditEntry {
	return generic.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   actor,
		Action:    action,
		Model:     ReservationAuditModel,
		RecordID:  string(r.ID),
		AreaID:    b.AreaID,
		GroupID:   b.GroupID,
		Payload: map[string]any{
			"blockId":              string(b.ID),
			"employeeId":           string(r.EmployeeID),
			"status":               string(r.Status),
			"requiresUrgentAction": r.RequiresUrgentAction,
		},
	}
}

func dateKeys(days []generic.TimePoint) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Key()
	}
	return out
}
