// Package store provides an in-memory generic.TxStore for tests and local runs.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MiltronBee/leave-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore, generic.Directory,
// generic.InadmissibleCalendar and generic.LeaveSource.
type Memory struct {
	mu sync.RWMutex
	st state
}

type outcomeKey struct {
	ProgramID  generic.ProgramID
	EmployeeID generic.EmployeeID
}

type state struct {
	programs     map[generic.ProgramID]generic.AnnualProgram
	outcomes     map[outcomeKey]generic.AllocationOutcome
	blocks       map[generic.BlockID]generic.Block
	reservations map[generic.ReservationID]generic.Reservation
	resOrder     []generic.ReservationID
	audit        []generic.AuditEntry

	employees    map[generic.EmployeeID]generic.Employee
	groups       map[generic.GroupID]generic.Group
	areas        map[generic.AreaID]generic.Area
	inadmissible []generic.InadmissibleDay
	leave        []generic.LeaveRecord
}

func NewMemory() *Memory {
	return &Memory{st: state{
		programs:     make(map[generic.ProgramID]generic.AnnualProgram),
		outcomes:     make(map[outcomeKey]generic.AllocationOutcome),
		blocks:       make(map[generic.BlockID]generic.Block),
		reservations: make(map[generic.ReservationID]generic.Reservation),
		employees:    make(map[generic.EmployeeID]generic.Employee),
		groups:       make(map[generic.GroupID]generic.Group),
		areas:        make(map[generic.AreaID]generic.Area),
	}}
}

// =============================================================================
// DIRECTORY SEEDING
// =============================================================================

func (m *Memory) AddEmployee(e generic.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.employees[e.ID] = e
}

func (m *Memory) AddGroup(g generic.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.groups[g.ID] = g
}

func (m *Memory) AddArea(a generic.Area) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.areas[a.ID] = a
}

func (m *Memory) AddInadmissibleDay(d generic.InadmissibleDay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.inadmissible = append(m.st.inadmissible, d)
}

func (m *Memory) AddLeave(l generic.LeaveRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.leave = append(m.st.leave, l)
}

// Save* mirror the sqlite directory writes so seed loading works on both.

func (m *Memory) SaveArea(_ context.Context, a generic.Area) error {
	m.AddArea(a)
	return nil
}

func (m *Memory) SaveGroup(_ context.Context, g generic.Group) error {
	if g.StartVariant == 0 {
		g.StartVariant = 1
	}
	m.AddGroup(g)
	return nil
}

func (m *Memory) SaveEmployee(_ context.Context, e generic.Employee) error {
	m.AddEmployee(e)
	return nil
}

func (m *Memory) SaveInadmissibleDay(_ context.Context, d generic.InadmissibleDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.st.inadmissible {
		if existing.ID == d.ID {
			m.st.inadmissible[i] = d
			return nil
		}
		if existing.Date.Equal(d.Date) {
			return fmt.Errorf("inadmissible day %s: %w", d.Date, generic.ErrAlreadyExists)
		}
	}
	m.st.inadmissible = append(m.st.inadmissible, d)
	return nil
}

func (m *Memory) SaveLeave(_ context.Context, l generic.LeaveRecord) error {
	if l.Period.End.Before(l.Period.Start) {
		return generic.ErrInvalidPeriod
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.st.leave {
		if existing.ID == l.ID {
			m.st.leave[i] = l
			return nil
		}
	}
	m.st.leave = append(m.st.leave, l)
	return nil
}

// =============================================================================
// generic.Directory
// =============================================================================

func (m *Memory) GetEmployee(_ context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.st.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployeesByGroup(_ context.Context, groupID generic.GroupID) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.Employee
	for _, e := range m.st.employees {
		if e.GroupID == groupID && e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListActiveEmployees(_ context.Context) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.Employee
	for _, e := range m.st.employees {
		if e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetGroup(_ context.Context, id generic.GroupID) (*generic.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.st.groups[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *Memory) ListGroups(_ context.Context) ([]generic.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]generic.Group, 0, len(m.st.groups))
	for _, g := range m.st.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetArea(_ context.Context, id generic.AreaID) (*generic.Area, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.st.areas[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// =============================================================================
// generic.InadmissibleCalendar / generic.LeaveSource
// =============================================================================

func (m *Memory) InadmissibleOn(_ context.Context, date generic.TimePoint) (*generic.InadmissibleDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.st.inadmissible {
		if d.Date.Equal(date) {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

func (m *Memory) InadmissibleDays(_ context.Context, period generic.Period) ([]generic.InadmissibleDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.InadmissibleDay
	for _, d := range m.st.inadmissible {
		if period.Contains(d.Date) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) ApprovedLeave(_ context.Context, employeeID generic.EmployeeID, period generic.Period) ([]generic.LeaveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.LeaveRecord
	for _, l := range m.st.leave {
		if l.EmployeeID == employeeID && l.Period.Overlaps(period) {
			out = append(out, l)
		}
	}
	return out, nil
}

// =============================================================================
// generic.Store - locking wrappers around the *Locked implementations
// =============================================================================

func (m *Memory) SaveProgram(_ context.Context, p generic.AnnualProgram) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveProgram(p)
}

func (m *Memory) GetProgram(_ context.Context, id generic.ProgramID) (*generic.AnnualProgram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getProgram(id), nil
}

func (m *Memory) ListPrograms(_ context.Context) ([]generic.AnnualProgram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPrograms(), nil
}

func (m *Memory) SaveOutcome(_ context.Context, o generic.AllocationOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveOutcome(o)
}

func (m *Memory) GetOutcome(_ context.Context, programID generic.ProgramID, employeeID generic.EmployeeID) (*generic.AllocationOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getOutcome(programID, employeeID), nil
}

func (m *Memory) ListOutcomes(_ context.Context, programID generic.ProgramID) ([]generic.AllocationOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listOutcomes(programID), nil
}

func (m *Memory) SaveBlock(_ context.Context, b generic.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveBlock(b)
}

func (m *Memory) GetBlock(_ context.Context, id generic.BlockID) (*generic.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getBlock(id), nil
}

func (m *Memory) ListBlocks(_ context.Context, filter generic.BlockFilter) ([]generic.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listBlocks(filter), nil
}

func (m *Memory) SaveReservation(_ context.Context, r generic.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveReservation(r)
}

func (m *Memory) ListReservations(_ context.Context, blockID generic.BlockID) ([]generic.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listReservations(blockID), nil
}

func (m *Memory) ListEmployeeReservations(_ context.Context, programID generic.ProgramID, employeeID generic.EmployeeID) ([]generic.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listEmployeeReservations(programID, employeeID), nil
}

func (m *Memory) Append(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendAudit(entry)
}

func (m *Memory) Query(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.queryAudit(filter), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView runs against the already locked state.
type txView struct {
	st *state
}

func (tv *txView) SaveProgram(_ context.Context, p generic.AnnualProgram) error {
	return tv.st.saveProgram(p)
}
func (tv *txView) GetProgram(_ context.Context, id generic.ProgramID) (*generic.AnnualProgram, error) {
	return tv.st.getProgram(id), nil
}
func (tv *txView) ListPrograms(_ context.Context) ([]generic.AnnualProgram, error) {
	return tv.st.listPrograms(), nil
}
func (tv *txView) SaveOutcome(_ context.Context, o generic.AllocationOutcome) error {
	return tv.st.saveOutcome(o)
}
func (tv *txView) GetOutcome(_ context.Context, p generic.ProgramID, e generic.EmployeeID) (*generic.AllocationOutcome, error) {
	return tv.st.getOutcome(p, e), nil
}
func (tv *txView) ListOutcomes(_ context.Context, p generic.ProgramID) ([]generic.AllocationOutcome, error) {
	return tv.st.listOutcomes(p), nil
}
func (tv *txView) SaveBlock(_ context.Context, b generic.Block) error { return tv.st.saveBlock(b) }
func (tv *txView) GetBlock(_ context.Context, id generic.BlockID) (*generic.Block, error) {
	return tv.st.getBlock(id), nil
}
func (tv *txView) ListBlocks(_ context.Context, f generic.BlockFilter) ([]generic.Block, error) {
	return tv.st.listBlocks(f), nil
}
func (tv *txView) SaveReservation(_ context.Context, r generic.Reservation) error {
	return tv.st.saveReservation(r)
}
func (tv *txView) ListReservations(_ context.Context, id generic.BlockID) ([]generic.Reservation, error) {
	return tv.st.listReservations(id), nil
}
func (tv *txView) ListEmployeeReservations(_ context.Context, p generic.ProgramID, e generic.EmployeeID) ([]generic.Reservation, error) {
	return tv.st.listEmployeeReservations(p, e), nil
}
func (tv *txView) Append(_ context.Context, entry generic.AuditEntry) error {
	return tv.st.appendAudit(entry)
}
func (tv *txView) Query(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	return tv.st.queryAudit(f), nil
}

// =============================================================================
// STATE - unlocked implementations shared by Memory and txView
// =============================================================================

func (s *state) clone() state {
	c := state{
		programs:     make(map[generic.ProgramID]generic.AnnualProgram, len(s.programs)),
		outcomes:     make(map[outcomeKey]generic.AllocationOutcome, len(s.outcomes)),
		blocks:       make(map[generic.BlockID]generic.Block, len(s.blocks)),
		reservations: make(map[generic.ReservationID]generic.Reservation, len(s.reservations)),
		resOrder:     append([]generic.ReservationID(nil), s.resOrder...),
		audit:        append([]generic.AuditEntry(nil), s.audit...),
		employees:    s.employees,
		groups:       s.groups,
		areas:        s.areas,
		inadmissible: s.inadmissible,
		leave:        s.leave,
	}
	for k, v := range s.programs {
		c.programs[k] = v
	}
	for k, v := range s.outcomes {
		c.outcomes[k] = copyOutcome(v)
	}
	for k, v := range s.blocks {
		c.blocks[k] = v
	}
	for k, v := range s.reservations {
		v.Dates = append([]generic.TimePoint(nil), v.Dates...)
		c.reservations[k] = v
	}
	return c
}

func copyOutcome(o generic.AllocationOutcome) generic.AllocationOutcome {
	o.AutoAssigned = append([]generic.TimePoint(nil), o.AutoAssigned...)
	o.Chosen = append([]generic.TimePoint(nil), o.Chosen...)
	return o
}

func (s *state) saveProgram(p generic.AnnualProgram) error {
	s.programs[p.ID] = p
	return nil
}

func (s *state) getProgram(id generic.ProgramID) *generic.AnnualProgram {
	p, ok := s.programs[id]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) listPrograms() []generic.AnnualProgram {
	out := make([]generic.AnnualProgram, 0, len(s.programs))
	for _, p := range s.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *state) saveOutcome(o generic.AllocationOutcome) error {
	s.outcomes[outcomeKey{o.ProgramID, o.EmployeeID}] = copyOutcome(o)
	return nil
}

func (s *state) getOutcome(p generic.ProgramID, e generic.EmployeeID) *generic.AllocationOutcome {
	o, ok := s.outcomes[outcomeKey{p, e}]
	if !ok {
		return nil
	}
	o = copyOutcome(o)
	return &o
}

func (s *state) listOutcomes(p generic.ProgramID) []generic.AllocationOutcome {
	var out []generic.AllocationOutcome
	for k, o := range s.outcomes {
		if k.ProgramID == p {
			out = append(out, copyOutcome(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}

func (s *state) saveBlock(b generic.Block) error {
	s.blocks[b.ID] = b
	return nil
}

func (s *state) getBlock(id generic.BlockID) *generic.Block {
	b, ok := s.blocks[id]
	if !ok {
		return nil
	}
	return &b
}

func (s *state) listBlocks(f generic.BlockFilter) []generic.Block {
	var out []generic.Block
	for _, b := range s.blocks {
		if f.ProgramID != "" && b.ProgramID != f.ProgramID {
			continue
		}
		if f.AreaID != nil && b.AreaID != *f.AreaID {
			continue
		}
		if f.GroupID != nil && b.GroupID != *f.GroupID {
			continue
		}
		if f.Overflow != nil && b.Overflow != *f.Overflow {
			continue
		}
		if f.State != nil && b.State != *f.State {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AreaID != out[j].AreaID {
			return out[i].AreaID < out[j].AreaID
		}
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].Number < out[j].Number
	})
	return out
}

func (s *state) saveReservation(r generic.Reservation) error {
	if _, exists := s.reservations[r.ID]; !exists {
		s.resOrder = append(s.resOrder, r.ID)
	}
	r.Dates = append([]generic.TimePoint(nil), r.Dates...)
	s.reservations[r.ID] = r
	return nil
}

func (s *state) listReservations(blockID generic.BlockID) []generic.Reservation {
	var out []generic.Reservation
	for _, id := range s.resOrder {
		r := s.reservations[id]
		if r.BlockID == blockID {
			r.Dates = append([]generic.TimePoint(nil), r.Dates...)
			out = append(out, r)
		}
	}
	// resOrder is insertion order, so a stable sort keeps ties first-come.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *state) listEmployeeReservations(p generic.ProgramID, e generic.EmployeeID) []generic.Reservation {
	var out []generic.Reservation
	for _, id := range s.resOrder {
		r := s.reservations[id]
		if r.EmployeeID != e {
			continue
		}
		if b, ok := s.blocks[r.BlockID]; ok && b.ProgramID == p {
			r.Dates = append([]generic.TimePoint(nil), r.Dates...)
			out = append(out, r)
		}
	}
	return out
}

func (s *state) appendAudit(entry generic.AuditEntry) error {
	s.audit = append(s.audit, entry)
	return nil
}

func (s *state) queryAudit(f generic.AuditFilter) []generic.AuditEntry {
	var out []generic.AuditEntry
	for _, e := range s.audit {
		if f.Model != "" && e.Model != f.Model {
			continue
		}
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
			continue
		}
		if f.From != nil && e.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Timestamp.After(*f.To) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func containsAction(actions []generic.AuditAction, a generic.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
