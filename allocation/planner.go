/*
Package allocation places each employee's automatic vacation days.

PURPOSE:
  For every employee in a program year: look up the entitlement, walk the
  employee's rotation calendar (leave and inadmissible days overlaid),
  drop excluded ISO weeks and days already held, and let a DaySelector
  pick AutoAssignDays workdays. The result is one AllocationOutcome.

OUTCOMES:
  Placed                 all AutoAssignDays selected
  InsufficientDays       fewer usable workdays than AutoAssignDays
  NoAvailableShifts      the group's rotation cannot be resolved
  ProcessingError        unexpected failure or panic, isolated to the employee
  Other                  entitlement table does not cover the employee

BATCH:
  PlanProgram runs groups in parallel (bounded) and the employees of one
  group sequentially, so the per-group absence ledger needs no locking.
  Cancellation is checked between employees; each outcome is written in
  its own transaction, so a cancelled batch leaves only whole outcomes.

IMMUTABILITY:
  Once the program is InProgress or Rescheduled, a placed outcome is never
  recomputed. Chosen days are always carried over.

SEE ALSO:
  - policy.go: DaySelector implementations
  - absence/limit.go: optional group absence limit
*/
package allocation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MiltronBee/leave-engine/absence"
	"github.com/MiltronBee/leave-engine/entitlement"
	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/rotation"
)

// AuditModel is the Model name used for outcome audit entries.
const AuditModel = "AllocationOutcome"

const plannerActor = "planner"

type Planner struct {
	store    generic.TxStore
	dir      generic.Directory
	resolver *rotation.Resolver
	table    *entitlement.Table

	selector DaySelector
	excluded map[int]bool
	workers  int
	limit    absence.Policy
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Planner)

func WithSelector(s DaySelector) Option { return func(p *Planner) { p.selector = s } }

// WithExcludedWeeks replaces the default excluded ISO weeks. An empty list
// excludes nothing.
func WithExcludedWeeks(weeks []int) Option {
	return func(p *Planner) {
		p.excluded = make(map[int]bool, len(weeks))
		for _, w := range weeks {
			p.excluded[w] = true
		}
	}
}

func WithWorkers(n int) Option { return func(p *Planner) { p.workers = n } }

func WithAbsencePolicy(policy absence.Policy) Option { return func(p *Planner) { p.limit = policy } }

func WithLogger(l *slog.Logger) Option { return func(p *Planner) { p.logger = l } }

func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

func NewPlanner(store generic.TxStore, dir generic.Directory, resolver *rotation.Resolver, table *entitlement.Table, opts ...Option) *Planner {
	p := &Planner{
		store:    store,
		dir:      dir,
		resolver: resolver,
		table:    table,
		selector: SingleWeekFirst,
		workers:  4,
		logger:   slog.Default(),
		now:      time.Now,
	}
	WithExcludedWeeks(DefaultExcludedWeeks())(p)
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	return p
}

// =============================================================================
// BATCH TYPES
// =============================================================================

type PlanOptions struct {
	// Simulate computes outcomes without writing anything.
	Simulate bool
	// EmployeeIDs restricts the batch; empty means every active employee.
	EmployeeIDs []generic.EmployeeID
}

// BatchItem describes one employee that was not placed.
type BatchItem struct {
	EmployeeID generic.EmployeeID       `json:"employeeId"`
	Reason     generic.UnassignedReason `json:"reason"`
	Detail     string                   `json:"detail,omitempty"`
}

type BatchSummary struct {
	ProgramID generic.ProgramID `json:"programId"`
	Simulated bool              `json:"simulated"`
	Cancelled bool              `json:"cancelled"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Items     []BatchItem       `json:"items"`

	// Outcomes is filled only for simulations.
	Outcomes []generic.AllocationOutcome `json:"outcomes,omitempty"`
}

// =============================================================================
// SINGLE EMPLOYEE
// =============================================================================

// PlanAutoAssignment computes and stores the outcome for one employee.
// The returned error, when set, names the specific failure; the outcome
// still carries the recorded reason.
func (p *Planner) PlanAutoAssignment(ctx context.Context, employee generic.Employee, program generic.AnnualProgram) (generic.AllocationOutcome, error) {
	if err := plannable(program); err != nil {
		return generic.AllocationOutcome{}, err
	}
	existing, err := p.store.GetOutcome(ctx, program.ID, employee.ID)
	if err != nil {
		return generic.AllocationOutcome{}, err
	}
	ledger, err := p.ledgerFor(ctx, program, employee.GroupID)
	if err != nil {
		return generic.AllocationOutcome{}, err
	}
	res := p.planOne(ctx, employee, program, existing, ledger, false)
	return res.outcome, res.err
}

// =============================================================================
// BATCH
// =============================================================================

// PlanProgram plans every active employee (or opts.EmployeeIDs). Per
// employee failures never abort the batch. A cancelled context stops the
// batch between employees and is returned alongside the partial summary.
func (p *Planner) PlanProgram(ctx context.Context, programID generic.ProgramID, opts PlanOptions) (BatchSummary, error) {
	summary := BatchSummary{ProgramID: programID, Simulated: opts.Simulate}

	program, err := p.store.GetProgram(ctx, programID)
	if err != nil {
		return summary, err
	}
	if program == nil {
		return summary, generic.NotFound("program", string(programID))
	}
	if err := plannable(*program); err != nil {
		return summary, err
	}

	employees, err := p.employees(ctx, opts.EmployeeIDs)
	if err != nil {
		return summary, err
	}
	outcomes, err := p.store.ListOutcomes(ctx, programID)
	if err != nil {
		return summary, err
	}
	existing := make(map[generic.EmployeeID]generic.AllocationOutcome, len(outcomes))
	for _, o := range outcomes {
		existing[o.EmployeeID] = o
	}

	byGroup := make(map[generic.GroupID][]generic.Employee)
	var groups []generic.GroupID
	for _, e := range employees {
		if _, ok := byGroup[e.GroupID]; !ok {
			groups = append(groups, e.GroupID)
		}
		byGroup[e.GroupID] = append(byGroup[e.GroupID], e)
	}

	var (
		mu      sync.Mutex
		results []planResult
	)
	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, gid := range groups {
		members := byGroup[gid]
		g.Go(func() error {
			ledger, err := p.ledgerFromOutcomes(ctx, gid, outcomes)
			for _, emp := range members {
				if ctx.Err() != nil {
					return nil
				}
				var res planResult
				if err != nil {
					res = p.failed(emp, *program, &generic.ProcessingError{EmployeeID: emp.ID, Err: err})
				} else {
					var prior *generic.AllocationOutcome
					if o, ok := existing[emp.ID]; ok {
						prior = &o
					}
					res = p.planOne(ctx, emp, *program, prior, ledger, opts.Simulate)
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].outcome.EmployeeID < results[j].outcome.EmployeeID })
	for _, r := range results {
		summary.Total++
		switch {
		case r.skipped:
			summary.Skipped++
		case r.outcome.Placed() && r.err == nil:
			summary.Succeeded++
		default:
			summary.Failed++
			summary.Items = append(summary.Items, BatchItem{
				EmployeeID: r.outcome.EmployeeID,
				Reason:     r.outcome.UnassignedReason,
				Detail:     r.outcome.Detail,
			})
		}
		if opts.Simulate && !r.skipped {
			summary.Outcomes = append(summary.Outcomes, r.outcome)
		}
	}

	if err := ctx.Err(); err != nil {
		summary.Cancelled = true
		p.logger.Warn("auto-assignment cancelled", "program", programID, "processed", summary.Total, "of", len(employees))
		return summary, err
	}
	p.logger.Info("auto-assignment finished",
		"program", programID,
		"simulated", opts.Simulate,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

func (p *Planner) employees(ctx context.Context, ids []generic.EmployeeID) ([]generic.Employee, error) {
	if len(ids) == 0 {
		return p.dir.ListActiveEmployees(ctx)
	}
	out := make([]generic.Employee, 0, len(ids))
	for _, id := range ids {
		e, err := p.dir.GetEmployee(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, generic.NotFound("employee", string(id))
		}
		out = append(out, *e)
	}
	return out, nil
}

func plannable(program generic.AnnualProgram) error {
	if program.Deleted || program.State == generic.ProgramClosed {
		return &generic.ValidationError{
			Field:   "program",
			Message: fmt.Sprintf("program %s is closed or deleted", program.ID),
			Err:     generic.ErrInvalidTransition,
		}
	}
	return nil
}

// =============================================================================
// PER EMPLOYEE
// =============================================================================

type planResult struct {
	outcome generic.AllocationOutcome
	skipped bool
	err     error
}

func (p *Planner) planOne(ctx context.Context, emp generic.Employee, program generic.AnnualProgram, existing *generic.AllocationOutcome, ledger *absence.Ledger, simulate bool) planResult {
	if existing != nil && existing.Placed() && program.Active() {
		return planResult{outcome: *existing, skipped: true}
	}
	if ledger != nil && existing != nil {
		ledger.Release(*existing)
	}

	out, err := p.compute(ctx, emp, program, existing, ledger)
	if err != nil {
		p.logger.Warn("employee not placed",
			"program", program.ID, "employee", emp.ID, "reason", out.UnassignedReason, "error", err)
	}
	if simulate {
		return planResult{outcome: out, err: err}
	}
	saved, saveErr := p.save(ctx, out)
	if saveErr != nil {
		res := p.failed(emp, program, &generic.ProcessingError{EmployeeID: emp.ID, Err: saveErr})
		res.outcome.Entitlement = out.Entitlement
		return res
	}
	return planResult{outcome: saved, err: err}
}

func (p *Planner) failed(emp generic.Employee, program generic.AnnualProgram, err error) planResult {
	p.logger.Error("employee processing failed", "program", program.ID, "employee", emp.ID, "error", err)
	return planResult{
		outcome: generic.AllocationOutcome{
			ProgramID:        program.ID,
			EmployeeID:       emp.ID,
			UnassignedReason: generic.ReasonProcessingError,
			Detail:           err.Error(),
			UpdatedAt:        p.now().UTC(),
		},
		err: err,
	}
}

// compute never panics: a panic becomes a ProcessingError outcome.
func (p *Planner) compute(ctx context.Context, emp generic.Employee, program generic.AnnualProgram, existing *generic.AllocationOutcome, ledger *absence.Ledger) (out generic.AllocationOutcome, err error) {
	out = generic.AllocationOutcome{
		ProgramID:  program.ID,
		EmployeeID: emp.ID,
		UpdatedAt:  p.now().UTC(),
	}
	if existing != nil {
		out.Chosen = append([]generic.TimePoint(nil), existing.Chosen...)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &generic.ProcessingError{EmployeeID: emp.ID, Err: fmt.Errorf("panic: %v", r)}
			out.AutoAssigned = nil
			out.UnassignedReason = generic.ReasonProcessingError
			out.Detail = err.Error()
		}
	}()

	years := entitlement.YearsOfService(emp.HireDate, program.Period.Start)
	band, err := p.table.Lookup(years)
	if err != nil {
		return unassigned(out, generic.ReasonOther, err), err
	}
	out.Entitlement = band.Snapshot(years)
	need := band.AutoAssignDays
	if need == 0 {
		return out, nil
	}

	group, err := p.dir.GetGroup(ctx, emp.GroupID)
	if err != nil {
		err = &generic.ProcessingError{EmployeeID: emp.ID, Err: err}
		return unassigned(out, generic.ReasonProcessingError, err), err
	}
	if group == nil {
		err = generic.Misconfigured("rotation", "employee %s belongs to unknown group %q", emp.ID, emp.GroupID)
		return unassigned(out, generic.ReasonNoAvailableShifts, err), err
	}

	calendar, err := p.resolver.Calendar(ctx, emp.ID, *group, program.Period)
	if err != nil {
		if generic.IsConfiguration(err) {
			return unassigned(out, generic.ReasonNoAvailableShifts, err), err
		}
		err = &generic.ProcessingError{EmployeeID: emp.ID, Err: err}
		return unassigned(out, generic.ReasonProcessingError, err), err
	}

	var candidates []generic.TimePoint
	for _, day := range calendar {
		if !day.IsWorkday() || p.excluded[day.Date.ISOWeek()] || out.Holds(day.Date) {
			continue
		}
		if ledger != nil && !ledger.Allows(day.Date) {
			continue
		}
		candidates = append(candidates, day.Date)
	}

	picked := p.selector(candidates, need)
	if len(picked) > need {
		picked = picked[:need]
	}
	out.AutoAssigned = picked
	if ledger != nil {
		for _, d := range picked {
			ledger.Take(d)
		}
	}
	if len(picked) < need {
		out.UnassignedReason = generic.ReasonInsufficientDays
		out.Detail = fmt.Sprintf("%d of %d automatic days could be placed", len(picked), need)
	}
	return out, nil
}

func unassigned(out generic.AllocationOutcome, reason generic.UnassignedReason, err error) generic.AllocationOutcome {
	out.AutoAssigned = nil
	out.UnassignedReason = reason
	out.Detail = err.Error()
	return out
}

// save writes the outcome and its audit entry as one unit. Chosen days
// are re-read inside the transaction so a concurrent reservation is kept,
// and automatic days it took in the meantime are dropped.
func (p *Planner) save(ctx context.Context, out generic.AllocationOutcome) (generic.AllocationOutcome, error) {
	err := p.store.WithTx(ctx, func(tx generic.Store) error {
		cur, err := tx.GetOutcome(ctx, out.ProgramID, out.EmployeeID)
		if err != nil {
			return err
		}
		action := generic.AuditUpdate
		if cur == nil {
			action = generic.AuditCreate
		} else {
			out.Chosen = cur.Chosen
			out = dropChosen(out)
		}
		if err := tx.SaveOutcome(ctx, out); err != nil {
			return err
		}
		payload := map[string]any{
			"autoAssigned": len(out.AutoAssigned),
			"totalDays":    out.Entitlement.TotalDays,
		}
		if out.UnassignedReason != generic.ReasonNone {
			payload["unassignedReason"] = string(out.UnassignedReason)
		}
		return tx.Append(ctx, generic.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: out.UpdatedAt,
			ActorID:   plannerActor,
			Action:    action,
			Model:     AuditModel,
			RecordID:  string(out.ProgramID) + "/" + string(out.EmployeeID),
			Payload:   payload,
		})
	})
	return out, err
}

// dropChosen removes automatic days that are also chosen days.
func dropChosen(out generic.AllocationOutcome) generic.AllocationOutcome {
	if len(out.Chosen) == 0 || len(out.AutoAssigned) == 0 {
		return out
	}
	chosen := make(map[string]bool, len(out.Chosen))
	for _, d := range out.Chosen {
		chosen[d.Key()] = true
	}
	kept := make([]generic.TimePoint, 0, len(out.AutoAssigned))
	for _, d := range out.AutoAssigned {
		if !chosen[d.Key()] {
			kept = append(kept, d)
		}
	}
	if len(kept) == len(out.AutoAssigned) {
		return out
	}
	out.AutoAssigned = kept
	if out.UnassignedReason == generic.ReasonNone {
		out.UnassignedReason = generic.ReasonInsufficientDays
		out.Detail = fmt.Sprintf("%d of %d automatic days could be placed", len(kept), out.Entitlement.AutoAssignDays)
	}
	return out
}

// =============================================================================
// ABSENCE LEDGER
// =============================================================================

func (p *Planner) ledgerFor(ctx context.Context, program generic.AnnualProgram, groupID generic.GroupID) (*absence.Ledger, error) {
	if !p.limit.Enabled() {
		return nil, nil
	}
	outcomes, err := p.store.ListOutcomes(ctx, program.ID)
	if err != nil {
		return nil, err
	}
	return p.ledgerFromOutcomes(ctx, groupID, outcomes)
}

func (p *Planner) ledgerFromOutcomes(ctx context.Context, groupID generic.GroupID, outcomes []generic.AllocationOutcome) (*absence.Ledger, error) {
	if !p.limit.Enabled() {
		return nil, nil
	}
	members, err := p.dir.ListEmployeesByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	var area *generic.Area
	if g, err := p.dir.GetGroup(ctx, groupID); err != nil {
		return nil, err
	} else if g != nil {
		if area, err = p.dir.GetArea(ctx, g.AreaID); err != nil {
			return nil, err
		}
	}
	return absence.LedgerFor(p.limit, area, members, outcomes), nil
}
