package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MiltronBee/leave-engine/generic"
)

type RevertOptions struct {
	// GroupIDs restricts the revert to members of these groups; empty means
	// every outcome of the program.
	GroupIDs []generic.GroupID
	ActorID  string
}

type RevertItem struct {
	EmployeeID generic.EmployeeID `json:"employeeId"`
	Days       int                `json:"days"`
}

type RevertSummary struct {
	ProgramID generic.ProgramID `json:"programId"`
	Employees int               `json:"employees"`
	Days      int               `json:"days"`
	Items     []RevertItem      `json:"items"`
}

// Revert removes automatically assigned days so the program can be planned
// again. Only Pending programs can be reverted; once a program is active
// its placements are final. Chosen days are kept. Reverted outcomes carry
// ReasonReverted until the next PlanProgram run.
func (p *Planner) Revert(ctx context.Context, programID generic.ProgramID, opts RevertOptions) (RevertSummary, error) {
	summary := RevertSummary{ProgramID: programID}
	if opts.ActorID == "" {
		return summary, generic.Invalid("actorId", "revert needs an actor")
	}

	var inGroup map[generic.EmployeeID]bool
	if len(opts.GroupIDs) > 0 {
		inGroup = make(map[generic.EmployeeID]bool)
		for _, gid := range opts.GroupIDs {
			members, err := p.dir.ListEmployeesByGroup(ctx, gid)
			if err != nil {
				return summary, err
			}
			for _, m := range members {
				inGroup[m.ID] = true
			}
		}
	}

	now := p.now().UTC()
	err := p.store.WithTx(ctx, func(tx generic.Store) error {
		summary = RevertSummary{ProgramID: programID}
		program, err := tx.GetProgram(ctx, programID)
		if err != nil {
			return err
		}
		if program == nil {
			return generic.NotFound("program", string(programID))
		}
		if program.Deleted || program.State != generic.ProgramPending {
			return &generic.ValidationError{
				Field:   "program",
				Message: fmt.Sprintf("program %s is %s; only Pending programs can be reverted", program.ID, program.State),
				Err:     generic.ErrInvalidTransition,
			}
		}

		outcomes, err := tx.ListOutcomes(ctx, programID)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if inGroup != nil && !inGroup[o.EmployeeID] {
				continue
			}
			if len(o.AutoAssigned) == 0 {
				continue
			}
			days := len(o.AutoAssigned)
			o.AutoAssigned = nil
			o.UnassignedReason = generic.ReasonReverted
			o.Detail = fmt.Sprintf("%d automatic days reverted by %s", days, opts.ActorID)
			o.UpdatedAt = now
			if err := tx.SaveOutcome(ctx, o); err != nil {
				return err
			}
			if err := tx.Append(ctx, generic.AuditEntry{
				ID:        uuid.NewString(),
				Timestamp: now,
				ActorID:   opts.ActorID,
				Action:    generic.AuditUpdate,
				Model:     AuditModel,
				RecordID:  string(o.ProgramID) + "/" + string(o.EmployeeID),
				Payload:   map[string]any{"reverted": days},
			}); err != nil {
				return err
			}
			summary.Employees++
			summary.Days += days
			summary.Items = append(summary.Items, RevertItem{EmployeeID: o.EmployeeID, Days: days})
		}
		return nil
	})
	if err != nil {
		return RevertSummary{ProgramID: programID}, err
	}
	p.logger.Warn("auto-assignment reverted",
		"program", programID, "actor", opts.ActorID,
		"employees", summary.Employees, "days", summary.Days)
	return summary, nil
}
