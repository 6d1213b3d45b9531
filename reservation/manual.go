package reservation

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/MiltronBee/leave-engine/absence"
	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/notify"
)

// ManualAuditModel is the Model name of operator assignments.
const ManualAuditModel = "ManualAssignment"

// =============================================================================
// MANUAL ASSIGNMENT
// =============================================================================

type ManualRequest struct {
	ProgramID  generic.ProgramID
	EmployeeID generic.EmployeeID
	Dates      []generic.TimePoint
	ActorID    string
	Note       string
	// IgnoreLimits skips the group absence limit.
	IgnoreLimits bool
}

type ManualResult struct {
	Outcome     generic.AllocationOutcome `json:"outcome"`
	Reservation *generic.Reservation      `json:"reservation,omitempty"`
	Added       []generic.TimePoint       `json:"added"`
	Skipped     []generic.TimePoint       `json:"skipped,omitempty"`
}

// ManualAssign records dates an operator chose on the employee's behalf.
// Block windows do not apply. Dates the employee already holds are skipped.
// The employee's Pending reservation, if any, becomes Assigned and loses
// its urgent flag.
func (s *Scheduler) ManualAssign(ctx context.Context, req ManualRequest) (ManualResult, error) {
	var result ManualResult
	if len(req.Dates) == 0 {
		return result, generic.Invalid("dates", "at least one date is required")
	}
	if req.ActorID == "" {
		return result, generic.Invalid("actorId", "manual assignment needs an actor")
	}
	program, err := s.activeProgram(ctx, req.ProgramID)
	if err != nil {
		return result, err
	}
	emp, err := s.dir.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return result, err
	}
	if emp == nil {
		return result, generic.NotFound("employee", string(req.EmployeeID))
	}
	group, err := s.dir.GetGroup(ctx, emp.GroupID)
	if err != nil {
		return result, err
	}
	if group == nil {
		return result, generic.Misconfigured("reservation", "employee %s belongs to unknown group %q", emp.ID, emp.GroupID)
	}
	dates, err := s.validateDates(ctx, *emp, *group, *program, req.Dates)
	if err != nil {
		return result, err
	}

	unlock := s.lock(emp.AreaID, emp.GroupID)
	defer unlock()

	limited := s.cfg.Absence.Enabled() && !req.IgnoreLimits
	var area *generic.Area
	var members []generic.Employee
	if limited {
		if area, err = s.dir.GetArea(ctx, emp.AreaID); err != nil {
			return result, err
		}
		if members, err = s.dir.ListEmployeesByGroup(ctx, emp.GroupID); err != nil {
			return result, err
		}
	}

	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx generic.Store) error {
		result = ManualResult{}
		outcome, err := tx.GetOutcome(ctx, program.ID, emp.ID)
		if err != nil {
			return err
		}
		if outcome == nil {
			return generic.Invalid("employeeId", "employee %s has no allocation outcome; run auto-assignment first", emp.ID)
		}
		for _, d := range dates {
			if outcome.Holds(d) {
				result.Skipped = append(result.Skipped, d)
			} else {
				result.Added = append(result.Added, d)
			}
		}
		if len(result.Added) == 0 {
			return generic.Invalid("dates", "every date is already assigned to the employee")
		}
		if len(result.Added) > outcome.RemainingChoose() {
			return generic.Invalid("dates", "%d dates requested but only %d remain", len(result.Added), outcome.RemainingChoose())
		}

		if limited {
			outcomes, err := tx.ListOutcomes(ctx, program.ID)
			if err != nil {
				return err
			}
			ledger := absence.LedgerFor(s.cfg.Absence, area, members, outcomes)
			for _, d := range result.Added {
				if c := ledger.Check(d); !c.Allowed {
					return generic.Invalid("dates", "%s exceeds the group absence limit (deficit %s%%)", d, c.Deficit.StringFixed(2))
				}
				ledger.Take(d)
			}
		}

		outcome.Chosen = append(outcome.Chosen, result.Added...)
		sort.Slice(outcome.Chosen, func(i, j int) bool { return outcome.Chosen[i].Before(outcome.Chosen[j]) })
		outcome.UpdatedAt = now
		if err := tx.SaveOutcome(ctx, *outcome); err != nil {
			return err
		}
		result.Outcome = *outcome

		payload := map[string]any{
			"employeeId": string(emp.ID),
			"dates":      dateKeys(result.Added),
		}
		if req.Note != "" {
			payload["note"] = req.Note
		}

		mine, err := tx.ListEmployeeReservations(ctx, program.ID, emp.ID)
		if err != nil {
			return err
		}
		for i := range mine {
			r := mine[i]
			if r.Status != generic.ReservationPending {
				continue
			}
			payload["reservationId"] = string(r.ID)
			payload["clearedUrgent"] = r.RequiresUrgentAction
			r.Status = generic.ReservationAssigned
			r.RequiresUrgentAction = false
			r.Dates = append(append([]generic.TimePoint(nil), r.Dates...), result.Added...)
			sort.Slice(r.Dates, func(i, j int) bool { return r.Dates[i].Before(r.Dates[j]) })
			r.UpdatedAt = now
			if err := tx.SaveReservation(ctx, r); err != nil {
				return err
			}
			result.Reservation = &r
			break
		}

		return tx.Append(ctx, generic.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   req.ActorID,
			Action:    generic.AuditUpdate,
			Model:     ManualAuditModel,
			RecordID:  string(program.ID) + "/" + string(emp.ID),
			AreaID:    emp.AreaID,
			GroupID:   emp.GroupID,
			Payload:   payload,
		})
	})
	if err != nil {
		return ManualResult{}, err
	}

	s.logger.Info("manual assignment",
		"program", program.ID, "employee", emp.ID, "actor", req.ActorID,
		"days", len(result.Added), "skipped", len(result.Skipped))
	notice := notify.Notice{
		Kind:       notify.KindReservationConfirmed,
		To:         emp.Email,
		EmployeeID: emp.ID,
		ProgramID:  program.ID,
		CreatedAt:  now,
		Data:       map[string]any{"dates": dateKeys(result.Added)},
	}
	if result.Reservation != nil {
		notice.BlockID = result.Reservation.BlockID
	}
	s.emit(ctx, notice)
	return result, nil
}

// =============================================================================
// MOVE BETWEEN BLOCKS
// =============================================================================

type MoveRequest struct {
	EmployeeID generic.EmployeeID
	FromBlock  generic.BlockID
	ToBlock    generic.BlockID
	ActorID    string
	Reason     string
}

// MoveEmployee transfers the employee's Pending or Assigned slot to another
// open block of the same Area+Group. The old slot is kept as Transferred;
// the new one carries its status and dates.
func (s *Scheduler) MoveEmployee(ctx context.Context, req MoveRequest) (*generic.Reservation, error) {
	if req.FromBlock == req.ToBlock {
		return nil, generic.Invalid("toBlockId", "source and destination are the same block")
	}
	if req.ActorID == "" {
		return nil, generic.Invalid("actorId", "moving an employee needs an actor")
	}
	from, err := s.store.GetBlock(ctx, req.FromBlock)
	if err != nil {
		return nil, err
	}
	if from == nil {
		return nil, generic.NotFound("block", string(req.FromBlock))
	}
	to, err := s.store.GetBlock(ctx, req.ToBlock)
	if err != nil {
		return nil, err
	}
	if to == nil {
		return nil, generic.NotFound("block", string(req.ToBlock))
	}
	if from.ProgramID != to.ProgramID || from.AreaID != to.AreaID || from.GroupID != to.GroupID {
		return nil, generic.Invalid("toBlockId", "block %s belongs to another program, area or group", to.ID)
	}
	if _, err := s.activeProgram(ctx, from.ProgramID); err != nil {
		return nil, err
	}
	emp, err := s.dir.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, generic.NotFound("employee", string(req.EmployeeID))
	}

	unlock := s.lock(from.AreaID, from.GroupID)
	defer unlock()

	now := s.now().UTC()
	var moved generic.Reservation
	var dest generic.Block
	err = s.store.WithTx(ctx, func(tx generic.Store) error {
		b, err := tx.GetBlock(ctx, req.ToBlock)
		if err != nil {
			return err
		}
		if b == nil {
			return generic.NotFound("block", string(req.ToBlock))
		}
		dest = *b
		if dest.State == generic.BlockClosed {
			return &generic.CapacityError{BlockID: dest.ID, Reason: generic.ErrBlockClosed}
		}
		if now.After(dest.WindowEnd) {
			return &generic.CapacityError{BlockID: dest.ID, Reason: generic.ErrExpired}
		}

		source, err := tx.ListReservations(ctx, req.FromBlock)
		if err != nil {
			return err
		}
		var old *generic.Reservation
		for i := range source {
			if source[i].EmployeeID == emp.ID && source[i].Holding() {
				old = &source[i]
			}
		}
		if old == nil {
			return generic.Invalid("fromBlockId", "employee %s holds no reservation in block %s", emp.ID, req.FromBlock)
		}

		target, err := tx.ListReservations(ctx, dest.ID)
		if err != nil {
			return err
		}
		holding, lastPos := 0, 0
		for _, r := range target {
			if r.EmployeeID == emp.ID && r.Holding() {
				return &generic.ValidationError{Field: "employeeId", Message: "employee already holds a reservation in the destination block", Err: generic.ErrAlreadyExists}
			}
			if r.Holding() {
				holding++
			}
			lastPos = max(lastPos, r.Position)
		}
		if holding >= dest.Capacity {
			return &generic.CapacityError{BlockID: dest.ID, Reason: generic.ErrBlockFull}
		}

		left := *old
		left.Status = generic.ReservationTransferred
		left.RequiresUrgentAction = false
		left.UpdatedAt = now
		if err := tx.SaveReservation(ctx, left); err != nil {
			return err
		}
		if err := tx.Append(ctx, s.reservationAudit(left, *from, generic.AuditUpdate, req.ActorID, now)); err != nil {
			return err
		}

		moved = generic.Reservation{
			ID:         generic.ReservationID(uuid.NewString()),
			BlockID:    dest.ID,
			EmployeeID: emp.ID,
			Position:   lastPos + 1,
			Dates:      old.Dates,
			Status:     old.Status,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.SaveReservation(ctx, moved); err != nil {
			return err
		}
		entry := s.reservationAudit(moved, dest, generic.AuditCreate, req.ActorID, now)
		entry.Payload["fromBlockId"] = string(from.ID)
		if req.Reason != "" {
			entry.Payload["reason"] = req.Reason
		}
		return tx.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("employee moved",
		"employee", emp.ID, "from", from.ID, "to", dest.ID, "actor", req.ActorID)
	remaining := 0
	if o, err := s.store.GetOutcome(ctx, dest.ProgramID, emp.ID); err == nil && o != nil {
		remaining = o.RemainingChoose()
	}
	s.emit(ctx, notify.Notice{
		Kind:       notify.KindBlockAssigned,
		To:         emp.Email,
		EmployeeID: emp.ID,
		ProgramID:  dest.ProgramID,
		BlockID:    dest.ID,
		CreatedAt:  now,
		Data: map[string]any{
			"blockNumber": dest.Number,
			"position":    moved.Position,
			"windowStart": dest.WindowStart.Format(windowLayout),
			"windowEnd":   dest.WindowEnd.Format(windowLayout),
			"remaining":   remaining,
		},
	})
	return &moved, nil
}
