package reservation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/MiltronBee/leave-engine/generic"
)

type BlockStats struct {
	BlockID        generic.BlockID    `json:"blockId"`
	AreaID         generic.AreaID     `json:"areaId"`
	GroupID        generic.GroupID    `json:"groupId"`
	Number         int                `json:"blockNumber"`
	Overflow       bool               `json:"isOverflow"`
	State          generic.BlockState `json:"state"`
	Capacity       int                `json:"capacity"`
	Assigned       int                `json:"assigned"`
	Pending        int                `json:"pending"`
	Expired        int                `json:"expired"`
	Transferred    int                `json:"transferred"`
	Urgent         int                `json:"urgent"`
	CompletionRate decimal.Decimal    `json:"completionRate"`
}

type ProgramStats struct {
	ProgramID generic.ProgramID `json:"programId"`
	Blocks    []BlockStats      `json:"blocks"`
	Employees int               `json:"employees"`
	Reserved  int               `json:"reserved"`
	Urgent    int               `json:"urgent"`
	// CompletionRate is the share of scheduled employees with an assigned
	// reservation, in percent.
	CompletionRate decimal.Decimal `json:"completionRate"`
}

// Stats summarizes reservation progress of a program.
func (s *Scheduler) Stats(ctx context.Context, programID generic.ProgramID) (ProgramStats, error) {
	out := ProgramStats{ProgramID: programID, CompletionRate: decimal.Zero}
	p, err := s.store.GetProgram(ctx, programID)
	if err != nil {
		return out, err
	}
	if p == nil {
		return out, generic.NotFound("program", string(programID))
	}
	blocks, err := s.store.ListBlocks(ctx, generic.BlockFilter{ProgramID: programID})
	if err != nil {
		return out, err
	}

	employees := make(map[generic.EmployeeID]bool)
	reserved := make(map[generic.EmployeeID]bool)
	urgent := make(map[generic.EmployeeID]bool)
	for _, b := range blocks {
		rs, err := s.store.ListReservations(ctx, b.ID)
		if err != nil {
			return out, err
		}
		bs := BlockStats{
			BlockID:  b.ID,
			AreaID:   b.AreaID,
			GroupID:  b.GroupID,
			Number:   b.Number,
			Overflow: b.Overflow,
			State:    b.State,
			Capacity: b.Capacity,
		}
		for _, r := range rs {
			employees[r.EmployeeID] = true
			switch r.Status {
			case generic.ReservationAssigned:
				bs.Assigned++
				reserved[r.EmployeeID] = true
			case generic.ReservationPending:
				bs.Pending++
			case generic.ReservationExpired:
				bs.Expired++
			case generic.ReservationTransferred:
				bs.Transferred++
			}
			if r.RequiresUrgentAction {
				bs.Urgent++
				urgent[r.EmployeeID] = true
			}
		}
		bs.CompletionRate = percent(bs.Assigned, bs.Assigned+bs.Pending)
		out.Blocks = append(out.Blocks, bs)
	}
	out.Employees = len(employees)
	out.Reserved = len(reserved)
	out.Urgent = len(urgent)
	out.CompletionRate = percent(out.Reserved, out.Employees)
	return out, nil
}

func percent(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).
		Div(decimal.NewFromInt(int64(whole))).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}
