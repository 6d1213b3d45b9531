// Package absence enforces the maximum share of a group that may be on
// leave on the same day.
//
// For a group with T active employees and a required manning M (the area
// manning, or T when unset), granting a day to one more employee is allowed
// when
//
//	deficit = (M - (T - absent - 1)) / M * 100 <= MaxPercent
//
// Groups smaller than ceil(100 / MaxPercent) cannot satisfy the formula with
// even one absentee, so they allow one absentee per day instead.
package absence

import (
	"github.com/shopspring/decimal"

	"github.com/MiltronBee/leave-engine/generic"
)

var hundred = decimal.NewFromInt(100)

// Policy configures the limit. A zero MaxPercent disables it.
type Policy struct {
	MaxPercent decimal.Decimal
}

func (p Policy) Enabled() bool { return p.MaxPercent.IsPositive() }

// MinimumGroupSize is the smallest group for which the percentage applies.
func (p Policy) MinimumGroupSize() int {
	if !p.Enabled() {
		return 0
	}
	return int(hundred.Div(p.MaxPercent).Ceil().IntPart())
}

// Check is the result of one evaluation.
type Check struct {
	GroupSize  int             `json:"groupSize"`
	Manning    int             `json:"manning"`
	Absent     int             `json:"absent"`
	Deficit    decimal.Decimal `json:"deficitPercent"`
	SmallGroup bool            `json:"smallGroup"`
	Allowed    bool            `json:"allowed"`
}

// Evaluate decides whether requested more absentees fit on a day that
// already has absent.
func (p Policy) Evaluate(groupSize, manning, absent, requested int) Check {
	if manning <= 0 {
		manning = groupSize
	}
	c := Check{GroupSize: groupSize, Manning: manning, Absent: absent, Deficit: decimal.Zero}
	if !p.Enabled() {
		c.Allowed = true
		return c
	}
	if groupSize < p.MinimumGroupSize() {
		c.SmallGroup = true
		c.Allowed = groupSize == 1 || absent == 0
		return c
	}
	if manning == 0 {
		return c
	}
	available := groupSize - absent - requested
	c.Deficit = decimal.NewFromInt(int64(manning - available)).
		Div(decimal.NewFromInt(int64(manning))).
		Mul(hundred).
		Round(2)
	c.Allowed = c.Deficit.LessThanOrEqual(p.MaxPercent)
	return c
}

// =============================================================================
// LEDGER - per group day counts
// =============================================================================

// Ledger counts absentees per day for one group. Not safe for concurrent
// use; callers serialize per group.
type Ledger struct {
	policy    Policy
	groupSize int
	manning   int
	absent    map[string]int
}

func NewLedger(policy Policy, groupSize, manning int) *Ledger {
	return &Ledger{policy: policy, groupSize: groupSize, manning: manning, absent: make(map[string]int)}
}

// Record counts the days an outcome already holds.
func (l *Ledger) Record(o generic.AllocationOutcome) {
	for _, d := range o.AutoAssigned {
		l.absent[d.Key()]++
	}
	for _, d := range o.Chosen {
		l.absent[d.Key()]++
	}
}

// Release undoes Record for the outcome's automatic days, used before an
// outcome is recomputed.
func (l *Ledger) Release(o generic.AllocationOutcome) {
	for _, d := range o.AutoAssigned {
		if l.absent[d.Key()] > 0 {
			l.absent[d.Key()]--
		}
	}
}

// Check evaluates one more absentee on day.
func (l *Ledger) Check(day generic.TimePoint) Check {
	return l.policy.Evaluate(l.groupSize, l.manning, l.absent[day.Key()], 1)
}

func (l *Ledger) Allows(day generic.TimePoint) bool { return l.Check(day).Allowed }

// Take records one more absentee on day.
func (l *Ledger) Take(day generic.TimePoint) { l.absent[day.Key()]++ }

// Absent returns the current count for day.
func (l *Ledger) Absent(day generic.TimePoint) int { return l.absent[day.Key()] }

// LedgerFor builds a ledger for one group from the program's outcomes.
// members is the active roster of the group.
func LedgerFor(policy Policy, area *generic.Area, members []generic.Employee, outcomes []generic.AllocationOutcome) *Ledger {
	manning := 0
	if area != nil {
		manning = area.Manning
	}
	l := NewLedger(policy, len(members), manning)
	inGroup := make(map[generic.EmployeeID]bool, len(members))
	for _, m := range members {
		inGroup[m.ID] = true
	}
	for _, o := range outcomes {
		if inGroup[o.EmployeeID] {
			l.Record(o)
		}
	}
	return l
}
