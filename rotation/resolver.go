/*
resolver.go - Which shift applies to a group (or employee) on a given date

ALGORITHM:
  weeks   = floor((date - anchor).days / 7)
  variant = ((weeks + startVariant - 1) mod N) + 1
  day     = variant.Days[date.Weekday]

  Dates before the anchor use true floor division, so the cycle extends
  backwards without a seam.

OVERLAYS (highest precedence first):
  1. Approved leave for the employee (Incidencia/Permiso)
  2. Organization-wide inadmissible day (DiasInhabiles)
  3. The rotation itself
  Only the highest applicable overlay is reported. The rotation's own
  activity and shift stay in BaseActivity and BaseShift.

PURITY:
  Resolve touches nothing but the compiled catalog. ResolveFor and Calendar
  read the leave and inadmissible-day sources, never write.
*/
package rotation

import (
	"context"

	"github.com/MiltronBee/leave-engine/generic"
)

// MaxCalendarDays bounds Calendar requests.
const MaxCalendarDays = 366

type Overlay string

const (
	OverlayNone         Overlay = ""
	OverlayLeave        Overlay = "Leave"
	OverlayInadmissible Overlay = "Inadmissible"
)

// Resolution is the state of one day.
type Resolution struct {
	Date      generic.TimePoint `json:"date"`
	Activity  ActivityKind      `json:"activity"`
	Shift     ShiftKind         `json:"shift"`
	WeekIndex int               `json:"weekIndex"`
	Overlay   Overlay           `json:"overlay,omitempty"`
	Note      string            `json:"note,omitempty"`

	// Rotation result underneath an overlay. Empty when Overlay is None.
	BaseActivity ActivityKind `json:"baseActivity,omitempty"`
	BaseShift    ShiftKind    `json:"baseShift,omitempty"`
}

// IsWorkday reports whether the day is a plain rotation workday.
func (r Resolution) IsWorkday() bool { return r.Activity == ActivityWorkday }

type Resolver struct {
	catalog *Catalog
	days    generic.InadmissibleCalendar
	leave   generic.LeaveSource
}

// NewResolver builds a resolver. Nil sources mean "no overlays".
func NewResolver(catalog *Catalog, days generic.InadmissibleCalendar, leave generic.LeaveSource) *Resolver {
	if days == nil {
		days = generic.NoInadmissibleDays{}
	}
	if leave == nil {
		leave = generic.NoLeave{}
	}
	return &Resolver{catalog: catalog, days: days, leave: leave}
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Resolve returns the plain rotation state for the group on date.
func (r *Resolver) Resolve(group generic.Group, date generic.TimePoint) (Resolution, error) {
	cr, err := r.catalog.compiled(group.RuleID)
	if err != nil {
		return Resolution{}, err
	}
	n := len(cr.grid)
	start := group.StartVariant
	if start == 0 {
		start = 1
	}
	if start < 1 || start > n {
		return Resolution{}, generic.Misconfigured("rotation",
			"group %s starts on variant %d but rule %s has %d", group.ID, start, group.RuleID, n)
	}

	weeks := floorDiv(generic.DaysBetween(group.Anchor, date), 7)
	week := mod(weeks+start-1, n)
	d := cr.grid[week][weekdaySlot(date.Weekday())]

	return Resolution{
		Date:      date,
		Activity:  d.Activity,
		Shift:     d.Shift,
		WeekIndex: week + 1,
	}, nil
}

// ResolveFor applies the employee's leave and inadmissible days on top of
// the rotation.
func (r *Resolver) ResolveFor(ctx context.Context, employeeID generic.EmployeeID, group generic.Group, date generic.TimePoint) (Resolution, error) {
	cal, err := r.Calendar(ctx, employeeID, group, generic.Period{Start: date, End: date})
	if err != nil {
		return Resolution{}, err
	}
	return cal[0], nil
}

// Calendar resolves every day of period. employeeID may be empty to skip
// the leave overlay.
func (r *Resolver) Calendar(ctx context.Context, employeeID generic.EmployeeID, group generic.Group, period generic.Period) ([]Resolution, error) {
	if period.End.Before(period.Start) {
		return nil, &generic.ValidationError{Field: "period", Message: "end before start", Err: generic.ErrInvalidPeriod}
	}
	if period.Len() > MaxCalendarDays {
		return nil, generic.Invalid("period", "range longer than %d days", MaxCalendarDays)
	}

	inadmissible, err := r.days.InadmissibleDays(ctx, period)
	if err != nil {
		return nil, err
	}
	holidays := make(map[string]string, len(inadmissible))
	for _, d := range inadmissible {
		holidays[d.Date.Key()] = d.Description
	}

	var leave []generic.LeaveRecord
	if employeeID != "" {
		if leave, err = r.leave.ApprovedLeave(ctx, employeeID, period); err != nil {
			return nil, err
		}
	}

	out := make([]Resolution, 0, period.Len())
	for _, day := range period.Days() {
		res, err := r.Resolve(group, day)
		if err != nil {
			return nil, err
		}
		if kind, ok := leaveOn(leave, day); ok {
			res = overlay(res, ActivityLeave, OverlayLeave, kind)
		} else if desc, ok := holidays[day.Key()]; ok {
			res = overlay(res, ActivityInadmissible, OverlayInadmissible, desc)
		}
		out = append(out, res)
	}
	return out, nil
}

func overlay(res Resolution, activity ActivityKind, kind Overlay, note string) Resolution {
	res.BaseActivity, res.BaseShift = res.Activity, res.Shift
	res.Activity, res.Shift, res.Overlay, res.Note = activity, ShiftRest, kind, note
	return res
}

func leaveOn(records []generic.LeaveRecord, day generic.TimePoint) (string, bool) {
	for _, l := range records {
		if l.Period.Contains(day) {
			return l.Kind, true
		}
	}
	return "", false
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
