package allocation

import (
	"sort"

	"github.com/MiltronBee/leave-engine/generic"
)

// DaySelector picks up to n days from candidates. Candidates arrive in
// ascending date order; the result must be a subset of them. Returning
// fewer than n days means the selector could not place the employee.
type DaySelector func(candidates []generic.TimePoint, n int) []generic.TimePoint

// EarliestFirst takes the first n candidates.
func EarliestFirst(candidates []generic.TimePoint, n int) []generic.TimePoint {
	if n > len(candidates) {
		n = len(candidates)
	}
	return append([]generic.TimePoint(nil), candidates[:n]...)
}

// SingleWeekFirst places all n days inside the earliest ISO week that can
// hold them, so automatic vacation forms one block of rest. When no single
// week is wide enough it falls back to EarliestFirst.
func SingleWeekFirst(candidates []generic.TimePoint, n int) []generic.TimePoint {
	type weekKey struct{ year, week int }
	var order []weekKey
	byWeek := make(map[weekKey][]generic.TimePoint)
	for _, d := range candidates {
		y, w := d.Time.ISOWeek()
		k := weekKey{y, w}
		if _, seen := byWeek[k]; !seen {
			order = append(order, k)
		}
		byWeek[k] = append(byWeek[k], d)
	}
	for _, k := range order {
		if days := byWeek[k]; len(days) >= n {
			return append([]generic.TimePoint(nil), days[:n]...)
		}
	}
	return EarliestFirst(candidates, n)
}

// PreferWindows ranks days inside the given windows (plant shutdowns,
// low-staffing periods) ahead of all other days, applying next to each tier.
func PreferWindows(windows []generic.Period, next DaySelector) DaySelector {
	if next == nil {
		next = EarliestFirst
	}
	return func(candidates []generic.TimePoint, n int) []generic.TimePoint {
		var preferred, rest []generic.TimePoint
		for _, d := range candidates {
			if inAny(windows, d) {
				preferred = append(preferred, d)
			} else {
				rest = append(rest, d)
			}
		}
		picked := next(preferred, n)
		if len(picked) < n {
			picked = append(picked, next(rest, n-len(picked))...)
		}
		sort.Slice(picked, func(i, j int) bool { return picked[i].Before(picked[j]) })
		return picked
	}
}

func inAny(windows []generic.Period, d generic.TimePoint) bool {
	for _, w := range windows {
		if w.Contains(d) {
			return true
		}
	}
	return false
}

// DefaultExcludedWeeks are the ISO weeks around Christmas and New Year.
func DefaultExcludedWeeks() []int { return []int{51, 52, 1, 2} }
