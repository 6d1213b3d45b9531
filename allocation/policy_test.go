package allocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MiltronBee/leave-engine/allocation"
	"github.com/MiltronBee/leave-engine/generic"
)

func days(s ...string) []generic.TimePoint {
	out := make([]generic.TimePoint, len(s))
	for i, d := range s {
		out[i] = generic.MustDate(d)
	}
	return out
}

func TestSingleWeekFirst_PicksFirstWeekThatFits(t *testing.T) {
	// Week of Mar 2 has two candidates, week of Mar 9 has three.
	candidates := days("2026-03-02", "2026-03-03", "2026-03-09", "2026-03-10", "2026-03-11")

	got := allocation.SingleWeekFirst(candidates, 3)
	assert.Equal(t, days("2026-03-09", "2026-03-10", "2026-03-11"), got)
}

func TestSingleWeekFirst_FallsBackToEarliest(t *testing.T) {
	candidates := days("2026-03-02", "2026-03-09", "2026-03-16")

	got := allocation.SingleWeekFirst(candidates, 2)
	assert.Equal(t, days("2026-03-02", "2026-03-09"), got)
}

func TestEarliestFirst_NeverReturnsMoreThanAvailable(t *testing.T) {
	assert.Len(t, allocation.EarliestFirst(days("2026-03-02"), 4), 1)
}

func TestPreferWindows_RanksShutdownDaysFirst(t *testing.T) {
	shutdown := generic.Period{Start: generic.MustDate("2026-07-20"), End: generic.MustDate("2026-07-24")}
	sel := allocation.PreferWindows([]generic.Period{shutdown}, allocation.EarliestFirst)

	candidates := days("2026-03-02", "2026-03-03", "2026-07-21", "2026-07-22")
	got := sel(candidates, 3)

	assert.Equal(t, days("2026-03-02", "2026-07-21", "2026-07-22"), got)
}
