package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/generic/store"
)

func TestSave_DropsAutoDaysReservedMeanwhile(t *testing.T) {
	// GIVEN: Auto days computed from a snapshot without chosen days
	// WHEN: A reservation for one of those days commits before the save
	// THEN: The saved outcome keeps the chosen day and gives up the
	//       overlapping automatic day

	mem := store.NewMemory()
	ctx := context.Background()
	ent := generic.Entitlement{YearsOfService: 8, TotalDays: 22, CompanyMandatoryDays: 12, AutoAssignDays: 4, EmployeeChooseDays: 6}
	require.NoError(t, mem.SaveOutcome(ctx, generic.AllocationOutcome{
		ProgramID: "P2026", EmployeeID: "E1", Entitlement: ent,
		Chosen: []generic.TimePoint{generic.MustDate("2026-03-03")},
	}))

	p := NewPlanner(mem, mem, nil, nil, WithClock(func() time.Time { return time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC) }))
	computed := generic.AllocationOutcome{
		ProgramID: "P2026", EmployeeID: "E1", Entitlement: ent,
		AutoAssigned: []generic.TimePoint{
			generic.MustDate("2026-03-02"), generic.MustDate("2026-03-03"),
			generic.MustDate("2026-03-04"), generic.MustDate("2026-03-05"),
		},
	}

	saved, err := p.save(ctx, computed)
	require.NoError(t, err)
	assert.Len(t, saved.AutoAssigned, 3)
	for _, d := range saved.AutoAssigned {
		assert.False(t, d.Equal(generic.MustDate("2026-03-03")))
	}
	assert.Equal(t, generic.ReasonInsufficientDays, saved.UnassignedReason)

	stored, err := mem.GetOutcome(ctx, "P2026", "E1")
	require.NoError(t, err)
	assert.Equal(t, saved.AutoAssigned, stored.AutoAssigned)
	assert.Equal(t, []generic.TimePoint{generic.MustDate("2026-03-03")}, stored.Chosen)
}

func TestSave_KeepsDisjointAutoDays(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveOutcome(ctx, generic.AllocationOutcome{
		ProgramID: "P2026", EmployeeID: "E1",
		Chosen: []generic.TimePoint{generic.MustDate("2026-06-01")},
	}))

	p := NewPlanner(mem, mem, nil, nil)
	saved, err := p.save(ctx, generic.AllocationOutcome{
		ProgramID: "P2026", EmployeeID: "E1",
		AutoAssigned: []generic.TimePoint{generic.MustDate("2026-03-02")},
	})
	require.NoError(t, err)
	assert.True(t, saved.Placed())
	assert.Len(t, saved.AutoAssigned, 1)
}
