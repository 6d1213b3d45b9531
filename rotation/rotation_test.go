package rotation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/generic/store"
	"github.com/MiltronBee/leave-engine/rotation"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// 2025-09-15 is a Monday.
var anchor = generic.MustDate("2025-09-15")

func newTestResolver(t *testing.T, rules ...rotation.Rule) *rotation.Resolver {
	t.Helper()
	if len(rules) == 0 {
		rules = rotation.ProductionRules()
	}
	catalog, err := rotation.NewCatalog(rules...)
	require.NoError(t, err)
	return rotation.NewResolver(catalog, nil, nil)
}

func group(rule generic.RuleID, start int) generic.Group {
	return generic.Group{ID: "G-" + generic.GroupID(rule), AreaID: "A1", RuleID: rule, StartVariant: start, Anchor: anchor}
}

// =============================================================================
// CATALOG INTEGRITY
// =============================================================================

func TestProductionRules_EveryVariantCoversTheWeek(t *testing.T) {
	// GIVEN: The seeded production rules
	// THEN: Each rule owns 7xN day assignments and each variant covers Mon..Sun once

	for _, r := range rotation.ProductionRules() {
		t.Run(string(r.ID), func(t *testing.T) {
			require.NoError(t, r.Validate())
			assert.Equal(t, r.WeeklyVariantCount, len(r.Variants))

			total := 0
			for _, v := range r.Variants {
				seen := map[time.Weekday]bool{}
				for _, d := range v.Days {
					assert.False(t, seen[d.Weekday], "weekday %s repeated in week %d", d.Weekday, v.WeekIndex)
					seen[d.Weekday] = true
				}
				assert.Len(t, seen, 7)
				total += len(v.Days)
			}
			assert.Equal(t, 7*len(r.Variants), total)
		})
	}
}

func TestCatalog_ValidateReportsBrokenRules(t *testing.T) {
	empty := rotation.Rule{ID: "EMPTY", Name: "EMPTY"}

	short, err := rotation.FromPattern("SHORT", 1, "11111DD")
	require.NoError(t, err)
	short.Variants[0].Days = short.Variants[0].Days[:6]

	catalog, err := rotation.NewCatalog(append(rotation.ProductionRules(), empty, short)...)
	require.NoError(t, err)

	err = catalog.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrConfiguration)
	assert.Contains(t, err.Error(), "EMPTY")
	assert.Contains(t, err.Error(), "SHORT")
}

func TestCatalog_DuplicateRuleRejected(t *testing.T) {
	r, err := rotation.FromPattern("R1", 1, "11111DD")
	require.NoError(t, err)

	_, err = rotation.NewCatalog(r, r)
	assert.ErrorIs(t, err, generic.ErrConfiguration)
}

func TestRule_DeclaredCountMustMatch(t *testing.T) {
	r, err := rotation.FromPattern("R1", 1, "11111DD", "22222DD")
	require.NoError(t, err)
	r.WeeklyVariantCount = 3

	assert.ErrorIs(t, r.Validate(), generic.ErrConfiguration)
}

func TestParseWeek_RejectsUnknownCode(t *testing.T) {
	_, err := rotation.ParseWeek("11X11DD", 0)
	assert.Error(t, err)

	_, err = rotation.ParseWeek("1111DD", 0)
	assert.Error(t, err)
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestResolve_R0144_MondayRepeatsAfterFullCycle(t *testing.T) {
	// GIVEN: A group on R0144 (4 weekly variants) anchored on Monday W0
	// WHEN: Resolving Monday of W0 and the Monday 4 weeks later
	// THEN: Both are Workday / Morning

	resolver := newTestResolver(t)
	g := group("R0144", 1)

	first, err := resolver.Resolve(g, anchor)
	require.NoError(t, err)
	assert.Equal(t, rotation.ActivityWorkday, first.Activity)
	assert.Equal(t, rotation.ShiftMorning, first.Shift)
	assert.Equal(t, 1, first.WeekIndex)

	later, err := resolver.Resolve(g, anchor.AddDays(28))
	require.NoError(t, err)
	assert.Equal(t, first.Activity, later.Activity)
	assert.Equal(t, first.Shift, later.Shift)
}

func TestResolve_IsPeriodicForEveryRule(t *testing.T) {
	// GIVEN: Every production rule
	// THEN: resolve(d) == resolve(d + 7N) across a full year, before and after the anchor

	resolver := newTestResolver(t)
	for _, r := range rotation.ProductionRules() {
		g := group(r.ID, 1)
		for offset := -200; offset < 200; offset++ {
			d := anchor.AddDays(offset)
			a, err := resolver.Resolve(g, d)
			require.NoError(t, err)
			b, err := resolver.Resolve(g, d.AddDays(r.Period()))
			require.NoError(t, err)

			assert.Equal(t, a.Activity, b.Activity, "%s at %s", r.ID, d)
			assert.Equal(t, a.Shift, b.Shift, "%s at %s", r.ID, d)
			assert.Equal(t, a.WeekIndex, b.WeekIndex, "%s at %s", r.ID, d)
		}
	}
}

func TestResolve_BeforeAnchorUsesFloorDivision(t *testing.T) {
	// GIVEN: R0144 anchored on a Monday
	// WHEN: Resolving the Sunday right before the anchor
	// THEN: It is the last day of variant 4 ("3D22D11" -> Sunday = Morning)

	resolver := newTestResolver(t)
	res, err := resolver.Resolve(group("R0144", 1), anchor.AddDays(-1))
	require.NoError(t, err)

	assert.Equal(t, 4, res.WeekIndex)
	assert.Equal(t, rotation.ShiftMorning, res.Shift)
}

func TestResolve_StartVariantShiftsThePhase(t *testing.T) {
	// GIVEN: Two crews on R0144, crew 2 starts on week 2 ("D33333D")
	resolver := newTestResolver(t)

	crew1, err := resolver.Resolve(group("R0144", 1), anchor)
	require.NoError(t, err)
	crew2, err := resolver.Resolve(group("R0144", 2), anchor)
	require.NoError(t, err)

	assert.Equal(t, rotation.ShiftMorning, crew1.Shift)
	assert.Equal(t, rotation.ActivityWeeklyRest, crew2.Activity)
	assert.Equal(t, 2, crew2.WeekIndex)

	tuesday, err := resolver.Resolve(group("R0144", 2), anchor.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, rotation.ShiftNight, tuesday.Shift)
}

func TestResolve_ZeroVariantRuleIsConfigurationError(t *testing.T) {
	resolver := newTestResolver(t, rotation.Rule{ID: "BROKEN"})

	_, err := resolver.Resolve(group("BROKEN", 1), anchor)
	require.Error(t, err)
	assert.True(t, generic.IsConfiguration(err))
}

func TestResolve_UnknownRuleIsConfigurationError(t *testing.T) {
	resolver := newTestResolver(t)

	_, err := resolver.Resolve(group("R9999", 1), anchor)
	assert.ErrorIs(t, err, generic.ErrConfiguration)
}

// =============================================================================
// OVERLAYS
// =============================================================================

func TestCalendar_OverlayPrecedence(t *testing.T) {
	// GIVEN: Employee with approved leave on Tue+Wed, and a plant holiday on Wed+Thu
	// WHEN: Resolving Mon..Fri
	// THEN: Tue/Wed report Leave (leave wins), Thu reports Inadmissible,
	//       Mon/Fri report the plain rotation

	mem := store.NewMemory()
	mem.AddLeave(generic.LeaveRecord{
		ID: "L1", EmployeeID: "E1", Kind: "PermisoConGoce",
		Period: generic.Period{Start: anchor.AddDays(1), End: anchor.AddDays(2)},
	})
	mem.AddInadmissibleDay(generic.InadmissibleDay{ID: "H1", Date: anchor.AddDays(2), Description: "Asueto"})
	mem.AddInadmissibleDay(generic.InadmissibleDay{ID: "H2", Date: anchor.AddDays(3), Description: "Asueto"})

	catalog, err := rotation.NewCatalog(rotation.ProductionRules()...)
	require.NoError(t, err)
	resolver := rotation.NewResolver(catalog, mem, mem)

	cal, err := resolver.Calendar(context.Background(), "E1", group("R0144", 1),
		generic.Period{Start: anchor, End: anchor.AddDays(4)})
	require.NoError(t, err)
	require.Len(t, cal, 5)

	assert.Equal(t, rotation.OverlayNone, cal[0].Overlay)
	assert.True(t, cal[0].IsWorkday())
	assert.Equal(t, rotation.OverlayLeave, cal[1].Overlay)
	assert.Equal(t, rotation.OverlayLeave, cal[2].Overlay)
	assert.Equal(t, rotation.OverlayInadmissible, cal[3].Overlay)
	assert.Equal(t, "Asueto", cal[3].Note)
	assert.Equal(t, rotation.OverlayNone, cal[4].Overlay)

	// Without an employee only the plant calendar applies.
	single, err := resolver.ResolveFor(context.Background(), "", group("R0144", 1), anchor.AddDays(2))
	require.NoError(t, err)
	assert.Equal(t, rotation.OverlayInadmissible, single.Overlay)
}

func TestCalendar_OverlayKeepsRotationResult(t *testing.T) {
	// GIVEN: Approved leave on a rotation workday
	// WHEN: Resolving that day for the employee
	// THEN: The overlay wins and the rotation's own day is kept as the base

	mem := store.NewMemory()
	mem.AddLeave(generic.LeaveRecord{
		ID: "L1", EmployeeID: "E1", Kind: "Incapacidad",
		Period: generic.Period{Start: anchor.AddDays(1), End: anchor.AddDays(1)},
	})
	catalog, err := rotation.NewCatalog(rotation.ProductionRules()...)
	require.NoError(t, err)
	resolver := rotation.NewResolver(catalog, mem, mem)

	plain, err := resolver.Resolve(group("R0144", 1), anchor.AddDays(1))
	require.NoError(t, err)
	require.True(t, plain.IsWorkday())
	assert.Empty(t, plain.BaseActivity)

	res, err := resolver.ResolveFor(context.Background(), "E1", group("R0144", 1), anchor.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, rotation.ActivityLeave, res.Activity)
	assert.Equal(t, rotation.ShiftRest, res.Shift)
	assert.Equal(t, plain.Activity, res.BaseActivity)
	assert.Equal(t, plain.Shift, res.BaseShift)
	assert.Equal(t, plain.WeekIndex, res.WeekIndex)
}

func TestCalendar_RejectsBadRanges(t *testing.T) {
	resolver := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.Calendar(ctx, "", group("R0144", 1), generic.Period{Start: anchor, End: anchor.AddDays(-1)})
	assert.ErrorIs(t, err, generic.ErrValidation)
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	_, err = resolver.Calendar(ctx, "", group("R0144", 1), generic.Period{Start: anchor, End: anchor.AddDays(400)})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// BINDINGS
// =============================================================================

func TestParseBinding(t *testing.T) {
	id, start, err := rotation.ParseBinding("R0144_04")
	require.NoError(t, err)
	assert.Equal(t, generic.RuleID("R0144"), id)
	assert.Equal(t, 4, start)

	id, start, err = rotation.ParseBinding("N0439")
	require.NoError(t, err)
	assert.Equal(t, generic.RuleID("N0439"), id)
	assert.Equal(t, 1, start)

	_, _, err = rotation.ParseBinding("R0144_x")
	assert.ErrorIs(t, err, generic.ErrValidation)
	_, _, err = rotation.ParseBinding("a_b_c")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
