package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiltronBee/leave-engine/generic"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "leave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var now = time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)

func testBlock(number int, overflow bool) generic.Block {
	return generic.Block{
		ID:          generic.BlockID("B" + string(rune('0'+number))),
		ProgramID:   "P2026",
		AreaID:      "A1",
		GroupID:     "G1",
		Number:      number,
		WindowStart: now,
		WindowEnd:   now.Add(24 * time.Hour),
		Capacity:    5,
		Overflow:    overflow,
		State:       generic.BlockOpen,
		CreatedAt:   now,
	}
}

func TestDirectory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveArea(ctx, generic.Area{ID: "A1", Name: "Ensamble", ManagerID: "M1"}))
	require.NoError(t, s.SaveGroup(ctx, generic.Group{
		ID: "G1", AreaID: "A1", Name: "Grupo 1", RuleID: "N0439", Anchor: generic.MustDate("2025-09-15"),
	}))
	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{
		ID: "E1", PayrollNumber: "1001", Name: "Ana", HireDate: generic.MustDate("2015-03-01"),
		AreaID: "A1", GroupID: "G1", Active: true,
	}))
	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{
		ID: "E2", PayrollNumber: "1002", Name: "Luis", HireDate: generic.MustDate("2020-03-01"),
		GroupID: "G1", Active: false,
	}))

	g, err := s.GetGroup(ctx, "G1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, 1, g.StartVariant, "zero start variant is stored as the first variant")
	assert.True(t, g.Anchor.Equal(generic.MustDate("2025-09-15")))

	members, err := s.ListEmployeesByGroup(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, generic.EmployeeID("E1"), members[0].ID)
	assert.True(t, members[0].HireDate.Equal(generic.MustDate("2015-03-01")))

	area, err := s.GetArea(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, generic.EmployeeID("M1"), area.ManagerID)

	missing, err := s.GetEmployee(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCalendarSources(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveInadmissibleDay(ctx, generic.InadmissibleDay{
		ID: "I1", Date: generic.MustDate("2026-01-01"), Description: "Año nuevo",
	}))
	err := s.SaveInadmissibleDay(ctx, generic.InadmissibleDay{ID: "I2", Date: generic.MustDate("2026-01-01")})
	assert.ErrorIs(t, err, generic.ErrAlreadyExists, "one record per date")

	d, err := s.InadmissibleOn(ctx, generic.MustDate("2026-01-01"))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "Año nuevo", d.Description)

	none, err := s.InadmissibleOn(ctx, generic.MustDate("2026-01-02"))
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.SaveLeave(ctx, generic.LeaveRecord{
		ID: "L1", EmployeeID: "E1", Kind: "Incapacidad",
		Period: generic.Period{Start: generic.MustDate("2026-02-02"), End: generic.MustDate("2026-02-06")},
	}))
	leave, err := s.ApprovedLeave(ctx, "E1", generic.Period{
		Start: generic.MustDate("2026-02-06"), End: generic.MustDate("2026-02-10"),
	})
	require.NoError(t, err)
	assert.Len(t, leave, 1, "overlapping ranges are returned")

	err = s.SaveLeave(ctx, generic.LeaveRecord{
		ID: "L2", EmployeeID: "E1",
		Period: generic.Period{Start: generic.MustDate("2026-02-06"), End: generic.MustDate("2026-02-02")},
	})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestProgramsAndOutcomes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := generic.AnnualProgram{
		ID: "P2026", Year: 2026, State: generic.ProgramInProgress,
		Period:    generic.YearPeriod(2026),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.SaveProgram(ctx, p))
	require.NoError(t, s.SaveProgram(ctx, generic.AnnualProgram{
		ID: "P2025", Year: 2025, State: generic.ProgramClosed, Period: generic.YearPeriod(2025),
		CreatedAt: now, UpdatedAt: now,
	}))

	got, err := s.GetProgram(ctx, "P2026")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Active())
	assert.True(t, got.Period.Start.Equal(generic.MustDate("2026-01-01")))

	all, err := s.ListPrograms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2026, all[0].Year, "newest year first")

	o := generic.AllocationOutcome{
		ProgramID:  "P2026",
		EmployeeID: "E1",
		Entitlement: generic.Entitlement{
			YearsOfService: 10, TotalDays: 20, AutoAssignDays: 14, EmployeeChooseDays: 6,
		},
		AutoAssigned: []generic.TimePoint{generic.MustDate("2026-03-02"), generic.MustDate("2026-03-03")},
		UpdatedAt:    now,
	}
	require.NoError(t, s.SaveOutcome(ctx, o))

	o.Chosen = []generic.TimePoint{generic.MustDate("2026-05-04")}
	o.UnassignedReason = generic.ReasonInsufficientDays
	require.NoError(t, s.SaveOutcome(ctx, o))

	stored, err := s.GetOutcome(ctx, "P2026", "E1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 14, stored.Entitlement.AutoAssignDays)
	assert.Len(t, stored.AutoAssigned, 2)
	assert.Equal(t, 5, stored.RemainingChoose())
	assert.Equal(t, generic.ReasonInsufficientDays, stored.UnassignedReason)

	list, err := s.ListOutcomes(ctx, "P2026")
	require.NoError(t, err)
	assert.Len(t, list, 1, "saving twice replaces the outcome")
}

func TestBlocksAndReservations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveBlock(ctx, testBlock(2, false)))
	require.NoError(t, s.SaveBlock(ctx, testBlock(1, false)))
	require.NoError(t, s.SaveBlock(ctx, testBlock(3, true)))

	// GIVEN a second overflow for the same group
	err := s.SaveBlock(ctx, testBlock(4, true))
	// THEN the store refuses it
	assert.ErrorIs(t, err, generic.ErrAlreadyExists)

	blocks, err := s.ListBlocks(ctx, generic.BlockFilter{ProgramID: "P2026"})
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{blocks[0].Number, blocks[1].Number, blocks[2].Number})

	overflow := true
	only, err := s.ListBlocks(ctx, generic.BlockFilter{ProgramID: "P2026", Overflow: &overflow})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.True(t, only[0].Overflow)

	for i, id := range []generic.ReservationID{"R1", "R2", "R3"} {
		require.NoError(t, s.SaveReservation(ctx, generic.Reservation{
			ID: id, BlockID: "B1", EmployeeID: generic.EmployeeID("E" + string(rune('1'+i))),
			Position: 2 - min(i, 1), Status: generic.ReservationPending,
			CreatedAt: now, UpdatedAt: now,
		}))
	}
	res, err := s.ListReservations(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []generic.ReservationID{"R2", "R3", "R1"}, []generic.ReservationID{res[0].ID, res[1].ID, res[2].ID},
		"ordered by position, then insertion")

	r1 := res[2]
	r1.Status = generic.ReservationAssigned
	r1.Dates = []generic.TimePoint{generic.MustDate("2026-06-01")}
	r1.RequiresUrgentAction = true
	require.NoError(t, s.SaveReservation(ctx, r1))

	mine, err := s.ListEmployeeReservations(ctx, "P2026", "E1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, generic.ReservationAssigned, mine[0].Status)
	assert.True(t, mine[0].RequiresUrgentAction)
	assert.True(t, mine[0].Dates[0].Equal(generic.MustDate("2026-06-01")))
}

func TestAuditLog_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, action := range []generic.AuditAction{generic.AuditCreate, generic.AuditUpdate, generic.AuditUpdate} {
		require.NoError(t, s.Append(ctx, generic.AuditEntry{
			ID:        "AU" + string(rune('1'+i)),
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			ActorID:   "scheduler",
			Action:    action,
			Model:     "Reservation",
			RecordID:  "R1",
			GroupID:   "G1",
			Payload:   map[string]any{"status": "Assigned"},
		}))
	}

	updates, err := s.Query(ctx, generic.AuditFilter{Model: "Reservation", Actions: []generic.AuditAction{generic.AuditUpdate}})
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "AU2", updates[0].ID)
	assert.Equal(t, "Assigned", updates[0].Payload["status"])
	assert.Equal(t, generic.GroupID("G1"), updates[0].GroupID)

	from := now.Add(90 * time.Second)
	late, err := s.Query(ctx, generic.AuditFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, late, 1)

	limited, err := s.Query(ctx, generic.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = s.db.ExecContext(ctx, `UPDATE audit_log SET actor_id = 'x'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = s.db.ExecContext(ctx, `DELETE FROM audit_log`)
	assert.ErrorContains(t, err, "append-only")

	all, err := s.Query(ctx, generic.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.SaveBlock(ctx, testBlock(1, false)))
		require.NoError(t, tx.Append(ctx, generic.AuditEntry{
			ID: "AU1", Timestamp: now, ActorID: "scheduler", Action: generic.AuditCreate,
			Model: "ReservationBlock", RecordID: "B1",
		}))
		b, err := tx.GetBlock(ctx, "B1")
		require.NoError(t, err)
		require.NotNil(t, b, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	b, err := s.GetBlock(ctx, "B1")
	require.NoError(t, err)
	assert.Nil(t, b)
	entries, err := s.Query(ctx, generic.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.WithTx(ctx, func(tx generic.Store) error {
		return tx.SaveBlock(ctx, testBlock(1, false))
	}))
	b, err = s.GetBlock(ctx, "B1")
	require.NoError(t, err)
	assert.NotNil(t, b)
}
