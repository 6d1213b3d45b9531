package program_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/generic/store"
	"github.com/MiltronBee/leave-engine/program"
)

func newTestService(t *testing.T) (*program.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	clock := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	return program.NewService(mem, program.WithClock(func() time.Time { return clock })), mem
}

func auditFor(t *testing.T, mem *store.Memory, id generic.ProgramID) []generic.AuditEntry {
	t.Helper()
	entries, err := mem.Query(context.Background(), generic.AuditFilter{Model: program.AuditModel, RecordID: string(id)})
	require.NoError(t, err)
	return entries
}

func TestProgram_FullLifecycleAuditsEveryTransition(t *testing.T) {
	// GIVEN: A freshly created 2026 program
	// WHEN: Activate -> Reschedule -> Activate -> Close
	// THEN: One Create entry plus exactly one Update entry per transition

	svc, mem := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, 2026, "admin")
	require.NoError(t, err)
	assert.Equal(t, generic.ProgramPending, p.State)
	assert.Equal(t, generic.YearPeriod(2026), p.Period)

	p, err = svc.Activate(ctx, p.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, generic.ProgramInProgress, p.State)

	p, err = svc.Reschedule(ctx, p.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, generic.ProgramRescheduled, p.State)

	p, err = svc.Activate(ctx, p.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, generic.ProgramInProgress, p.State)

	p, err = svc.Close(ctx, p.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, generic.ProgramClosed, p.State)

	entries := auditFor(t, mem, p.ID)
	require.Len(t, entries, 5)
	assert.Equal(t, generic.AuditCreate, entries[0].Action)
	for _, e := range entries[1:] {
		assert.Equal(t, generic.AuditUpdate, e.Action)
		assert.Equal(t, "admin", e.ActorID)
	}
	assert.Equal(t, "Rescheduled", entries[2].Payload["to"])
}

func TestProgram_ClosedIsTerminal(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, 2026, "admin")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, p.ID, "admin")
	require.NoError(t, err)
	_, err = svc.Close(ctx, p.ID, "admin")
	require.NoError(t, err)

	for name, op := range map[string]func(context.Context, generic.ProgramID, string) (*generic.AnnualProgram, error){
		"activate":   svc.Activate,
		"reschedule": svc.Reschedule,
		"close":      svc.Close,
		"delete":     svc.Delete,
	} {
		_, err := op(ctx, p.ID, "admin")
		assert.ErrorIs(t, err, generic.ErrInvalidTransition, name)
		assert.True(t, generic.IsClientError(err), name)
	}

	// Rejected transitions write nothing.
	assert.Len(t, auditFor(t, mem, p.ID), 3)
}

func TestProgram_IllegalTransitionsFromPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, 2026, "admin")
	require.NoError(t, err)

	_, err = svc.Reschedule(ctx, p.ID, "admin")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	_, err = svc.Close(ctx, p.ID, "admin")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestProgram_UnknownIDIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Activate(context.Background(), "missing", "admin")
	assert.True(t, generic.IsNotFound(err))

	_, err = svc.Get(context.Background(), "missing")
	assert.True(t, generic.IsNotFound(err))
}

func TestProgram_DeleteCurrentIsLogical(t *testing.T) {
	// GIVEN: An InProgress program
	// WHEN: DeleteCurrent
	// THEN: Deleted is set, State unchanged, one Delete audit entry, row still listed

	svc, mem := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, 2026, "admin")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, p.ID, "admin")
	require.NoError(t, err)

	deleted, err := svc.DeleteCurrent(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, generic.ProgramInProgress, deleted.State)
	assert.False(t, deleted.Active())

	entries := auditFor(t, mem, p.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, generic.AuditDelete, entries[2].Action)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = svc.Current(ctx)
	assert.True(t, generic.IsNotFound(err))

	_, err = svc.DeleteCurrent(ctx, "admin")
	assert.True(t, generic.IsNotFound(err))

	_, err = svc.Activate(ctx, p.ID, "admin")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestProgram_CreateRejectsSecondOpenProgramForYear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, 2026, "admin")
	require.NoError(t, err)

	_, err = svc.Create(ctx, 2026, "admin")
	assert.ErrorIs(t, err, generic.ErrAlreadyExists)

	// After a logical delete the year is free again.
	_, err = svc.Delete(ctx, first.ID, "admin")
	require.NoError(t, err)
	_, err = svc.Create(ctx, 2026, "admin")
	assert.NoError(t, err)
}

func TestEnsureNextYear_IsIdempotent(t *testing.T) {
	// GIVEN: No programs
	// WHEN: EnsureNextYear runs twice on 2025-10-01
	// THEN: Exactly one Pending 2026 program and one Create audit entry

	svc, mem := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	p, created, err := svc.EnsureNextYear(ctx, now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2026, p.Year)
	assert.Equal(t, program.SystemActor, p.OwnerID)

	again, created, err := svc.EnsureNextYear(ctx, now)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	entries, err := mem.Query(ctx, generic.AuditFilter{Model: program.AuditModel})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEnsureNextYear_SkipsWhileAProgramIsInProgress(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, 2025, "admin")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, p.ID, "admin")
	require.NoError(t, err)

	got, created, err := svc.EnsureNextYear(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, got.ID)

	// Once closed the next year is created.
	_, err = svc.Close(ctx, p.ID, "admin")
	require.NoError(t, err)
	got, created, err = svc.EnsureNextYear(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2026, got.Year)
}

func TestEnsureNextYear_RespectsRescheduledProgramForNextYear(t *testing.T) {
	// GIVEN: The 2026 program was activated and then rescheduled
	// WHEN: The sweep ensures next year during 2025
	// THEN: No second 2026 program is created and the rescheduled one is returned

	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, 2026, "admin")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, p.ID, "admin")
	require.NoError(t, err)
	_, err = svc.Reschedule(ctx, p.ID, "admin")
	require.NoError(t, err)

	got, created, err := svc.EnsureNextYear(ctx, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, got.ID)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProgram_ActivateRefusesSecondOpenProgramForYear(t *testing.T) {
	// GIVEN: A rescheduled 2026 program and a stray Pending 2026 program
	// WHEN: The stray program is activated
	// THEN: The transition is refused and only one 2026 program is InProgress

	svc, mem := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, 2026, "admin")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, p.ID, "admin")
	require.NoError(t, err)
	_, err = svc.Reschedule(ctx, p.ID, "admin")
	require.NoError(t, err)

	stray := generic.AnnualProgram{
		ID:     "stray",
		Year:   2026,
		State:  generic.ProgramPending,
		Period: generic.YearPeriod(2026),
	}
	require.NoError(t, mem.SaveProgram(ctx, stray))

	_, err = svc.Activate(ctx, stray.ID, "admin")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = svc.Activate(ctx, p.ID, "admin")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition, "the stray program still holds the year")

	_, err = svc.Delete(ctx, stray.ID, "admin")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, p.ID, "admin")
	require.NoError(t, err)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	inProgress := 0
	for _, a := range all {
		if a.Year == 2026 && a.State == generic.ProgramInProgress && !a.Deleted {
			inProgress++
		}
	}
	assert.Equal(t, 1, inProgress)
}
