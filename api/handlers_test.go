/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Calendar, rules and entitlement lookups
- Program lifecycle and error mapping (400/404/409)
- Opening blocks, reserving and escalating through the router
- Audit queries, metrics and health
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiltronBee/leave-engine/allocation"
	"github.com/MiltronBee/leave-engine/entitlement"
	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/generic/store"
	"github.com/MiltronBee/leave-engine/program"
	"github.com/MiltronBee/leave-engine/reservation"
	"github.com/MiltronBee/leave-engine/rotation"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	mem     *store.Memory
	handler *Handler
	router  http.Handler
	now     time.Time
}

// newTestServer wires the handlers on a memory store with one area, one
// Monday-to-Friday group and an InProgress 2026 program.
func newTestServer(t *testing.T, capacity int) *testServer {
	t.Helper()
	mem := store.NewMemory()
	catalog, err := rotation.NewCatalog(rotation.ProductionRules()...)
	require.NoError(t, err)

	mem.AddArea(generic.Area{ID: "A1", Name: "Ensamble", ManagerID: "M1"})
	mem.AddGroup(generic.Group{ID: "G1", AreaID: "A1", RuleID: "N0439", StartVariant: 1, Anchor: generic.MustDate("2025-09-15")})
	mem.AddEmployee(generic.Employee{ID: "M1", Name: "Manager", Email: "m1@example.com", AreaID: "A1", Active: true})
	require.NoError(t, mem.SaveProgram(context.Background(), generic.AnnualProgram{
		ID: "P2026", Year: 2026, State: generic.ProgramInProgress, Period: generic.YearPeriod(2026),
	}))

	ts := &testServer{mem: mem, now: time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return ts.now }

	resolver := rotation.NewResolver(catalog, mem, mem)
	table := entitlement.DefaultTable()
	cfg := reservation.DefaultConfig()
	cfg.Capacity = capacity

	h, err := NewHandler(Deps{
		Store:     mem,
		Directory: mem,
		Resolver:  resolver,
		Table:     table,
		Programs:  program.NewService(mem, program.WithClock(clock)),
		Planner:   allocation.NewPlanner(mem, mem, resolver, table, allocation.WithClock(clock)),
		Scheduler: reservation.NewScheduler(mem, mem, resolver, cfg, reservation.WithClock(clock)),
		Now:       clock,
	})
	require.NoError(t, err)

	ts.handler = h
	ts.router = NewRouter(h, nil)
	return ts
}

// employee adds a G1 member with an outcome that leaves six days to choose.
func (ts *testServer) employee(t *testing.T, id generic.EmployeeID, hired string) {
	t.Helper()
	ts.mem.AddEmployee(generic.Employee{
		ID: id, PayrollNumber: string(id), Name: string(id), Email: string(id) + "@example.com",
		HireDate: generic.MustDate(hired), AreaID: "A1", GroupID: "G1", Active: true,
	})
	require.NoError(t, ts.mem.SaveOutcome(context.Background(), generic.AllocationOutcome{
		ProgramID:  "P2026",
		EmployeeID: id,
		Entitlement: generic.Entitlement{
			YearsOfService: 8, TotalDays: 22,
			CompanyMandatoryDays: 12, AutoAssignDays: 4, EmployeeChooseDays: 6,
		},
	}))
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "hr-1")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// CALENDAR AND ENTITLEMENT
// =============================================================================

func TestListRules(t *testing.T) {
	ts := newTestServer(t, 5)

	rec := ts.do(t, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rules := decodeBody[[]rotation.Rule](t, rec)
	assert.Len(t, rules, len(rotation.ProductionRules()))
}

func TestGetGroupCalendar(t *testing.T) {
	// GIVEN: G1 works Monday to Friday
	// WHEN: Resolving one week
	// THEN: Five workdays then two weekly rest days

	ts := newTestServer(t, 5)

	rec := ts.do(t, http.MethodGet, "/api/groups/G1/calendar?from=2026-01-05&to=2026-01-11", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	days := decodeBody[[]rotation.Resolution](t, rec)
	require.Len(t, days, 7)
	for i, d := range days {
		want := rotation.ActivityWorkday
		if i >= 5 {
			want = rotation.ActivityWeeklyRest
		}
		assert.Equal(t, want, d.Activity, "day %d", i)
	}
}

func TestGetGroupCalendar_Errors(t *testing.T) {
	ts := newTestServer(t, 5)

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"bad from", "/api/groups/G1/calendar?from=01-05-2026&to=2026-01-11", http.StatusBadRequest, "validation"},
		{"missing to", "/api/groups/G1/calendar?from=2026-01-05", http.StatusBadRequest, "validation"},
		{"unknown group", "/api/groups/NOPE/calendar?from=2026-01-05&to=2026-01-11", http.StatusNotFound, "not_found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tc.path, nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestGetEntitlement(t *testing.T) {
	ts := newTestServer(t, 5)

	rec := ts.do(t, http.MethodGet, "/api/entitlement?years=8", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decodeBody[EntitlementDTO](t, rec)
	assert.Equal(t, 8, dto.Entitlement.YearsOfService)
	assert.Equal(t, 22, dto.Entitlement.TotalDays)
	assert.Equal(t, 4, dto.Entitlement.AutoAssignDays)
	assert.Equal(t, 6, dto.Entitlement.EmployeeChooseDays)

	rec = ts.do(t, http.MethodGet, "/api/entitlement?years=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PROGRAMS
// =============================================================================

func TestProgramLifecycle(t *testing.T) {
	// GIVEN: No program for 2027
	// WHEN: Creating, duplicating, activating, closing and reactivating it
	// THEN: 201, 409 already_exists, 200, 200, 409 invalid_transition

	ts := newTestServer(t, 5)

	rec := ts.do(t, http.MethodPost, "/api/programs", CreateProgramRequest{Year: 2027})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[generic.AnnualProgram](t, rec)
	assert.Equal(t, generic.ProgramPending, created.State)
	assert.Equal(t, "hr-1", created.OwnerID)

	rec = ts.do(t, http.MethodPost, "/api/programs", CreateProgramRequest{Year: 2027})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_exists", decodeBody[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/programs/"+string(created.ID)+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, generic.ProgramInProgress, decodeBody[generic.AnnualProgram](t, rec).State)

	rec = ts.do(t, http.MethodPost, "/api/programs/"+string(created.ID)+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/programs/"+string(created.ID)+"/activate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/programs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]generic.AnnualProgram](t, rec), 2)
}

func TestCreateProgram_Validation(t *testing.T) {
	ts := newTestServer(t, 5)

	rec := ts.do(t, http.MethodPost, "/api/programs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Code)
	assert.Contains(t, resp.Error, "Year is a required field")

	req := httptest.NewRequest(http.MethodPost, "/api/programs", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	ts.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestCurrentProgram(t *testing.T) {
	ts := newTestServer(t, 5)

	rec := ts.do(t, http.MethodGet, "/api/programs/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, generic.ProgramID("P2026"), decodeBody[generic.AnnualProgram](t, rec).ID)

	rec = ts.do(t, http.MethodDelete, "/api/programs/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[generic.AnnualProgram](t, rec).Deleted)

	rec = ts.do(t, http.MethodGet, "/api/programs/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownProgram(t *testing.T) {
	ts := newTestServer(t, 5)

	for _, path := range []string{"/api/programs/NOPE/outcomes", "/api/programs/NOPE/blocks"} {
		rec := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

// =============================================================================
// BLOCKS AND RESERVATIONS
// =============================================================================

// openBlocks opens G1's blocks starting Thursday 2026-01-08 and returns them.
func openBlocks(t *testing.T, ts *testServer) []generic.Block {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/programs/P2026/blocks", OpenBlocksRequest{
		Start: "2026-01-08", AreaID: "A1", GroupID: "G1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[[]generic.Block](t, rec)
}

func TestReserveFlow(t *testing.T) {
	// GIVEN: E1 rostered in an open block
	// WHEN: E1 reserves a workday, adds another, then repeats the first
	// THEN: 201 Assigned twice on the same reservation, then 400; the block
	//       listing, audit trail and metrics reflect the reservation

	ts := newTestServer(t, 5)
	ts.employee(t, "E1", "2015-01-01")
	blocks := openBlocks(t, ts)
	require.Len(t, blocks, 1)

	path := "/api/blocks/" + string(blocks[0].ID) + "/reservations"
	rec := ts.do(t, http.MethodPost, path, ReserveRequest{EmployeeID: "E1", Dates: []string{"2026-03-02"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[generic.Reservation](t, rec)
	assert.Equal(t, generic.ReservationAssigned, res.Status)

	rec = ts.do(t, http.MethodPost, path, ReserveRequest{EmployeeID: "E1", Dates: []string{"2026-03-03"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	topUp := decodeBody[generic.Reservation](t, rec)
	assert.Equal(t, res.ID, topUp.ID)
	assert.Len(t, topUp.Dates, 2)

	rec = ts.do(t, http.MethodPost, path, ReserveRequest{EmployeeID: "E1", Dates: []string{"2026-03-02"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeBody[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/programs/P2026/blocks?group=G1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]BlockDTO](t, rec)
	require.Len(t, listed, 1)
	require.Len(t, listed[0].Reservations, 1)
	assert.Equal(t, generic.EmployeeID("E1"), listed[0].Reservations[0].EmployeeID)

	rec = ts.do(t, http.MethodGet, "/api/programs/P2026/blocks/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/audit?model="+reservation.ReservationAuditModel+"&record="+string(res.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]generic.AuditEntry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "hr-1", entries[0].ActorID)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `leave_reservations_total{result="assigned"} 2`)
	assert.Contains(t, body, `leave_reservations_total{result="invalid"} 1`)
	assert.Contains(t, body, "leave_http_requests_total")
}

func TestReserve_BlockFull(t *testing.T) {
	// GIVEN: Blocks of capacity 1, E1 in block 1 and E2 in block 2
	// WHEN: E2 reserves in block 1
	// THEN: 409 block_full

	ts := newTestServer(t, 1)
	ts.employee(t, "E1", "2010-01-01")
	ts.employee(t, "E2", "2015-01-01")
	blocks := openBlocks(t, ts)
	require.Len(t, blocks, 2)

	rec := ts.do(t, http.MethodPost, "/api/blocks/"+string(blocks[0].ID)+"/reservations",
		ReserveRequest{EmployeeID: "E2", Dates: []string{"2026-03-02"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "block_full", decodeBody[ErrorResponse](t, rec).Code)
}

func TestReserve_Validation(t *testing.T) {
	ts := newTestServer(t, 5)

	rec := ts.do(t, http.MethodPost, "/api/blocks/B1/reservations", ReserveRequest{EmployeeID: "E1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/blocks/B1/reservations", ReserveRequest{EmployeeID: "E1", Dates: []string{"2026-13-40"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEscalate(t *testing.T) {
	// GIVEN: An open block where E1 already reserved
	// WHEN: Escalating after its deadline
	// THEN: The block closes and nothing moves to overflow

	ts := newTestServer(t, 5)
	ts.employee(t, "E1", "2015-01-01")
	blocks := openBlocks(t, ts)
	rec := ts.do(t, http.MethodPost, "/api/blocks/"+string(blocks[0].ID)+"/reservations",
		ReserveRequest{EmployeeID: "E1", Dates: []string{"2026-03-02"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	ts.now = time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	rec = ts.do(t, http.MethodPost, "/api/programs/P2026/escalate",
		EscalateRequest{Now: ptr(time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC))})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	summary := decodeBody[reservation.EscalationSummary](t, rec)
	assert.Equal(t, 1, summary.Closed)
	assert.Equal(t, 0, summary.Escalated)
}

func TestEscalate_RejectsFutureNow(t *testing.T) {
	// GIVEN: An open block whose window ends tomorrow
	// WHEN: A client asks to escalate as of next week
	// THEN: 400 and the block is still open with nothing audited

	ts := newTestServer(t, 5)
	ts.employee(t, "E1", "2015-01-01")
	blocks := openBlocks(t, ts)

	rec := ts.do(t, http.MethodPost, "/api/programs/P2026/escalate",
		EscalateRequest{Now: ptr(ts.now.Add(7 * 24 * time.Hour))})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "validation", decodeBody[ErrorResponse](t, rec).Code)

	b, err := ts.mem.GetBlock(context.Background(), blocks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, generic.BlockOpen, b.State)

	rs, err := ts.mem.ListReservations(context.Background(), blocks[0].ID)
	require.NoError(t, err)
	for _, r := range rs {
		assert.Equal(t, generic.ReservationPending, r.Status)
	}

	rec = ts.do(t, http.MethodPost, "/api/programs/P2026/escalate", EscalateRequest{Now: ptr(ts.now)})
	assert.Equal(t, http.StatusOK, rec.Code, "the server time itself is accepted")
}

func TestManualAssignAndMove(t *testing.T) {
	// GIVEN: Blocks of one: E1 in block 1, E2 in block 2
	// WHEN: An operator tries to move E2 into block 1 and assigns days to E1
	// THEN: 409 block_full for the move, 200 for the assignment audited as hr-1

	ts := newTestServer(t, 1)
	ts.employee(t, "E1", "2010-01-01")
	ts.employee(t, "E2", "2011-01-01")
	blocks := openBlocks(t, ts)
	require.Len(t, blocks, 2)

	rec := ts.do(t, http.MethodPost, "/api/blocks/"+string(blocks[1].ID)+"/moves",
		MoveRequest{EmployeeID: "E2", ToBlockID: string(blocks[0].ID)})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "block_full", decodeBody[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/blocks/"+string(blocks[1].ID)+"/moves", MoveRequest{EmployeeID: "E2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/programs/P2026/manual-assignments", ManualAssignRequest{
		EmployeeID: "E1", Dates: []string{"2026-03-02", "2026-03-03"}, Note: "by phone",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[reservation.ManualResult](t, rec)
	assert.Len(t, res.Added, 2)
	require.NotNil(t, res.Reservation)
	assert.Equal(t, generic.ReservationAssigned, res.Reservation.Status)

	rec = ts.do(t, http.MethodGet, "/api/audit?model="+reservation.ManualAuditModel+"&actor=hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]generic.AuditEntry](t, rec), 1)

	rec = ts.do(t, http.MethodPost, "/api/programs/P2026/manual-assignments", ManualAssignRequest{EmployeeID: "E1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevertAutoAssign(t *testing.T) {
	ts := newTestServer(t, 5)
	ts.employee(t, "E1", "2015-01-01")

	rec := ts.do(t, http.MethodPost, "/api/programs/P2026/auto-assign/revert", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/programs", CreateProgramRequest{Year: 2027})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeBody[generic.AnnualProgram](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/programs/"+string(p.ID)+"/auto-assign",
		AutoAssignRequest{EmployeeIDs: []string{"E1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, decodeBody[allocation.BatchSummary](t, rec).Succeeded)

	rec = ts.do(t, http.MethodPost, "/api/programs/"+string(p.ID)+"/auto-assign/revert", RevertRequest{GroupIDs: []string{"G1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody[allocation.RevertSummary](t, rec)
	assert.Equal(t, 1, summary.Employees)
	assert.Positive(t, summary.Days)
}

// =============================================================================
// MISC
// =============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 5)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.handler.Ping = func(context.Context) error { return errors.New("disk gone") }
	rec = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{generic.NotFound("program", "P1"), http.StatusNotFound, "not_found"},
		{generic.Misconfigured("rotation", "unknown rule %s", "X"), http.StatusInternalServerError, "configuration"},
		{&generic.CapacityError{BlockID: "B1", Reason: generic.ErrBlockClosed}, http.StatusConflict, "block_closed"},
		{&generic.CapacityError{BlockID: "B1", Reason: generic.ErrExpired}, http.StatusConflict, "expired"},
		{generic.Invalid("dates", "bad"), http.StatusBadRequest, "validation"},
		{context.Canceled, http.StatusServiceUnavailable, "cancelled"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func ptr[T any](v T) *T { return &v }
