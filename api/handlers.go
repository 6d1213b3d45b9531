/*
handlers.go - HTTP API handlers for the leave-allocation engine

PURPOSE:
  Exposes rotation calendars, entitlement lookups, the annual program state
  machine, auto-assignment, reservation blocks and the audit log over REST.
  Handles HTTP request/response, JSON serialization and validation, and
  delegates to the domain services.

ENDPOINTS:
  Calendars:
    GET    /api/rules                          Rotation rules in the catalog
    GET    /api/groups/{id}/calendar           Resolved days (?from&to[&employee])
    GET    /api/entitlement                    Band for ?years=

  Programs:
    GET    /api/programs                       All programs, newest first
    GET    /api/programs/current               Newest open program
    POST   /api/programs                       Create Pending program
    DELETE /api/programs/current               Logical delete
    POST   /api/programs/{id}/activate         Pending|Rescheduled -> InProgress
    POST   /api/programs/{id}/reschedule       InProgress -> Rescheduled
    POST   /api/programs/{id}/close            InProgress|Rescheduled -> Closed

  Allocation:
    POST   /api/programs/{id}/auto-assign      Plan (?simulate=true)
    POST   /api/programs/{id}/auto-assign/revert
                                               Drop automatic days (Pending only)
    GET    /api/programs/{id}/outcomes         Stored outcomes

  Reservations:
    POST   /api/programs/{id}/blocks           Open blocks (one group or all)
    GET    /api/programs/{id}/blocks           Blocks with reservations
    GET    /api/programs/{id}/blocks/stats     Progress per block
    POST   /api/blocks/{id}/reservations       Reserve choose days
    POST   /api/blocks/{id}/moves              Move an employee to another block
    POST   /api/programs/{id}/manual-assignments
                                               Operator picks days for an employee
    POST   /api/programs/{id}/escalate         Escalate expired blocks (now <= server time)

  Audit:
    GET    /api/audit                          Query (?model&record&actor&action&from&to&limit)

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error class:
  - 400: validation errors, invalid input
  - 404: resource not found
  - 409: capacity (block_full, block_closed, expired), invalid transition,
         duplicates
  - 500: configuration errors (code "configuration") and internal errors

ACTOR:
  X-Actor-ID names who performed a mutation in the audit log. Missing
  headers are recorded as "api".

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/MiltronBee/leave-engine/allocation"
	"github.com/MiltronBee/leave-engine/entitlement"
	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/program"
	"github.com/MiltronBee/leave-engine/reservation"
	"github.com/MiltronBee/leave-engine/rotation"
)

const defaultActor = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the services the handlers delegate to.
type Deps struct {
	Store     generic.TxStore
	Directory generic.Directory
	Resolver  *rotation.Resolver
	Table     *entitlement.Table
	Programs  *program.Service
	Planner   *allocation.Planner
	Scheduler *reservation.Scheduler
	Metrics   *Metrics
	Logger    *slog.Logger

	// Ping reports storage health; nil means always healthy.
	Ping func(ctx context.Context) error
	// Now is the clock used for escalation; nil means time.Now.
	Now func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Deps

	validate   *validator.Validate
	translator ut.Translator
}

// NewHandler creates a new handler with an English validation translator.
func NewHandler(d Deps) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{Deps: d, validate: validate, translator: trans}, nil
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListRules returns the rotation catalog.
// GET /api/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Resolver.Catalog().Rules())
}

// GetGroupCalendar resolves every day in [from, to] for a group.
// GET /api/groups/{id}/calendar?from=2026-01-01&to=2026-01-31&employee=E1
func (h *Handler) GetGroupCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := generic.GroupID(chi.URLParam(r, "id"))

	q := r.URL.Query()
	from, err := generic.ParseDate(q.Get("from"))
	if err != nil {
		h.fail(w, r, generic.Invalid("from", "expected YYYY-MM-DD"))
		return
	}
	to, err := generic.ParseDate(q.Get("to"))
	if err != nil {
		h.fail(w, r, generic.Invalid("to", "expected YYYY-MM-DD"))
		return
	}

	group, err := h.Directory.GetGroup(ctx, groupID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if group == nil {
		h.fail(w, r, generic.NotFound("group", string(groupID)))
		return
	}

	days, err := h.Resolver.Calendar(ctx, generic.EmployeeID(q.Get("employee")), *group, generic.Period{Start: from, End: to})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, days)
}

// GetEntitlement returns the band for a seniority.
// GET /api/entitlement?years=8
func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	years, err := strconv.Atoi(r.URL.Query().Get("years"))
	if err != nil || years < 0 {
		h.fail(w, r, generic.Invalid("years", "must be a non-negative integer"))
		return
	}
	band, err := h.Table.Lookup(years)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntitlementDTO{Band: band, Entitlement: band.Snapshot(years)})
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// ListPrograms returns every program, deleted included.
// GET /api/programs
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.Programs.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if programs == nil {
		programs = []generic.AnnualProgram{}
	}
	writeJSON(w, http.StatusOK, programs)
}

// GetCurrentProgram returns the newest non-deleted, non-closed program.
// GET /api/programs/current
func (h *Handler) GetCurrentProgram(w http.ResponseWriter, r *http.Request) {
	p, err := h.Programs.Current(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateProgram opens a Pending program.
// POST /api/programs
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var req CreateProgramRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Programs.Create(r.Context(), req.Year, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// DeleteCurrentProgram marks the current program deleted.
// DELETE /api/programs/current
func (h *Handler) DeleteCurrentProgram(w http.ResponseWriter, r *http.Request) {
	p, err := h.Programs.DeleteCurrent(r.Context(), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type transitionFunc func(ctx context.Context, id generic.ProgramID, actor string) (*generic.AnnualProgram, error)

// transition adapts a program.Service transition to a handler.
// POST /api/programs/{id}/activate|reschedule|close
func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := fn(r.Context(), generic.ProgramID(chi.URLParam(r, "id")), actor(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// AutoAssign plans a program. ?simulate=true returns outcomes without
// storing them.
// POST /api/programs/{id}/auto-assign
func (h *Handler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	var req AutoAssignRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	simulate, _ := strconv.ParseBool(r.URL.Query().Get("simulate"))

	summary, err := h.Planner.PlanProgram(r.Context(), generic.ProgramID(chi.URLParam(r, "id")), allocation.PlanOptions{
		Simulate:    simulate,
		EmployeeIDs: employeeIDs(req.EmployeeIDs),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RevertAutoAssign removes automatic days of a Pending program.
// POST /api/programs/{id}/auto-assign/revert
func (h *Handler) RevertAutoAssign(w http.ResponseWriter, r *http.Request) {
	var req RevertRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	groups := make([]generic.GroupID, len(req.GroupIDs))
	for i, g := range req.GroupIDs {
		groups[i] = generic.GroupID(g)
	}

	summary, err := h.Planner.Revert(r.Context(), generic.ProgramID(chi.URLParam(r, "id")), allocation.RevertOptions{
		GroupIDs: groups,
		ActorID:  actor(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListOutcomes returns the stored outcomes of a program.
// GET /api/programs/{id}/outcomes
func (h *Handler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.program(w, r)
	if !ok {
		return
	}
	outcomes, err := h.Store.ListOutcomes(ctx, p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if outcomes == nil {
		outcomes = []generic.AllocationOutcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// OpenBlocks lays out blocks for one group or for every group.
// POST /api/programs/{id}/blocks
func (h *Handler) OpenBlocks(w http.ResponseWriter, r *http.Request) {
	var req OpenBlocksRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	programID := generic.ProgramID(chi.URLParam(r, "id"))
	start, _ := generic.ParseDate(req.Start) // format checked by the validator

	if req.GroupID != "" {
		blocks, err := h.Scheduler.OpenBlocksFor(ctx, programID, generic.AreaID(req.AreaID), generic.GroupID(req.GroupID), start)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, blocks)
		return
	}

	summary, err := h.Scheduler.OpenAll(ctx, programID, start)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// ListBlocks returns the blocks of a program with their reservations.
// GET /api/programs/{id}/blocks?group=G1
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.program(w, r)
	if !ok {
		return
	}
	filter := generic.BlockFilter{ProgramID: p.ID}
	if g := r.URL.Query().Get("group"); g != "" {
		groupID := generic.GroupID(g)
		filter.GroupID = &groupID
	}
	blocks, err := h.Store.ListBlocks(ctx, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]BlockDTO, 0, len(blocks))
	for _, b := range blocks {
		res, err := h.Store.ListReservations(ctx, b.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if res == nil {
			res = []generic.Reservation{}
		}
		dtos = append(dtos, BlockDTO{Block: b, Reservations: res})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// BlockStats returns reservation progress.
// GET /api/programs/{id}/blocks/stats
func (h *Handler) BlockStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Scheduler.Stats(r.Context(), generic.ProgramID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Reserve books choose days in a block.
// POST /api/blocks/{id}/reservations
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	dates, err := parseDates(req.Dates)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Scheduler.Reserve(r.Context(), reservation.ReserveRequest{
		EmployeeID: generic.EmployeeID(req.EmployeeID),
		BlockID:    generic.BlockID(chi.URLParam(r, "id")),
		Dates:      dates,
		ActorID:    actor(r),
	})
	h.Metrics.reservation(reservationResult(err))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ManualAssign records days an operator picks for an employee.
// POST /api/programs/{id}/manual-assignments
func (h *Handler) ManualAssign(w http.ResponseWriter, r *http.Request) {
	var req ManualAssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	dates, err := parseDates(req.Dates)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Scheduler.ManualAssign(r.Context(), reservation.ManualRequest{
		ProgramID:    generic.ProgramID(chi.URLParam(r, "id")),
		EmployeeID:   generic.EmployeeID(req.EmployeeID),
		Dates:        dates,
		ActorID:      actor(r),
		Note:         req.Note,
		IgnoreLimits: req.IgnoreLimits,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MoveEmployee transfers an employee out of a block.
// POST /api/blocks/{id}/moves
func (h *Handler) MoveEmployee(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Scheduler.MoveEmployee(r.Context(), reservation.MoveRequest{
		EmployeeID: generic.EmployeeID(req.EmployeeID),
		FromBlock:  generic.BlockID(chi.URLParam(r, "id")),
		ToBlock:    generic.BlockID(req.ToBlockID),
		ActorID:    actor(r),
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Escalate runs escalation for a program.
// POST /api/programs/{id}/escalate
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	now := h.Now()
	if req.Now != nil {
		if req.Now.After(now) {
			h.fail(w, r, generic.Invalid("now", "must not be later than the server time %s", now.UTC().Format(time.RFC3339)))
			return
		}
		now = *req.Now
	}

	summary, err := h.Scheduler.EscalateExpired(r.Context(), generic.ProgramID(chi.URLParam(r, "id")), now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Metrics.escalated(summary.Escalated, summary.Flagged)
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit returns audit entries in append order.
// GET /api/audit?model=Reservation&record=R1&action=Update&from=...&limit=50
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.AuditFilter{
		Model:    q.Get("model"),
		RecordID: q.Get("record"),
		ActorID:  q.Get("actor"),
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, generic.AuditAction(a))
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.fail(w, r, generic.Invalid(name, "expected RFC 3339 timestamp"))
			return
		}
		*dst = &t
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.fail(w, r, generic.Invalid("limit", "must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	entries, err := h.Store.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []generic.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Health reports storage reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads and validates a JSON body. It writes the 400 response
// itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Code: "validation", Details: err.Error()})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verrs[0].Translate(h.translator), Code: "validation"})
			return false
		}
		h.fail(w, r, err)
		return false
	}
	return true
}

// program loads the {id} program or writes 404.
func (h *Handler) program(w http.ResponseWriter, r *http.Request) (*generic.AnnualProgram, bool) {
	p, err := h.Programs.Get(r.Context(), generic.ProgramID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return p, true
}

// fail maps an error to its HTTP status and code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	switch {
	case generic.IsConfiguration(err):
		return http.StatusInternalServerError, "configuration"
	case generic.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrBlockFull):
		return http.StatusConflict, "block_full"
	case errors.Is(err, generic.ErrBlockClosed):
		return http.StatusConflict, "block_closed"
	case errors.Is(err, generic.ErrExpired):
		return http.StatusConflict, "expired"
	case errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case generic.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case generic.IsClientError(err):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func reservationResult(err error) string {
	if err == nil {
		return "assigned"
	}
	_, code := classify(err)
	switch code {
	case "block_full", "block_closed", "expired":
		return code
	case "validation", "not_found", "already_exists":
		return "invalid"
	default:
		return "error"
	}
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor-ID"); a != "" {
		return a
	}
	return defaultActor
}
