package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MiltronBee/leave-engine/generic"
)

// =============================================================================
// PROGRAMS
// =============================================================================

const programColumns = `id, year, state, deleted, start_date, end_date, owner_id, created_at, updated_at`

func (r *repo) SaveProgram(ctx context.Context, p generic.AnnualProgram) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO programs (`+programColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			year = excluded.year, state = excluded.state, deleted = excluded.deleted,
			start_date = excluded.start_date, end_date = excluded.end_date,
			owner_id = excluded.owner_id, updated_at = excluded.updated_at
	`, p.ID, p.Year, p.State, boolInt(p.Deleted), formatDate(p.Period.Start), formatDate(p.Period.End),
		nullString(p.OwnerID), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}
	return nil
}

func scanProgram(row scanner) (generic.AnnualProgram, error) {
	var (
		p                    generic.AnnualProgram
		deleted              int
		start, end           string
		owner                sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Year, &p.State, &deleted, &start, &end, &owner, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	var err error
	if p.Period.Start, err = parseDate(start); err != nil {
		return p, err
	}
	if p.Period.End, err = parseDate(end); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	p.Deleted = deleted == 1
	p.OwnerID = owner.String
	return p, nil
}

func (r *repo) GetProgram(ctx context.Context, id generic.ProgramID) (*generic.AnnualProgram, error) {
	p, err := scanProgram(r.q.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	return &p, nil
}

func (r *repo) ListPrograms(ctx context.Context) ([]generic.AnnualProgram, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+programColumns+` FROM programs ORDER BY year DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	var out []generic.AnnualProgram
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// OUTCOMES
// =============================================================================

const outcomeColumns = `program_id, employee_id, entitlement_json, auto_assigned_json, chosen_json, unassigned_reason, detail, updated_at`

func (r *repo) SaveOutcome(ctx context.Context, o generic.AllocationOutcome) error {
	ent, err := json.Marshal(o.Entitlement)
	if err != nil {
		return err
	}
	auto, err := marshalDays(o.AutoAssigned)
	if err != nil {
		return err
	}
	chosen, err := marshalDays(o.Chosen)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO outcomes (`+outcomeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(program_id, employee_id) DO UPDATE SET
			entitlement_json = excluded.entitlement_json,
			auto_assigned_json = excluded.auto_assigned_json,
			chosen_json = excluded.chosen_json,
			unassigned_reason = excluded.unassigned_reason,
			detail = excluded.detail,
			updated_at = excluded.updated_at
	`, o.ProgramID, o.EmployeeID, string(ent), auto, chosen,
		nullString(string(o.UnassignedReason)), nullString(o.Detail), formatTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

func scanOutcome(row scanner) (generic.AllocationOutcome, error) {
	var (
		o                 generic.AllocationOutcome
		ent, auto, chosen string
		reason, detail    sql.NullString
		updatedAt         string
	)
	if err := row.Scan(&o.ProgramID, &o.EmployeeID, &ent, &auto, &chosen, &reason, &detail, &updatedAt); err != nil {
		return o, err
	}
	if err := json.Unmarshal([]byte(ent), &o.Entitlement); err != nil {
		return o, fmt.Errorf("outcome entitlement: %w", err)
	}
	var err error
	if o.AutoAssigned, err = unmarshalDays(auto); err != nil {
		return o, err
	}
	if o.Chosen, err = unmarshalDays(chosen); err != nil {
		return o, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return o, err
	}
	o.UnassignedReason = generic.UnassignedReason(reason.String)
	o.Detail = detail.String
	return o, nil
}

func (r *repo) GetOutcome(ctx context.Context, programID generic.ProgramID, employeeID generic.EmployeeID) (*generic.AllocationOutcome, error) {
	o, err := scanOutcome(r.q.QueryRowContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE program_id = ? AND employee_id = ?`, programID, employeeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	return &o, nil
}

func (r *repo) ListOutcomes(ctx context.Context, programID generic.ProgramID) ([]generic.AllocationOutcome, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE program_id = ? ORDER BY employee_id`, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []generic.AllocationOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// =============================================================================
// BLOCKS AND RESERVATIONS
// =============================================================================

const blockColumns = `id, program_id, area_id, group_id, block_number, window_start, window_end, capacity, overflow, state, created_at`

func (r *repo) SaveBlock(ctx context.Context, b generic.Block) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO blocks (`+blockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			window_start = excluded.window_start, window_end = excluded.window_end,
			capacity = excluded.capacity, state = excluded.state
	`, b.ID, b.ProgramID, b.AreaID, b.GroupID, b.Number, formatTime(b.WindowStart), formatTime(b.WindowEnd),
		b.Capacity, boolInt(b.Overflow), b.State, formatTime(b.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("block %d of group %s: %w", b.Number, b.GroupID, generic.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

func scanBlock(row scanner) (generic.Block, error) {
	var (
		b                     generic.Block
		start, end, createdAt string
		overflow              int
	)
	if err := row.Scan(&b.ID, &b.ProgramID, &b.AreaID, &b.GroupID, &b.Number, &start, &end,
		&b.Capacity, &overflow, &b.State, &createdAt); err != nil {
		return b, err
	}
	var err error
	if b.WindowStart, err = parseTime(start); err != nil {
		return b, err
	}
	if b.WindowEnd, err = parseTime(end); err != nil {
		return b, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return b, err
	}
	b.Overflow = overflow == 1
	return b, nil
}

func (r *repo) GetBlock(ctx context.Context, id generic.BlockID) (*generic.Block, error) {
	b, err := scanBlock(r.q.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return &b, nil
}

func (r *repo) ListBlocks(ctx context.Context, f generic.BlockFilter) ([]generic.Block, error) {
	var (
		where []string
		args  []any
	)
	if f.ProgramID != "" {
		where, args = append(where, "program_id = ?"), append(args, f.ProgramID)
	}
	if f.AreaID != nil {
		where, args = append(where, "area_id = ?"), append(args, *f.AreaID)
	}
	if f.GroupID != nil {
		where, args = append(where, "group_id = ?"), append(args, *f.GroupID)
	}
	if f.Overflow != nil {
		where, args = append(where, "overflow = ?"), append(args, boolInt(*f.Overflow))
	}
	if f.State != nil {
		where, args = append(where, "state = ?"), append(args, *f.State)
	}
	query := `SELECT ` + blockColumns + ` FROM blocks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY area_id, group_id, block_number`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	var out []generic.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const reservationColumns = `id, block_id, employee_id, position, dates_json, status, urgent, created_at, updated_at`

func (r *repo) SaveReservation(ctx context.Context, res generic.Reservation) error {
	dates, err := marshalDays(res.Dates)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position = excluded.position, dates_json = excluded.dates_json, status = excluded.status,
			urgent = excluded.urgent, updated_at = excluded.updated_at
	`, res.ID, res.BlockID, res.EmployeeID, res.Position, dates, res.Status,
		boolInt(res.RequiresUrgentAction), formatTime(res.CreatedAt), formatTime(res.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

func scanReservation(row scanner) (generic.Reservation, error) {
	var (
		res                  generic.Reservation
		dates                string
		urgent               int
		createdAt, updatedAt string
	)
	if err := row.Scan(&res.ID, &res.BlockID, &res.EmployeeID, &res.Position, &dates, &res.Status,
		&urgent, &createdAt, &updatedAt); err != nil {
		return res, err
	}
	var err error
	if res.Dates, err = unmarshalDays(dates); err != nil {
		return res, err
	}
	if res.CreatedAt, err = parseTime(createdAt); err != nil {
		return res, err
	}
	if res.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return res, err
	}
	res.RequiresUrgentAction = urgent == 1
	return res, nil
}

func (r *repo) queryReservations(ctx context.Context, query string, args ...any) ([]generic.Reservation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var out []generic.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *repo) ListReservations(ctx context.Context, blockID generic.BlockID) ([]generic.Reservation, error) {
	return r.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE block_id = ? ORDER BY position, seq`, blockID)
}

func (r *repo) ListEmployeeReservations(ctx context.Context, programID generic.ProgramID, employeeID generic.EmployeeID) ([]generic.Reservation, error) {
	return r.queryReservations(ctx, `
		SELECT r.id, r.block_id, r.employee_id, r.position, r.dates_json, r.status, r.urgent, r.created_at, r.updated_at
		FROM reservations r JOIN blocks b ON b.id = r.block_id
		WHERE b.program_id = ? AND r.employee_id = ?
		ORDER BY r.seq
	`, programID, employeeID)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (r *repo) Append(ctx context.Context, e generic.AuditEntry) error {
	var payload sql.NullString
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("audit payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, model, record_id, area_id, group_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), e.ActorID, e.Action, e.Model, e.RecordID,
		nullString(string(e.AreaID)), nullString(string(e.GroupID)), payload)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("audit entry %s: %w", e.ID, generic.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *repo) Query(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Model != "" {
		where, args = append(where, "model = ?"), append(args, f.Model)
	}
	if f.RecordID != "" {
		where, args = append(where, "record_id = ?"), append(args, f.RecordID)
	}
	if f.ActorID != "" {
		where, args = append(where, "actor_id = ?"), append(args, f.ActorID)
	}
	if len(f.Actions) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.Actions)), ",")
		where = append(where, "action IN ("+marks+")")
		for _, a := range f.Actions {
			args = append(args, a)
		}
	}
	if f.From != nil {
		where, args = append(where, "timestamp >= ?"), append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where, args = append(where, "timestamp <= ?"), append(args, formatTime(*f.To))
	}
	query := `SELECT id, timestamp, actor_id, action, model, record_id, area_id, group_id, payload_json FROM audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e                    generic.AuditEntry
			ts                   string
			area, group, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.Action, &e.Model, &e.RecordID, &area, &group, &payload); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.AreaID = generic.AreaID(area.String)
		e.GroupID = generic.GroupID(group.String)
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
