package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MiltronBee/leave-engine/generic"
)

// =============================================================================
// DIRECTORY WRITES - seeding and synchronization from HR
// =============================================================================

func (s *Store) SaveArea(ctx context.Context, a generic.Area) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO areas (id, name, manager_id, manning) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, manager_id = excluded.manager_id, manning = excluded.manning
	`, a.ID, a.Name, nullString(string(a.ManagerID)), a.Manning)
	if err != nil {
		return fmt.Errorf("failed to save area: %w", err)
	}
	return nil
}

func (s *Store) SaveGroup(ctx context.Context, g generic.Group) error {
	start := g.StartVariant
	if start == 0 {
		start = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crew_groups (id, area_id, name, rule_id, start_variant, anchor) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			area_id = excluded.area_id, name = excluded.name, rule_id = excluded.rule_id,
			start_variant = excluded.start_variant, anchor = excluded.anchor
	`, g.ID, g.AreaID, g.Name, g.RuleID, start, formatDate(g.Anchor))
	if err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	return nil
}

func (s *Store) SaveEmployee(ctx context.Context, e generic.Employee) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, payroll_number, name, email, hire_date, area_id, group_id, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payroll_number = excluded.payroll_number, name = excluded.name, email = excluded.email,
			hire_date = excluded.hire_date, area_id = excluded.area_id, group_id = excluded.group_id,
			active = excluded.active
	`, e.ID, e.PayrollNumber, e.Name, nullString(e.Email), formatDate(e.HireDate),
		nullString(string(e.AreaID)), nullString(string(e.GroupID)), boolInt(e.Active))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) SaveInadmissibleDay(ctx context.Context, d generic.InadmissibleDay) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inadmissible_days (id, date, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET date = excluded.date, description = excluded.description
	`, d.ID, formatDate(d.Date), d.Description)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("inadmissible day %s: %w", d.Date, generic.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to save inadmissible day: %w", err)
	}
	return nil
}

func (s *Store) SaveLeave(ctx context.Context, l generic.LeaveRecord) error {
	if l.Period.End.Before(l.Period.Start) {
		return generic.ErrInvalidPeriod
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_records (id, employee_id, start_date, end_date, kind) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id, start_date = excluded.start_date,
			end_date = excluded.end_date, kind = excluded.kind
	`, l.ID, l.EmployeeID, formatDate(l.Period.Start), formatDate(l.Period.End), l.Kind)
	if err != nil {
		return fmt.Errorf("failed to save leave: %w", err)
	}
	return nil
}

// =============================================================================
// generic.Directory
// =============================================================================

const employeeColumns = `id, payroll_number, name, email, hire_date, area_id, group_id, active`

func scanEmployee(row scanner) (generic.Employee, error) {
	var (
		e                  generic.Employee
		email, area, group sql.NullString
		hire               string
		active             int
	)
	if err := row.Scan(&e.ID, &e.PayrollNumber, &e.Name, &email, &hire, &area, &group, &active); err != nil {
		return e, err
	}
	var err error
	if e.HireDate, err = parseDate(hire); err != nil {
		return e, fmt.Errorf("employee %s hire date: %w", e.ID, err)
	}
	e.Email = email.String
	e.AreaID = generic.AreaID(area.String)
	e.GroupID = generic.GroupID(group.String)
	e.Active = active == 1
	return e, nil
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return &e, nil
}

func (s *Store) ListEmployeesByGroup(ctx context.Context, groupID generic.GroupID) ([]generic.Employee, error) {
	return s.queryEmployees(ctx, `SELECT `+employeeColumns+` FROM employees WHERE group_id = ? AND active = 1 ORDER BY id`, groupID)
}

func (s *Store) ListActiveEmployees(ctx context.Context) ([]generic.Employee, error) {
	return s.queryEmployees(ctx, `SELECT `+employeeColumns+` FROM employees WHERE active = 1 ORDER BY id`)
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]generic.Employee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []generic.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanGroup(row scanner) (generic.Group, error) {
	var (
		g      generic.Group
		anchor string
	)
	if err := row.Scan(&g.ID, &g.AreaID, &g.Name, &g.RuleID, &g.StartVariant, &anchor); err != nil {
		return g, err
	}
	var err error
	if g.Anchor, err = parseDate(anchor); err != nil {
		return g, fmt.Errorf("group %s anchor: %w", g.ID, err)
	}
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, id generic.GroupID) (*generic.Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, area_id, name, rule_id, start_variant, anchor FROM crew_groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]generic.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, area_id, name, rule_id, start_variant, anchor FROM crew_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var out []generic.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) GetArea(ctx context.Context, id generic.AreaID) (*generic.Area, error) {
	var (
		a       generic.Area
		manager sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, manager_id, manning FROM areas WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &manager, &a.Manning)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get area: %w", err)
	}
	a.ManagerID = generic.EmployeeID(manager.String)
	return &a, nil
}

// =============================================================================
// generic.InadmissibleCalendar / generic.LeaveSource
// =============================================================================

func (s *Store) InadmissibleOn(ctx context.Context, date generic.TimePoint) (*generic.InadmissibleDay, error) {
	days, err := s.queryInadmissible(ctx, `SELECT id, date, description FROM inadmissible_days WHERE date = ?`, formatDate(date))
	if err != nil || len(days) == 0 {
		return nil, err
	}
	return &days[0], nil
}

func (s *Store) InadmissibleDays(ctx context.Context, period generic.Period) ([]generic.InadmissibleDay, error) {
	return s.queryInadmissible(ctx,
		`SELECT id, date, description FROM inadmissible_days WHERE date >= ? AND date <= ? ORDER BY date`,
		formatDate(period.Start), formatDate(period.End))
}

func (s *Store) queryInadmissible(ctx context.Context, query string, args ...any) ([]generic.InadmissibleDay, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inadmissible days: %w", err)
	}
	defer rows.Close()

	var out []generic.InadmissibleDay
	for rows.Next() {
		var (
			d    generic.InadmissibleDay
			date string
			desc sql.NullString
		)
		if err := rows.Scan(&d.ID, &date, &desc); err != nil {
			return nil, err
		}
		if d.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		d.Description = desc.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ApprovedLeave(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) ([]generic.LeaveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, start_date, end_date, kind
		FROM leave_records
		WHERE employee_id = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date
	`, employeeID, formatDate(period.End), formatDate(period.Start))
	if err != nil {
		return nil, fmt.Errorf("failed to query leave: %w", err)
	}
	defer rows.Close()

	var out []generic.LeaveRecord
	for rows.Next() {
		var (
			l          generic.LeaveRecord
			start, end string
			kind       sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.EmployeeID, &start, &end, &kind); err != nil {
			return nil, err
		}
		if l.Period.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if l.Period.End, err = parseDate(end); err != nil {
			return nil, err
		}
		l.Kind = kind.String
		out = append(out, l)
	}
	return out, rows.Err()
}
