package data

import (
	"context"
	"database/sql"
	"time"
)

type Employee struct {
	ID           int
	EmployeeCode string
	Name         string
	Department   string
	Position     string
	PhoneNumber  string
	IsActive     bool
	// SupervisorID is advisory only; the tracker never traverses it.
	SupervisorID *int
}

type EmployeeModel struct {
	DB DBTX
}

func (m EmployeeModel) GetByID(ctx context.Context, id int) (*Employee, error) {
	query := `
		SELECT id, employee_code, name, COALESCE(department, ''), COALESCE(position, ''),
		       COALESCE(phone_number, ''), is_active, supervisor_id
		FROM employees
		WHERE id = $1`

	var e Employee
	var supervisor sql.NullInt64
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.EmployeeCode, &e.Name, &e.Department, &e.Position,
		&e.PhoneNumber, &e.IsActive, &supervisor,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if supervisor.Valid {
		v := int(supervisor.Int64)
		e.SupervisorID = &v
	}
	return &e, nil
}

func (m EmployeeModel) ListActive(ctx context.Context) ([]Employee, error) {
	query := `
		SELECT id, employee_code, name, COALESCE(department, ''), COALESCE(position, ''),
		       COALESCE(phone_number, ''), is_active, supervisor_id
		FROM employees
		WHERE is_active
		ORDER BY id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		var supervisor sql.NullInt64
		if err := rows.Scan(&e.ID, &e.EmployeeCode, &e.Name, &e.Department, &e.Position,
			&e.PhoneNumber, &e.IsActive, &supervisor); err != nil {
			return nil, err
		}
		if supervisor.Valid {
			v := int(supervisor.Int64)
			e.SupervisorID = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HasAnyAttendance reports whether any attendance row was ever written
// for the employee. Drives the new-employee welcome signal.
func (m EmployeeModel) HasAnyAttendance(ctx context.Context, employeeID int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM attendances WHERE employee_id = $1)`
	if err := m.DB.QueryRowContext(ctx, query, employeeID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListActiveWithoutAttendance returns active employees that have no
// attendance row on the given date. Used by the daily absent marker.
func (m EmployeeModel) ListActiveWithoutAttendance(ctx context.Context, date time.Time) ([]Employee, error) {
	query := `
		SELECT e.id, e.employee_code, e.name, COALESCE(e.department, ''), COALESCE(e.position, ''),
		       COALESCE(e.phone_number, ''), e.is_active, e.supervisor_id
		FROM employees e
		WHERE e.is_active
		  AND NOT EXISTS (
			SELECT 1 FROM attendances a
			WHERE a.employee_id = e.id AND a.date = $1
		  )
		ORDER BY e.id`

	rows, err := m.DB.QueryContext(ctx, query, date.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		var supervisor sql.NullInt64
		if err := rows.Scan(&e.ID, &e.EmployeeCode, &e.Name, &e.Department, &e.Position,
			&e.PhoneNumber, &e.IsActive, &supervisor); err != nil {
			return nil, err
		}
		if supervisor.Valid {
			v := int(supervisor.Int64)
			e.SupervisorID = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
