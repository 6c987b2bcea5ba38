package data

import (
	"context"
	"database/sql"
	"time"
)

const (
	AttendancePresent = "PRESENT"
	AttendanceAbsent  = "ABSENT"
	AttendanceLate    = "LATE"

	EntryAuto   = "AUTO"
	EntryManual = "MANUAL"
	EntrySystem = "SYSTEM"
)

// Attendance is the per-(employee, date) daily record. Rows with
// EntryType MANUAL are pinned: no automatic path may change their
// status or entry type.
type Attendance struct {
	ID         int
	EmployeeID int
	Date       time.Time
	FirstInTS  *time.Time
	LastOutTS  *time.Time
	Status     string
	EntryType  string
}

type AttendanceModel struct {
	DB DBTX
}

func (m AttendanceModel) GetByEmployeeDate(ctx context.Context, employeeID int, date time.Time) (*Attendance, error) {
	query := `
		SELECT id, employee_id, date, first_in_ts, last_out_ts, status, entry_type
		FROM attendances
		WHERE employee_id = $1 AND date = $2`

	var a Attendance
	var firstIn, lastOut sql.NullTime
	err := m.DB.QueryRowContext(ctx, query, employeeID, date.Format("2006-01-02")).Scan(
		&a.ID, &a.EmployeeID, &a.Date, &firstIn, &lastOut, &a.Status, &a.EntryType,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if firstIn.Valid {
		a.FirstInTS = &firstIn.Time
	}
	if lastOut.Valid {
		a.LastOutTS = &lastOut.Time
	}
	return &a, nil
}

// UpsertSeen applies the employee-seen rule: create the day's row
// with first_in = ts, or backfill a null first_in and refresh
// status/entry type. The MANUAL guard lives in the statement itself.
func (m AttendanceModel) UpsertSeen(ctx context.Context, employeeID int, date, ts time.Time) error {
	query := `
		INSERT INTO attendances (employee_id, date, first_in_ts, status, entry_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (employee_id, date) DO UPDATE
		SET first_in_ts = COALESCE(attendances.first_in_ts, EXCLUDED.first_in_ts),
		    status = CASE WHEN attendances.entry_type <> 'MANUAL' THEN EXCLUDED.status ELSE attendances.status END,
		    entry_type = CASE WHEN attendances.entry_type <> 'MANUAL' THEN EXCLUDED.entry_type ELSE attendances.entry_type END`
	_, err := m.DB.ExecContext(ctx, query, employeeID, date.Format("2006-01-02"), ts, AttendancePresent, EntryAuto)
	return err
}

// UpsertLastOut applies the timeout rule: create the day's row if
// absent, otherwise advance last_out_ts unless the row is MANUAL.
func (m AttendanceModel) UpsertLastOut(ctx context.Context, employeeID int, date, ts time.Time) error {
	query := `
		INSERT INTO attendances (employee_id, date, last_out_ts, status, entry_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (employee_id, date) DO UPDATE
		SET last_out_ts = CASE WHEN attendances.entry_type <> 'MANUAL' THEN EXCLUDED.last_out_ts ELSE attendances.last_out_ts END`
	_, err := m.DB.ExecContext(ctx, query, employeeID, date.Format("2006-01-02"), ts, AttendancePresent, EntryAuto)
	return err
}

// EnsureAbsent applies the inactive-employee rule: the day's row
// exists with ABSENT status and null timestamps. MANUAL rows are left
// alone.
func (m AttendanceModel) EnsureAbsent(ctx context.Context, employeeID int, date time.Time) error {
	query := `
		INSERT INTO attendances (employee_id, date, first_in_ts, last_out_ts, status, entry_type)
		VALUES ($1, $2, NULL, NULL, $3, $4)
		ON CONFLICT (employee_id, date) DO UPDATE
		SET first_in_ts = NULL,
		    last_out_ts = NULL,
		    status = EXCLUDED.status
		WHERE attendances.entry_type <> 'MANUAL'`
	_, err := m.DB.ExecContext(ctx, query, employeeID, date.Format("2006-01-02"), AttendanceAbsent, EntryAuto)
	return err
}

// MarkAbsentSystem writes the end-of-day (ABSENT, SYSTEM) row for an
// employee with no attendance yet. Existing rows are never touched.
func (m AttendanceModel) MarkAbsentSystem(ctx context.Context, employeeID int, date time.Time) (bool, error) {
	query := `
		INSERT INTO attendances (employee_id, date, status, entry_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_id, date) DO NOTHING`
	res, err := m.DB.ExecContext(ctx, query, employeeID, date.Format("2006-01-02"), AttendanceAbsent, EntrySystem)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetManual pins the day's row to an admin-chosen status.
func (m AttendanceModel) SetManual(ctx context.Context, employeeID int, date time.Time, status string) error {
	query := `
		INSERT INTO attendances (employee_id, date, status, entry_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_id, date) DO UPDATE
		SET status = EXCLUDED.status,
		    entry_type = EXCLUDED.entry_type`
	_, err := m.DB.ExecContext(ctx, query, employeeID, date.Format("2006-01-02"), status, EntryManual)
	return err
}

// ResetEntryType flips a MANUAL row back to AUTO without touching its
// status, re-opening it to automatic updates.
func (m AttendanceModel) ResetEntryType(ctx context.Context, employeeID int, date time.Time) error {
	query := `
		UPDATE attendances
		SET entry_type = $3
		WHERE employee_id = $1 AND date = $2`
	_, err := m.DB.ExecContext(ctx, query, employeeID, date.Format("2006-01-02"), EntryAuto)
	return err
}
