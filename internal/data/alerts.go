package data

import (
	"context"
	"time"
)

const (
	AlertEnter       = "ENTER"
	AlertExit        = "EXIT"
	AlertNewEmployee = "NEW_EMPLOYEE"
)

// ScheduleSnapshot is the schedule state frozen at alert emission.
type ScheduleSnapshot struct {
	WorkHours      string
	LunchBreak     string
	IsManualPause  bool
	TrackingActive bool
}

// AlertLog is one durable ENTER/EXIT/NEW_EMPLOYEE record. Append-only;
// retention is today only.
type AlertLog struct {
	ID               int
	EmployeeID       int
	CameraID         *int
	Timestamp        time.Time
	AlertType        string
	Message          string
	NotifiedTo       string
	NotifiedExternal bool
	Schedule         ScheduleSnapshot
}

type AlertModel struct {
	DB DBTX
}

func (m AlertModel) Insert(ctx context.Context, a AlertLog) (int, error) {
	query := `
		INSERT INTO alert_logs (employee_id, camera_id, timestamp, alert_type, message,
		                        notified_to, notified_external,
		                        schedule_work_hours, schedule_lunch_break,
		                        schedule_is_manual_pause, schedule_tracking_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	var id int
	err := m.DB.QueryRowContext(ctx, query,
		a.EmployeeID, a.CameraID, a.Timestamp, a.AlertType, a.Message,
		a.NotifiedTo, a.NotifiedExternal,
		a.Schedule.WorkHours, a.Schedule.LunchBreak,
		a.Schedule.IsManualPause, a.Schedule.TrackingActive,
	).Scan(&id)
	return id, err
}

// MarkNotified records a successful hand-off to the external notifier.
func (m AlertModel) MarkNotified(ctx context.Context, id int, notifiedTo string) error {
	query := `
		UPDATE alert_logs
		SET notified_external = TRUE, notified_to = $2
		WHERE id = $1`
	_, err := m.DB.ExecContext(ctx, query, id, notifiedTo)
	return err
}

// PurgeExceptDate deletes every alert whose local calendar date is not
// the given one.
func (m AlertModel) PurgeExceptDate(ctx context.Context, date time.Time) (int64, error) {
	query := `DELETE FROM alert_logs WHERE (timestamp AT TIME ZONE 'Asia/Jakarta')::date <> $1`
	res, err := m.DB.ExecContext(ctx, query, date.Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
