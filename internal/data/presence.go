package data

import (
	"context"
	"database/sql"
	"time"
)

const (
	PresenceAvailable = "available"
	PresenceOff       = "off"
)

// Presence is the singleton per-employee live status row.
type Presence struct {
	EmployeeID   int
	Status       string
	LastSeenTS   *time.Time
	LastCameraID *int
}

// PresenceRow joins presence with employee metadata for the view.
type PresenceRow struct {
	Presence
	Name       string
	Department string
}

type PresenceModel struct {
	DB DBTX
}

// UpsertSeen marks the employee available as of ts on the camera.
func (m PresenceModel) UpsertSeen(ctx context.Context, employeeID, cameraID int, ts time.Time) error {
	query := `
		INSERT INTO presence (employee_id, status, last_seen_ts, last_camera_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_id) DO UPDATE
		SET status = EXCLUDED.status,
		    last_seen_ts = EXCLUDED.last_seen_ts,
		    last_camera_id = EXCLUDED.last_camera_id`
	_, err := m.DB.ExecContext(ctx, query, employeeID, PresenceAvailable, ts, cameraID)
	return err
}

func (m PresenceModel) Get(ctx context.Context, employeeID int) (*Presence, error) {
	query := `
		SELECT employee_id, status, last_seen_ts, last_camera_id
		FROM presence
		WHERE employee_id = $1`

	var p Presence
	var lastSeen sql.NullTime
	var lastCam sql.NullInt64
	err := m.DB.QueryRowContext(ctx, query, employeeID).Scan(&p.EmployeeID, &p.Status, &lastSeen, &lastCam)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		p.LastSeenTS = &lastSeen.Time
	}
	if lastCam.Valid {
		v := int(lastCam.Int64)
		p.LastCameraID = &v
	}
	return &p, nil
}

// SetOff flips the row to off. Returns false when the row was already
// off (or absent), so the caller can skip the attendance update.
func (m PresenceModel) SetOff(ctx context.Context, employeeID int) (bool, error) {
	query := `
		UPDATE presence
		SET status = $2
		WHERE employee_id = $1 AND status <> $2`
	res, err := m.DB.ExecContext(ctx, query, employeeID, PresenceOff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListActive returns presence joined with active employees.
func (m PresenceModel) ListActive(ctx context.Context) ([]PresenceRow, error) {
	query := `
		SELECT p.employee_id, p.status, p.last_seen_ts, p.last_camera_id,
		       e.name, COALESCE(e.department, '')
		FROM presence p
		JOIN employees e ON e.id = p.employee_id
		WHERE e.is_active
		ORDER BY p.employee_id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PresenceRow
	for rows.Next() {
		var r PresenceRow
		var lastSeen sql.NullTime
		var lastCam sql.NullInt64
		if err := rows.Scan(&r.EmployeeID, &r.Status, &lastSeen, &lastCam, &r.Name, &r.Department); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			r.LastSeenTS = &lastSeen.Time
		}
		if lastCam.Valid {
			v := int(lastCam.Int64)
			r.LastCameraID = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
