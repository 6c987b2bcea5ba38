package data

import (
	"context"
	"time"
)

// Event is one recognized-detection record. Append-only; retention is
// today only.
type Event struct {
	ID         int
	EmployeeID *int
	CameraID   int
	Timestamp  time.Time
	Similarity float64
	TrackID    string
}

type EventModel struct {
	DB DBTX
}

func (m EventModel) Insert(ctx context.Context, e Event) error {
	query := `
		INSERT INTO events (employee_id, camera_id, timestamp, similarity_score, track_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))`
	_, err := m.DB.ExecContext(ctx, query, e.EmployeeID, e.CameraID, e.Timestamp, e.Similarity, e.TrackID)
	return err
}

// PurgeExceptDate deletes every event whose local calendar date is not
// the given one. Returns the number of rows removed.
func (m EventModel) PurgeExceptDate(ctx context.Context, date time.Time) (int64, error) {
	query := `DELETE FROM events WHERE (timestamp AT TIME ZONE 'Asia/Jakarta')::date <> $1`
	res, err := m.DB.ExecContext(ctx, query, date.Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountForDate is used by tests and the ops surface.
func (m EventModel) CountForDate(ctx context.Context, date time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM events WHERE (timestamp AT TIME ZONE 'Asia/Jakarta')::date = $1`
	var n int
	err := m.DB.QueryRowContext(ctx, query, date.Format("2006-01-02")).Scan(&n)
	return n, err
}
