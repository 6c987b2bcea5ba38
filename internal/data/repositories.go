// Package data holds the Postgres repositories. Each model is a thin
// struct over a DBTX so the async writer can bind the same queries to
// a transaction.
package data

import (
	"context"
	"database/sql"
	"errors"
)

var ErrRecordNotFound = errors.New("record not found")

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Models bundles every repository over one handle.
type Models struct {
	Employees     EmployeeModel
	FaceTemplates FaceTemplateModel
	Cameras       CameraModel
	Events        EventModel
	Presence      PresenceModel
	Attendance    AttendanceModel
	Alerts        AlertModel
}

func NewModels(db DBTX) Models {
	return Models{
		Employees:     EmployeeModel{DB: db},
		FaceTemplates: FaceTemplateModel{DB: db},
		Cameras:       CameraModel{DB: db},
		Events:        EventModel{DB: db},
		Presence:      PresenceModel{DB: db},
		Attendance:    AttendanceModel{DB: db},
		Alerts:        AlertModel{DB: db},
	}
}
