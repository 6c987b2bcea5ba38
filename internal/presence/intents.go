// Package presence holds the per-employee presence state machine and
// the asynchronous writer that applies its side effects to storage.
package presence

import (
	"time"

	"github.com/technosupport/ts-attend/internal/data"
)

// IntentType tags one queued side effect.
type IntentType string

const (
	IntentEmployeeSeen    IntentType = "employee_seen"
	IntentEmployeeTimeout IntentType = "employee_timeout"
	IntentAlertEmit       IntentType = "alert_emit"
)

// Intent is one state-change record consumed by the writer. Intents
// for the same employee are applied in enqueue order.
type Intent struct {
	Type       IntentType
	EmployeeID int
	CameraID   int
	TS         time.Time
	Similarity float64
	TrackID    int

	// Alert is set for IntentAlertEmit only.
	Alert *AlertIntent
}

// AlertIntent carries the durable alert payload with the schedule
// state frozen at emission time.
type AlertIntent struct {
	AlertType string
	Message   string
	Schedule  data.ScheduleSnapshot
}

// NewEmployeeSeen is published on the monitor's typed channel the
// first time an employee with no attendance history is recognized.
type NewEmployeeSeen struct {
	EmployeeID int
	CameraID   int
	TS         time.Time
}

// EvidenceKind selects the attendance evidence image to write.
type EvidenceKind string

const (
	EvidenceFirstIn EvidenceKind = "first_in"
	EvidenceLastOut EvidenceKind = "last_out"
)

// Evidence asks the capture subsystem to persist an attendance
// evidence image.
type Evidence struct {
	Kind       EvidenceKind
	EmployeeID int
	CameraID   int
	TS         time.Time

	// Overwrite replaces an existing first_in.jpg regardless of the
	// overwrite parameter. Set for a newly enrolled employee's first
	// detection so a stale placeholder never blocks the real capture.
	Overwrite bool
}
