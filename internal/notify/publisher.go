// Package notify hands committed alerts to downstream notifiers over
// NATS. The payload is self-contained so subscribers (Telegram bot,
// dashboards) never have to query the tracker back.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-attend/internal/data"
)

// Conn is the slice of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// alertMessage is the wire envelope for one alert.
type alertMessage struct {
	MessageID  string    `json:"message_id"`
	AlertID    int       `json:"alert_id"`
	EmployeeID int       `json:"employee_id"`
	CameraID   *int      `json:"camera_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	AlertType  string    `json:"alert_type"`
	Message    string    `json:"message"`

	WorkHours      string `json:"work_hours"`
	LunchBreak     string `json:"lunch_break"`
	IsManualPause  bool   `json:"is_manual_pause"`
	TrackingActive bool   `json:"tracking_active"`
}

// AlertPublisher pushes alerts to a NATS subject with bounded retry.
type AlertPublisher struct {
	conn       Conn
	subject    string
	maxRetries int
}

func NewAlertPublisher(conn Conn, subject string, maxRetries int) *AlertPublisher {
	return &AlertPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

// Target names the destination recorded in alert_logs.notified_to.
func (p *AlertPublisher) Target() string {
	return "nats:" + p.subject
}

// Publish sends the alert, retrying with linear backoff. The context
// bounds the total attempt window.
func (p *AlertPublisher) Publish(ctx context.Context, alert data.AlertLog) error {
	msg := alertMessage{
		MessageID:      uuid.NewString(),
		AlertID:        alert.ID,
		EmployeeID:     alert.EmployeeID,
		CameraID:       alert.CameraID,
		Timestamp:      alert.Timestamp,
		AlertType:      alert.AlertType,
		Message:        alert.Message,
		WorkHours:      alert.Schedule.WorkHours,
		LunchBreak:     alert.Schedule.LunchBreak,
		IsManualPause:  alert.Schedule.IsManualPause,
		TrackingActive: alert.Schedule.TrackingActive,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		if err = p.conn.Publish(p.subject, raw); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i*100) * time.Millisecond):
		}
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
