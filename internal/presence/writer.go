package presence

import (
	"context"
	"database/sql"
	"log"
	"strconv"
	"sync"

	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/timeutil"
)

// AlertPublisher hands a committed alert to the external notifier.
type AlertPublisher interface {
	Publish(ctx context.Context, alert data.AlertLog) error
	Target() string
}

// Writer is the single consumer of the intent queue. Each intent runs
// in its own transaction; a failed intent is rolled back, logged and
// skipped so one poison record cannot wedge the pipeline.
type Writer struct {
	db        *sql.DB
	queue     *Queue
	publisher AlertPublisher

	wg sync.WaitGroup
}

func NewWriter(db *sql.DB, queue *Queue, publisher AlertPublisher) *Writer {
	return &Writer{db: db, queue: queue, publisher: publisher}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			in, ok := w.queue.Pop()
			if !ok {
				return
			}
			w.Apply(context.Background(), in)
		}
	}()
}

// Stop closes the queue and drains it before returning.
func (w *Writer) Stop() {
	w.queue.Close()
	w.wg.Wait()
}

// Apply executes one intent against storage.
func (w *Writer) Apply(ctx context.Context, in Intent) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.WriterFailuresTotal.Inc()
		log.Printf("[Writer] Begin failed for %s intent (employee %d): %v", in.Type, in.EmployeeID, err)
		return
	}
	models := data.NewModels(tx)

	var alertID int
	switch in.Type {
	case IntentEmployeeSeen:
		err = w.applySeen(ctx, models, in)
	case IntentEmployeeTimeout:
		err = w.applyTimeout(ctx, models, in)
	case IntentAlertEmit:
		alertID, err = w.applyAlert(ctx, models, in)
	default:
		log.Printf("[Writer] Unknown intent type %q, dropping", in.Type)
	}

	if err != nil {
		tx.Rollback()
		metrics.WriterFailuresTotal.Inc()
		log.Printf("[Writer] %s intent for employee %d rolled back: %v", in.Type, in.EmployeeID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		metrics.WriterFailuresTotal.Inc()
		log.Printf("[Writer] Commit failed for %s intent (employee %d): %v", in.Type, in.EmployeeID, err)
		return
	}

	if in.Type == IntentAlertEmit && in.Alert != nil {
		metrics.AlertsEmittedTotal.WithLabelValues(in.Alert.AlertType).Inc()
		w.notify(ctx, alertID, in)
	}
}

// applySeen handles one recognition: event row, presence upsert and
// the attendance seen rule. Inactive employees get an ABSENT row with
// null timestamps instead.
func (w *Writer) applySeen(ctx context.Context, models data.Models, in Intent) error {
	emp, err := models.Employees.GetByID(ctx, in.EmployeeID)
	if err == data.ErrRecordNotFound {
		log.Printf("[Writer] Employee %d not in roster, skipping sighting", in.EmployeeID)
		return nil
	}
	if err != nil {
		return err
	}

	date := timeutil.DateOf(in.TS)
	if !emp.IsActive {
		return models.Attendance.EnsureAbsent(ctx, in.EmployeeID, date)
	}

	eid := in.EmployeeID
	trackID := ""
	if in.TrackID > 0 {
		trackID = strconv.Itoa(in.TrackID)
	}
	if err := models.Events.Insert(ctx, data.Event{
		EmployeeID: &eid,
		CameraID:   in.CameraID,
		Timestamp:  in.TS,
		Similarity: in.Similarity,
		TrackID:    trackID,
	}); err != nil {
		return err
	}
	if err := models.Presence.UpsertSeen(ctx, in.EmployeeID, in.CameraID, in.TS); err != nil {
		return err
	}
	return models.Attendance.UpsertSeen(ctx, in.EmployeeID, date, in.TS)
}

// applyTimeout flips presence to off; the attendance last_out only
// advances when the row actually changed.
func (w *Writer) applyTimeout(ctx context.Context, models data.Models, in Intent) error {
	changed, err := models.Presence.SetOff(ctx, in.EmployeeID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return models.Attendance.UpsertLastOut(ctx, in.EmployeeID, timeutil.DateOf(in.TS), in.TS)
}

func (w *Writer) applyAlert(ctx context.Context, models data.Models, in Intent) (int, error) {
	var cameraID *int
	if in.CameraID > 0 {
		c := in.CameraID
		cameraID = &c
	}
	return models.Alerts.Insert(ctx, data.AlertLog{
		EmployeeID: in.EmployeeID,
		CameraID:   cameraID,
		Timestamp:  in.TS,
		AlertType:  in.Alert.AlertType,
		Message:    in.Alert.Message,
		Schedule:   in.Alert.Schedule,
	})
}

// notify hands the committed alert to the publisher. Publish failures
// leave notified_external false; the alert row itself is already
// durable.
func (w *Writer) notify(ctx context.Context, alertID int, in Intent) {
	if w.publisher == nil {
		return
	}
	var cameraID *int
	if in.CameraID > 0 {
		c := in.CameraID
		cameraID = &c
	}
	alert := data.AlertLog{
		ID:         alertID,
		EmployeeID: in.EmployeeID,
		CameraID:   cameraID,
		Timestamp:  in.TS,
		AlertType:  in.Alert.AlertType,
		Message:    in.Alert.Message,
		Schedule:   in.Alert.Schedule,
	}
	if err := w.publisher.Publish(ctx, alert); err != nil {
		log.Printf("[Writer] Alert %d publish failed: %v", alertID, err)
		return
	}
	models := data.NewModels(w.db)
	if err := models.Alerts.MarkNotified(ctx, alertID, w.publisher.Target()); err != nil {
		log.Printf("[Writer] Alert %d notified flag update failed: %v", alertID, err)
	}
}
