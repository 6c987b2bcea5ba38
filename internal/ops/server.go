// Package ops serves the operational HTTP surface: health, metrics,
// the live presence view and schedule controls. The browser-facing UI
// lives in a separate service; this listener is for operators and
// scrapers.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/pipeline"
	"github.com/technosupport/ts-attend/internal/schedule"
	"github.com/technosupport/ts-attend/internal/timeutil"
)

// StateSource is the pipeline manager's read surface.
type StateSource interface {
	State(ctx context.Context) (pipeline.State, error)
	AnnotatedJPEG(cameraID int) ([]byte, time.Time, bool)
	Cameras() []config.CameraConfig
	CameraStatus(cameraID int) string
	StreamPrefs() pipeline.StreamPrefs
}

// Scheduler is the schedule controller's control surface.
type Scheduler interface {
	State() schedule.State
	Pause(kind string, until time.Time) error
	Resume()
}

// Pinger is the database liveness probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// AttendanceAdmin pins or re-opens daily attendance rows.
type AttendanceAdmin interface {
	SetManual(ctx context.Context, employeeID int, date time.Time, status string) error
	ResetEntryType(ctx context.Context, employeeID int, date time.Time) error
}

// EngineStatus reports face backend availability.
type EngineStatus interface {
	Ready() bool
	Backend() string
}

type Handler struct {
	db         Pinger
	engine     EngineStatus
	manager    StateSource
	schedule   Scheduler
	attendance AttendanceAdmin
}

func NewHandler(db Pinger, engine EngineStatus, manager StateSource, sched Scheduler, attendance AttendanceAdmin) *Handler {
	return &Handler{db: db, engine: engine, manager: manager, schedule: sched, attendance: attendance}
}

// Router wires the ops endpoints.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.GetHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/state", h.GetState)
	r.Get("/stream/prefs", h.GetStreamPrefs)
	r.Get("/cameras", h.GetCameras)
	r.Get("/cameras/{id}/snapshot.jpg", h.GetSnapshot)
	r.Get("/schedule", h.GetSchedule)
	r.Post("/schedule/pause", h.PostPause)
	r.Post("/schedule/resume", h.PostResume)
	r.Post("/attendance/manual", h.PostManualAttendance)
	r.Post("/attendance/reset", h.PostResetAttendance)
	return r
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Ops] Encode response failed: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"database": "ok",
		"engine":   h.engine.Backend(),
	}
	if err := h.db.PingContext(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["database"] = fmt.Sprintf("unreachable: %v", err)
	}
	if !h.engine.Ready() {
		// Degraded but alive: capture keeps running without inference.
		body["engine"] = "degraded"
	}
	respondJSON(w, status, body)
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.State(r.Context())
	if err != nil {
		log.Printf("[Ops] State query failed: %v", err)
		respondError(w, http.StatusInternalServerError, "state unavailable")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *Handler) GetStreamPrefs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.StreamPrefs())
}

func (h *Handler) GetCameras(w http.ResponseWriter, r *http.Request) {
	type cameraView struct {
		config.CameraConfig
		Status string `json:"status"`
	}
	var out []cameraView
	for _, cam := range h.manager.Cameras() {
		out = append(out, cameraView{CameraConfig: cam, Status: h.manager.CameraStatus(cam.ID)})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	raw, ts, ok := h.manager.AnnotatedJPEG(id)
	if !ok {
		respondError(w, http.StatusNotFound, "no frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Last-Modified", ts.UTC().Format(http.TimeFormat))
	w.Write(raw)
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.schedule.State())
}

func (h *Handler) PostPause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string `json:"kind"`
		Minutes int    `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Minutes <= 0 {
		respondError(w, http.StatusBadRequest, "minutes must be positive")
		return
	}
	until := time.Now().Add(time.Duration(req.Minutes) * time.Minute)
	if err := h.schedule.Pause(req.Kind, until); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.schedule.State())
}

func (h *Handler) PostResume(w http.ResponseWriter, r *http.Request) {
	h.schedule.Resume()
	respondJSON(w, http.StatusOK, h.schedule.State())
}

type attendanceRequest struct {
	EmployeeID int    `json:"employee_id"`
	Date       string `json:"date"` // YYYY-MM-DD, defaults to today
	Status     string `json:"status"`
}

func (r attendanceRequest) day() (time.Time, error) {
	if r.Date == "" {
		return timeutil.DateOf(timeutil.NowLocal()), nil
	}
	return time.ParseInLocation("2006-01-02", r.Date, timeutil.Location())
}

// PostManualAttendance pins the day's row to an operator-chosen
// status; automatic updates will not touch it until it is reset.
func (h *Handler) PostManualAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EmployeeID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	switch req.Status {
	case data.AttendancePresent, data.AttendanceAbsent, data.AttendanceLate:
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}
	day, err := req.day()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid date")
		return
	}
	if err := h.attendance.SetManual(r.Context(), req.EmployeeID, day, req.Status); err != nil {
		log.Printf("[Ops] Manual attendance for employee %d failed: %v", req.EmployeeID, err)
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// PostResetAttendance flips a MANUAL row back to AUTO.
func (h *Handler) PostResetAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EmployeeID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	day, err := req.day()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid date")
		return
	}
	if err := h.attendance.ResetEntryType(r.Context(), req.EmployeeID, day); err != nil {
		log.Printf("[Ops] Attendance reset for employee %d failed: %v", req.EmployeeID, err)
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Serve runs the listener until the context is cancelled.
func Serve(ctx context.Context, addr string, h *Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Printf("[Ops] Listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
