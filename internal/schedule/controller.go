// Package schedule derives the tracking/alerting gate from work-hour
// windows and operator pauses, and persists its state across restarts.
package schedule

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/timeutil"
)

const (
	PauseNone     = "none"
	PauseLunch    = "lunch"
	PauseOffhours = "offhours"

	evalInterval = 15 * time.Second
)

// State is the persisted controller state in tracking_mode.json.
type State struct {
	AutoSchedule bool   `json:"auto_schedule"`
	WorkHours    string `json:"work_hours"`
	LunchBreak   string `json:"lunch_break"`

	PauseUntil *time.Time `json:"pause_until,omitempty"`
	PauseKind  string     `json:"pause_kind"`

	TrackingActive bool `json:"tracking_active"`
	SuppressAlerts bool `json:"suppress_alerts"`
}

func defaultState() State {
	return State{
		AutoSchedule:   true,
		WorkHours:      "09:00-18:00",
		LunchBreak:     "12:00-13:00",
		PauseKind:      PauseNone,
		TrackingActive: false,
		SuppressAlerts: false,
	}
}

// Controller owns the schedule state. Derivation runs every 15s and on
// every mutation; each change is written to disk atomically so the
// state survives restarts.
type Controller struct {
	path string
	now  func() time.Time

	mu    sync.Mutex
	state State

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewController(path string) *Controller {
	c := &Controller{
		path: path,
		now:  timeutil.NowLocal,
		quit: make(chan struct{}),
	}
	c.state = loadState(path)
	c.mu.Lock()
	c.evaluateLocked()
	c.mu.Unlock()
	return c
}

// loadState reads the persisted file. A missing or corrupt file yields
// defaults; schedule state is never a reason to refuse startup.
func loadState(path string) State {
	s := defaultState()
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Schedule] State file unreadable (%v), using defaults", err)
		}
		return s
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("[Schedule] State file corrupt (%v), using defaults", err)
		return defaultState()
	}
	if s.PauseKind == "" {
		s.PauseKind = PauseNone
	}
	if _, err := timeutil.ParseClockRange(s.WorkHours); err != nil {
		s.WorkHours = defaultState().WorkHours
	}
	if _, err := timeutil.ParseClockRange(s.LunchBreak); err != nil {
		s.LunchBreak = defaultState().LunchBreak
	}
	return s
}

// Start runs the periodic evaluator until Stop.
func (c *Controller) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(evalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.quit:
				return
			case <-ticker.C:
				c.Evaluate()
			}
		}
	}()
}

func (c *Controller) Stop() {
	close(c.quit)
	c.wg.Wait()
}

// Evaluate re-derives tracking_active and suppress_alerts and persists
// the state when anything changed.
func (c *Controller) Evaluate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluateLocked()
}

func (c *Controller) evaluateLocked() {
	now := c.now()
	prev := c.state

	// Expired pauses clear themselves.
	if c.state.PauseUntil != nil && !now.Before(*c.state.PauseUntil) {
		log.Printf("[Schedule] Pause (%s) expired, resuming", c.state.PauseKind)
		c.state.PauseUntil = nil
		c.state.PauseKind = PauseNone
	}

	switch {
	case c.state.PauseUntil != nil:
		switch c.state.PauseKind {
		case PauseLunch:
			// Tracking continues through lunch, only alerts go quiet.
			c.state.TrackingActive = true
			c.state.SuppressAlerts = true
		default: // offhours
			c.state.TrackingActive = false
			c.state.SuppressAlerts = false
		}
	case c.state.AutoSchedule:
		work, werr := timeutil.ParseClockRange(c.state.WorkHours)
		lunch, lerr := timeutil.ParseClockRange(c.state.LunchBreak)
		if werr == nil {
			c.state.TrackingActive = work.Contains(now)
		}
		if lerr == nil {
			c.state.SuppressAlerts = lunch.Contains(now)
		}
	default:
		// Manual mode keeps whatever the operator last set.
	}

	if !sameState(c.state, prev) {
		c.persistLocked()
	}
}

// sameState compares ignoring pointer identity of PauseUntil.
func sameState(a, b State) bool {
	pa, pb := a.PauseUntil, b.PauseUntil
	a.PauseUntil, b.PauseUntil = nil, nil
	if a != b {
		return false
	}
	if (pa == nil) != (pb == nil) {
		return false
	}
	return pa == nil || pa.Equal(*pb)
}

// Pause suspends alerting (lunch) or tracking entirely (offhours)
// until the deadline.
func (c *Controller) Pause(kind string, until time.Time) error {
	if kind != PauseLunch && kind != PauseOffhours {
		return fmt.Errorf("unknown pause kind %q", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PauseUntil = &until
	c.state.PauseKind = kind
	log.Printf("[Schedule] Paused (%s) until %s", kind, until.Format(time.RFC3339))
	c.evaluateLocked()
	c.persistLocked()
	return nil
}

// Resume clears any active pause.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PauseUntil = nil
	c.state.PauseKind = PauseNone
	c.evaluateLocked()
	c.persistLocked()
}

// SetAutoSchedule toggles between derived and operator-set gating.
func (c *Controller) SetAutoSchedule(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AutoSchedule = on
	c.evaluateLocked()
	c.persistLocked()
}

// SetManual pins the gate values while auto schedule is off.
func (c *Controller) SetManual(trackingActive, suppressAlerts bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AutoSchedule = false
	c.state.TrackingActive = trackingActive
	c.state.SuppressAlerts = suppressAlerts
	c.persistLocked()
}

// SetWindows replaces the work and lunch windows after validation.
func (c *Controller) SetWindows(workHours, lunchBreak string) error {
	if _, err := timeutil.ParseClockRange(workHours); err != nil {
		return fmt.Errorf("work hours: %w", err)
	}
	if _, err := timeutil.ParseClockRange(lunchBreak); err != nil {
		return fmt.Errorf("lunch break: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.WorkHours = workHours
	c.state.LunchBreak = lunchBreak
	c.evaluateLocked()
	c.persistLocked()
	return nil
}

// TrackingActive reports whether cameras should run inference now.
func (c *Controller) TrackingActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TrackingActive
}

// AlertsAllowed is the alert gate: tracking on and alerts not muted.
func (c *Controller) AlertsAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TrackingActive && !c.state.SuppressAlerts
}

// Snapshot freezes the schedule state for alert tagging.
func (c *Controller) Snapshot() data.ScheduleSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return data.ScheduleSnapshot{
		WorkHours:      c.state.WorkHours,
		LunchBreak:     c.state.LunchBreak,
		IsManualPause:  c.state.PauseUntil != nil,
		TrackingActive: c.state.TrackingActive,
	}
}

// State returns a copy of the full controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WorkEnd returns today's end-of-work instant, used by the daily
// absent marker. Falls back to 18:00 when the window is unparsable.
func (c *Controller) WorkEnd(day time.Time) time.Time {
	c.mu.Lock()
	hours := c.state.WorkHours
	c.mu.Unlock()

	r, err := timeutil.ParseClockRange(hours)
	if err != nil {
		return time.Date(day.Year(), day.Month(), day.Day(), 18, 0, 0, 0, day.Location())
	}
	return time.Date(day.Year(), day.Month(), day.Day(), r.EndMin/60, r.EndMin%60, 0, 0, day.Location())
}

func (c *Controller) persistLocked() {
	raw, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		log.Printf("[Schedule] Marshal state failed: %v", err)
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		log.Printf("[Schedule] Persist state failed: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.Printf("[Schedule] Persist state failed: %v", err)
	}
}
