package presence

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/timeutil"
)

const (
	// debounceCacheSize bounds the per-(employee, type) debounce caches.
	debounceCacheSize = 4096
	// debounceCacheTTL only bounds memory; the actual intervals come
	// from the runtime parameters.
	debounceCacheTTL = time.Hour

	tickInterval = time.Second
)

// ScheduleGate is what the monitor needs from the schedule controller.
type ScheduleGate interface {
	AlertsAllowed() bool
	Snapshot() data.ScheduleSnapshot
}

// AttendanceHistory answers whether an employee has ever been recorded.
type AttendanceHistory interface {
	HasAnyAttendance(ctx context.Context, employeeID int) (bool, error)
}

// WelcomeGate debounces the new-employee signal across restarts.
type WelcomeGate interface {
	Allow(ctx context.Context, employeeID int) bool
}

// EmployeeState is the monitor's in-memory view of one employee.
type EmployeeState struct {
	Status       string
	LastSeenTS   time.Time
	LastCameraID int
}

// Monitor is the per-employee presence state machine. Recognition
// signals flip employees to available; a periodic sweep flips them to
// off after the presence timeout. State changes are applied in memory
// first, then enqueued for the asynchronous writer, so the live view
// never waits on the database.
type Monitor struct {
	queue   *Queue
	gate    ScheduleGate
	params  func() config.Params
	history AttendanceHistory
	welcome WelcomeGate

	mu     sync.Mutex
	states map[int]*EmployeeState

	alertLast *expirable.LRU[string, time.Time]
	eventLast *expirable.LRU[string, time.Time]

	newEmployees chan NewEmployeeSeen
	evidence     chan Evidence

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewMonitor(queue *Queue, gate ScheduleGate, params func() config.Params, history AttendanceHistory, welcome WelcomeGate) *Monitor {
	return &Monitor{
		queue:        queue,
		gate:         gate,
		params:       params,
		history:      history,
		welcome:      welcome,
		states:       make(map[int]*EmployeeState),
		alertLast:    expirable.NewLRU[string, time.Time](debounceCacheSize, nil, debounceCacheTTL),
		eventLast:    expirable.NewLRU[string, time.Time](debounceCacheSize, nil, debounceCacheTTL),
		newEmployees: make(chan NewEmployeeSeen, 16),
		evidence:     make(chan Evidence, 64),
		quit:         make(chan struct{}),
	}
}

// NewEmployees delivers first-ever-recognition signals.
func (m *Monitor) NewEmployees() <-chan NewEmployeeSeen { return m.newEmployees }

// EvidenceRequests delivers attendance evidence capture requests.
func (m *Monitor) EvidenceRequests() <-chan Evidence { return m.evidence }

// Seen records one finalized recognition of employeeID on cameraID.
func (m *Monitor) Seen(ctx context.Context, employeeID, cameraID, trackID int, similarity float64, now time.Time) {
	p := m.params()

	m.mu.Lock()
	st, ok := m.states[employeeID]
	if !ok {
		st = &EmployeeState{Status: data.PresenceOff}
		m.states[employeeID] = st
	}
	entered := st.Status != data.PresenceAvailable
	st.Status = data.PresenceAvailable
	st.LastSeenTS = now
	st.LastCameraID = cameraID
	m.mu.Unlock()

	// Steady-state re-sightings are rate limited per (employee,
	// camera). An entry transition always reaches the writer: the
	// intent carries the presence upsert and the day's attendance row,
	// not just the event insert.
	eventKey := strconv.Itoa(employeeID) + ":" + strconv.Itoa(cameraID)
	last, hit := m.eventLast.Get(eventKey)
	if entered || !hit || now.Sub(last) >= p.EventMinInterval() {
		m.eventLast.Add(eventKey, now)
		m.queue.Push(Intent{
			Type:       IntentEmployeeSeen,
			EmployeeID: employeeID,
			CameraID:   cameraID,
			TS:         now,
			Similarity: similarity,
			TrackID:    trackID,
		})
	}

	if !entered {
		return
	}

	log.Printf("[Presence] Employee %d available (camera %d)", employeeID, cameraID)
	isNew := m.maybeWelcome(ctx, employeeID, cameraID, now)
	m.requestEvidence(Evidence{Kind: EvidenceFirstIn, EmployeeID: employeeID, CameraID: cameraID, TS: now, Overwrite: isNew})
	m.emitAlert(employeeID, cameraID, data.AlertEnter,
		fmt.Sprintf("Employee %d entered view of camera %d", employeeID, cameraID), now, p)
}

// Tick sweeps for employees whose last sighting is older than the
// presence timeout and flips them to off.
func (m *Monitor) Tick(now time.Time) {
	p := m.params()
	timeout := p.PresenceTimeout()

	type exit struct {
		employeeID int
		cameraID   int
	}
	var exits []exit

	m.mu.Lock()
	for id, st := range m.states {
		if st.Status == data.PresenceAvailable && now.Sub(st.LastSeenTS) > timeout {
			st.Status = data.PresenceOff
			exits = append(exits, exit{employeeID: id, cameraID: st.LastCameraID})
		}
	}
	m.mu.Unlock()

	for _, e := range exits {
		log.Printf("[Presence] Employee %d off after %.0fs without sighting", e.employeeID, timeout.Seconds())
		m.queue.Push(Intent{
			Type:       IntentEmployeeTimeout,
			EmployeeID: e.employeeID,
			CameraID:   e.cameraID,
			TS:         now,
		})
		m.requestEvidence(Evidence{Kind: EvidenceLastOut, EmployeeID: e.employeeID, CameraID: e.cameraID, TS: now})
		m.emitAlert(e.employeeID, e.cameraID, data.AlertExit,
			fmt.Sprintf("Employee %d not seen for %.0fs", e.employeeID, timeout.Seconds()), now, p)
	}
}

// States returns a copy of the in-memory presence table.
func (m *Monitor) States() map[int]EmployeeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]EmployeeState, len(m.states))
	for id, st := range m.states {
		out[id] = *st
	}
	return out
}

// Start runs the timeout sweep until Stop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.quit:
				return
			case <-ticker.C:
				m.Tick(timeutil.NowLocal())
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.quit)
	m.wg.Wait()
}

func (m *Monitor) emitAlert(employeeID, cameraID int, alertType, message string, now time.Time, p config.Params) {
	if alertType != data.AlertNewEmployee && !m.gate.AlertsAllowed() {
		metrics.AlertsSuppressedTotal.WithLabelValues("schedule").Inc()
		return
	}
	key := strconv.Itoa(employeeID) + ":" + alertType
	if last, hit := m.alertLast.Get(key); hit && now.Sub(last) < p.AlertMinInterval() {
		metrics.AlertsSuppressedTotal.WithLabelValues("debounce").Inc()
		return
	}
	m.alertLast.Add(key, now)
	m.queue.Push(Intent{
		Type:       IntentAlertEmit,
		EmployeeID: employeeID,
		CameraID:   cameraID,
		TS:         now,
		Alert: &AlertIntent{
			AlertType: alertType,
			Message:   message,
			Schedule:  m.gate.Snapshot(),
		},
	})
}

// maybeWelcome fires the new-employee signal once per 24h per employee
// when no attendance row has ever existed for them. Reports whether
// this sighting is a genuine first detection.
func (m *Monitor) maybeWelcome(ctx context.Context, employeeID, cameraID int, now time.Time) bool {
	if m.welcome == nil || m.history == nil {
		return false
	}
	if !m.welcome.Allow(ctx, employeeID) {
		return false
	}
	has, err := m.history.HasAnyAttendance(ctx, employeeID)
	if err != nil {
		log.Printf("[Presence] Attendance history check for employee %d failed: %v", employeeID, err)
		return false
	}
	if has {
		return false
	}
	select {
	case m.newEmployees <- NewEmployeeSeen{EmployeeID: employeeID, CameraID: cameraID, TS: now}:
	default:
		log.Printf("[Presence] New-employee channel full, dropping signal for %d", employeeID)
	}
	m.emitAlert(employeeID, cameraID, data.AlertNewEmployee,
		fmt.Sprintf("First attendance for employee %d", employeeID), now, m.params())
	return true
}

func (m *Monitor) requestEvidence(ev Evidence) {
	select {
	case m.evidence <- ev:
	default:
		log.Printf("[Presence] Evidence channel full, dropping %s for employee %d", ev.Kind, ev.EmployeeID)
	}
}
