package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/timeutil"
)

// neverSeenSeconds orders employees with no sighting after everyone
// else without resorting to nullable sort keys.
const neverSeenSeconds = 365 * 24 * 3600

// StateItem is one employee row in the live view.
type StateItem struct {
	EmployeeID   int        `json:"employee_id"`
	Name         string     `json:"name"`
	Department   string     `json:"department"`
	Status       string     `json:"status"`
	LastSeenTS   *time.Time `json:"last_seen_ts"`
	SecondsSince float64    `json:"seconds_since"`
	IsPresent    bool       `json:"is_present"`
	CameraID     int        `json:"camera_id"`
	CameraName   string     `json:"camera_name"`
}

// State is the live view served to the UI collaborator.
type State struct {
	Running      bool        `json:"running"`
	PresentCount int         `json:"present_count"`
	OffCount     int         `json:"off_count"`
	Total        int         `json:"total"`
	ActiveTotal  int         `json:"active_total"`
	Items        []StateItem `json:"items"`
}

// State builds the live presence view: the active roster from storage,
// the persisted presence rows as the baseline, and the in-memory
// monitor state layered on top so a fresh EXIT is never shown stale.
func (m *Manager) State(ctx context.Context) (State, error) {
	now := timeutil.NowLocal()

	employees, err := m.models.Employees.ListActive(ctx)
	if err != nil {
		return State{}, err
	}
	rows, err := m.models.Presence.ListActive(ctx)
	if err != nil {
		return State{}, err
	}
	persisted := make(map[int]data.PresenceRow, len(rows))
	for _, r := range rows {
		persisted[r.EmployeeID] = r
	}
	live := m.states.States()

	m.mu.Lock()
	running := m.running
	camNames := make(map[int]string, len(m.cams))
	for id, rt := range m.cams {
		camNames[id] = rt.cfg.Name
	}
	m.mu.Unlock()

	st := State{Running: running, ActiveTotal: len(employees)}
	for _, emp := range employees {
		item := StateItem{
			EmployeeID:   emp.ID,
			Name:         emp.Name,
			Department:   emp.Department,
			Status:       data.PresenceOff,
			SecondsSince: neverSeenSeconds,
		}
		if row, ok := persisted[emp.ID]; ok {
			item.Status = row.Status
			item.LastSeenTS = row.LastSeenTS
			if row.LastCameraID != nil {
				item.CameraID = *row.LastCameraID
			}
		}
		if ls, ok := live[emp.ID]; ok {
			item.Status = ls.Status
			if !ls.LastSeenTS.IsZero() {
				ts := ls.LastSeenTS
				item.LastSeenTS = &ts
			}
			if ls.LastCameraID > 0 {
				item.CameraID = ls.LastCameraID
			}
		}
		if item.LastSeenTS != nil {
			item.SecondsSince = now.Sub(*item.LastSeenTS).Seconds()
			if item.SecondsSince < 0 {
				item.SecondsSince = 0
			}
		}
		item.IsPresent = item.Status == data.PresenceAvailable
		item.CameraName = camNames[item.CameraID]

		if item.IsPresent {
			st.PresentCount++
		} else {
			st.OffCount++
		}
		st.Items = append(st.Items, item)
	}
	st.Total = len(st.Items)

	sort.SliceStable(st.Items, func(i, j int) bool {
		a, b := st.Items[i], st.Items[j]
		if a.IsPresent != b.IsPresent {
			return a.IsPresent
		}
		if a.SecondsSince != b.SecondsSince {
			return a.SecondsSince < b.SecondsSince
		}
		return a.Name < b.Name
	})
	return st, nil
}

// publishSnapshot writes the serialized view to Redis with a short TTL
// so consumers can tell a stopped tracker from an empty office.
func (m *Manager) publishSnapshot(ctx context.Context) error {
	st, err := m.State(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, snapshotKey, raw, snapshotTTL).Err()
}
