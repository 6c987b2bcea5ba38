package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/presence"
)

type fakeStates struct {
	states map[int]presence.EmployeeState
}

func (f *fakeStates) States() map[int]presence.EmployeeState { return f.states }

func activeEmployeeRows() *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "employee_code", "name", "department", "position", "phone_number", "is_active", "supervisor_id"})
	rows.AddRow(1, "E001", "Alice", "Ops", "", "", true, nil)
	rows.AddRow(2, "E002", "Bob", "Ops", "", "", true, nil)
	rows.AddRow(3, "E003", "Cara", "HR", "", "", true, nil)
	return rows
}

func expectStateQueries(mock sqlmock.Sqlmock, bobLastSeen time.Time) {
	mock.ExpectQuery(`SELECT .* FROM employees`).WillReturnRows(activeEmployeeRows())
	presenceRows := sqlmock.NewRows([]string{"employee_id", "status", "last_seen_ts", "last_camera_id", "name", "department"}).
		AddRow(2, data.PresenceAvailable, bobLastSeen, 2, "Bob", "Ops")
	mock.ExpectQuery(`SELECT p\.employee_id`).WillReturnRows(presenceRows)
}

func newViewManager(t *testing.T, rdb *redis.Client) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now()
	states := &fakeStates{states: map[int]presence.EmployeeState{
		1: {Status: data.PresenceAvailable, LastSeenTS: now.Add(-5 * time.Second), LastCameraID: 1},
		2: {Status: data.PresenceOff, LastSeenTS: now.Add(-100 * time.Second), LastCameraID: 2},
	}}

	m := NewManager(nil, nil, nil, &fakeTrackingGate{active: true},
		config.DefaultParams, states, data.NewModels(db), rdb)
	require.NoError(t, m.StartCamera(config.CameraConfig{ID: 1, Name: "Lobby", RTSPURL: "rtsp://cam1/stream", Enabled: false}))
	return m, mock
}

func TestStateMergesAndSorts(t *testing.T) {
	m, mock := newViewManager(t, nil)
	expectStateQueries(mock, time.Now().Add(-30*time.Second))

	st, err := m.State(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.ActiveTotal)
	assert.Equal(t, 1, st.PresentCount)
	assert.Equal(t, 2, st.OffCount)

	// Present first, then by seconds_since ascending; never-seen last.
	require.Len(t, st.Items, 3)
	assert.Equal(t, "Alice", st.Items[0].Name)
	assert.True(t, st.Items[0].IsPresent)
	assert.Equal(t, "Lobby", st.Items[0].CameraName)

	// Live monitor state overrides the stale persisted "available".
	assert.Equal(t, "Bob", st.Items[1].Name)
	assert.Equal(t, data.PresenceOff, st.Items[1].Status)

	assert.Equal(t, "Cara", st.Items[2].Name)
	assert.Nil(t, st.Items[2].LastSeenTS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishSnapshotToRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	m, mock := newViewManager(t, rdb)
	expectStateQueries(mock, time.Now().Add(-30*time.Second))

	require.NoError(t, m.publishSnapshot(context.Background()))

	raw, err := srv.Get(snapshotKey)
	require.NoError(t, err)
	var st State
	require.NoError(t, json.Unmarshal([]byte(raw), &st))
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.PresentCount)

	ttl := srv.TTL(snapshotKey)
	assert.True(t, ttl > 0 && ttl <= snapshotTTL)
}

func TestCameraStatus(t *testing.T) {
	m, _ := newViewManager(t, nil)

	assert.Equal(t, "offline", m.CameraStatus(1))
	assert.Equal(t, "offline", m.CameraStatus(99))

	// A fresh frame flips it online once the cache entry expires; poke
	// the buffer directly and bypass the cache with a new camera.
	require.NoError(t, m.StartCamera(config.CameraConfig{ID: 5, Name: "Dock", RTSPURL: "rtsp://cam5/s", Enabled: false}))
	m.mu.Lock()
	m.cams[5].buf.Put([]byte{0xff, 0xd8, 0xff, 0xd9}, time.Now())
	m.mu.Unlock()
	assert.Equal(t, "online", m.CameraStatus(5))
}

func TestStreamPrefs(t *testing.T) {
	m, _ := newViewManager(t, nil)
	prefs := m.StreamPrefs()
	assert.Equal(t, 960, prefs.MaxWidth)
	assert.Equal(t, 70, prefs.JPEGQuality)
	assert.Equal(t, 3, prefs.AnnotationStride)
	assert.Equal(t, 15, prefs.FPS)
}
