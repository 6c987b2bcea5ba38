package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-attend/internal/data"
)

type fakeConn struct {
	failures int
	subjects []string
	payloads [][]byte
}

func (c *fakeConn) Publish(subject string, raw []byte) error {
	if c.failures > 0 {
		c.failures--
		return errors.New("connection reset")
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, raw)
	return nil
}

func sampleAlert() data.AlertLog {
	cam := 2
	return data.AlertLog{
		ID:         41,
		EmployeeID: 7,
		CameraID:   &cam,
		Timestamp:  time.Date(2026, 3, 9, 9, 0, 0, 0, time.FixedZone("WIB", 7*3600)),
		AlertType:  data.AlertEnter,
		Message:    "Employee 7 entered view of camera 2",
		Schedule: data.ScheduleSnapshot{
			WorkHours: "09:00-18:00", LunchBreak: "12:00-13:00", TrackingActive: true,
		},
	}
}

func TestPublishEnvelope(t *testing.T) {
	conn := &fakeConn{}
	p := NewAlertPublisher(conn, "attend.alerts", 3)

	require.NoError(t, p.Publish(context.Background(), sampleAlert()))
	require.Len(t, conn.payloads, 1)
	assert.Equal(t, "attend.alerts", conn.subjects[0])

	var msg alertMessage
	require.NoError(t, json.Unmarshal(conn.payloads[0], &msg))
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, 41, msg.AlertID)
	assert.Equal(t, 7, msg.EmployeeID)
	require.NotNil(t, msg.CameraID)
	assert.Equal(t, 2, *msg.CameraID)
	assert.Equal(t, data.AlertEnter, msg.AlertType)
	assert.Equal(t, "09:00-18:00", msg.WorkHours)
	assert.True(t, msg.TrackingActive)
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	conn := &fakeConn{failures: 2}
	p := NewAlertPublisher(conn, "attend.alerts", 3)

	require.NoError(t, p.Publish(context.Background(), sampleAlert()))
	assert.Len(t, conn.payloads, 1)
}

func TestPublishGivesUpAfterMaxRetries(t *testing.T) {
	conn := &fakeConn{failures: 10}
	p := NewAlertPublisher(conn, "attend.alerts", 2)

	err := p.Publish(context.Background(), sampleAlert())
	assert.Error(t, err)
	assert.Empty(t, conn.payloads)
}

func TestPublishHonorsContext(t *testing.T) {
	conn := &fakeConn{failures: 10}
	p := NewAlertPublisher(conn, "attend.alerts", 50)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Publish(ctx, sampleAlert())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTarget(t *testing.T) {
	p := NewAlertPublisher(&fakeConn{}, "attend.alerts", 1)
	assert.Equal(t, "nats:attend.alerts", p.Target())
}
