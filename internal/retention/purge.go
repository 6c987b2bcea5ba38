package retention

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/timeutil"
)

// WorkCalendar tells the purger when the working day ends.
type WorkCalendar interface {
	WorkEnd(day time.Time) time.Time
}

// Purger runs the daily maintenance: the midnight purge of events and
// alerts, evidence directory retention, and the end-of-day ABSENT
// marker for employees never seen that day.
type Purger struct {
	models      data.Models
	params      func() config.Params
	calendar    WorkCalendar
	evidenceDir string

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewPurger(models data.Models, params func() config.Params, calendar WorkCalendar, evidenceDir string) *Purger {
	return &Purger{
		models:      models,
		params:      params,
		calendar:    calendar,
		evidenceDir: evidenceDir,
		quit:        make(chan struct{}),
	}
}

func (p *Purger) Start() {
	p.wg.Add(2)
	go p.midnightLoop()
	go p.absentLoop()
}

func (p *Purger) Stop() {
	close(p.quit)
	p.wg.Wait()
}

func (p *Purger) midnightLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case <-time.After(timeutil.UntilMidnight(timeutil.NowLocal())):
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		p.RunMidnightPurge(ctx, timeutil.NowLocal())
		cancel()
	}
}

// RunMidnightPurge drops every Event and AlertLog row outside today
// and removes evidence directories past the retention window.
func (p *Purger) RunMidnightPurge(ctx context.Context, now time.Time) {
	today := timeutil.DateOf(now)

	if n, err := p.models.Events.PurgeExceptDate(ctx, today); err != nil {
		log.Printf("[Retention] Event purge failed: %v", err)
	} else if n > 0 {
		log.Printf("[Retention] Purged %d events from previous days", n)
	}
	if n, err := p.models.Alerts.PurgeExceptDate(ctx, today); err != nil {
		log.Printf("[Retention] Alert purge failed: %v", err)
	} else if n > 0 {
		log.Printf("[Retention] Purged %d alerts from previous days", n)
	}

	p.pruneEvidenceDirs(now)
}

// pruneEvidenceDirs removes attendance_captures/YYYY-MM-DD dirs older
// than the retention window. Unparseable names are left alone.
func (p *Purger) pruneEvidenceDirs(now time.Time) {
	retention := p.params().AttendanceCapturesRetentionDays
	cutoff := timeutil.DateOf(now).AddDate(0, 0, -retention)

	entries, err := os.ReadDir(p.evidenceDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Retention] Read evidence dir failed: %v", err)
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", e.Name(), timeutil.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			path := filepath.Join(p.evidenceDir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				log.Printf("[Retention] Remove %s failed: %v", path, err)
			} else {
				log.Printf("[Retention] Removed expired evidence %s", e.Name())
			}
		}
	}
}

func (p *Purger) absentLoop() {
	defer p.wg.Done()
	for {
		now := timeutil.NowLocal()
		target := p.absentMarkTime(now)
		if !target.After(now) {
			target = p.absentMarkTime(now.AddDate(0, 0, 1))
		}
		select {
		case <-p.quit:
			return
		case <-time.After(target.Sub(now)):
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		p.RunAbsentMarker(ctx, timeutil.NowLocal())
		cancel()
		// Roll past the mark so the next iteration targets tomorrow.
		select {
		case <-p.quit:
			return
		case <-time.After(time.Minute):
		}
	}
}

// absentMarkTime is the end of the working day minus the configured
// offset (default 18:00 - 30m = 17:30).
func (p *Purger) absentMarkTime(day time.Time) time.Time {
	offset := time.Duration(p.params().MarkAbsentOffsetMinutesBeforeEnd) * time.Minute
	return p.calendar.WorkEnd(day).Add(-offset)
}

// RunAbsentMarker writes an (ABSENT, SYSTEM) row for every active
// employee with no attendance today. Existing rows, MANUAL included,
// are never touched.
func (p *Purger) RunAbsentMarker(ctx context.Context, now time.Time) {
	if !p.params().MarkAbsentEnabled {
		return
	}
	today := timeutil.DateOf(now)

	missing, err := p.models.Employees.ListActiveWithoutAttendance(ctx, today)
	if err != nil {
		log.Printf("[Retention] Absent marker roster query failed: %v", err)
		return
	}
	marked := 0
	for _, emp := range missing {
		created, err := p.models.Attendance.MarkAbsentSystem(ctx, emp.ID, today)
		if err != nil {
			log.Printf("[Retention] Absent mark for employee %d failed: %v", emp.ID, err)
			continue
		}
		if created {
			marked++
		}
	}
	if marked > 0 {
		log.Printf("[Retention] Marked %d employees absent for %s", marked, timeutil.DateString(now))
	}
}
