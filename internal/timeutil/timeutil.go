// Package timeutil holds the wall-clock helpers used by the schedule
// controller and the retention daemons. All schedule comparisons are
// made in the configured local zone (Asia/Jakarta, UTC+7); persisted
// timestamps stay timezone-aware.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var jakarta = loadJakarta()

func loadJakarta() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		// No tzdata on the host. WIB has no DST, a fixed offset is exact.
		return time.FixedZone("WIB", 7*3600)
	}
	return loc
}

// Location returns the local zone all schedule windows are evaluated in.
func Location() *time.Location {
	return jakarta
}

// NowLocal returns the current time in the schedule zone.
func NowLocal() time.Time {
	return time.Now().In(jakarta)
}

// ClockRange is a daily window like "08:30-17:30", minutes since midnight.
type ClockRange struct {
	StartMin int
	EndMin   int
}

// ParseClockRange parses "HH:MM-HH:MM".
func ParseClockRange(s string) (ClockRange, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return ClockRange{}, fmt.Errorf("invalid time range %q", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return ClockRange{}, fmt.Errorf("invalid time range %q: %w", s, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return ClockRange{}, fmt.Errorf("invalid time range %q: %w", s, err)
	}
	return ClockRange{StartMin: start, EndMin: end}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	return h*60 + m, nil
}

// Contains reports whether t falls inside the window. Ranges that end
// before they start wrap past midnight (e.g. "22:00-06:00").
func (r ClockRange) Contains(t time.Time) bool {
	local := t.In(jakarta)
	now := local.Hour()*60 + local.Minute()
	if r.StartMin <= r.EndMin {
		return now >= r.StartMin && now < r.EndMin
	}
	return now >= r.StartMin || now < r.EndMin
}

// InRange parses s and tests t against it. A malformed range is
// treated as never matching.
func InRange(t time.Time, s string) bool {
	r, err := ParseClockRange(s)
	if err != nil {
		return false
	}
	return r.Contains(t)
}

// UntilMidnight returns the duration from t to the next local midnight.
func UntilMidnight(t time.Time) time.Duration {
	local := t.In(jakarta)
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, jakarta).AddDate(0, 0, 1)
	return next.Sub(local)
}

// UntilClock returns the duration from t to the next local occurrence
// of hour:minute. If the target already passed today, it rolls to
// tomorrow.
func UntilClock(t time.Time, hour, minute int) time.Duration {
	local := t.In(jakarta)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, jakarta)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(local)
}

// DateOf returns t's calendar date in the schedule zone, midnight-anchored.
func DateOf(t time.Time) time.Time {
	local := t.In(jakarta)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, jakarta)
}

// DateString formats t's local calendar date as YYYY-MM-DD.
func DateString(t time.Time) string {
	return t.In(jakarta).Format("2006-01-02")
}
