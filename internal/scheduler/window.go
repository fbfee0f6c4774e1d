package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is the local-time range plus business-day filter inside which new
// entry decisions may fire. Re-decisions ignore the window so a live
// position can still be managed outside it.
type Window struct {
	startMinute int // minutes after local midnight, inclusive
	endMinute   int // exclusive
	location    *time.Location
	weekdays    bool
}

// NewWindow parses "HH:MM" bounds in the named IANA zone. An empty zone
// means local time.
func NewWindow(start, end, zone string, businessDaysOnly bool) (Window, error) {
	s, err := parseMinuteOfDay(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseMinuteOfDay(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	if e <= s {
		return Window{}, fmt.Errorf("window end %q not after start %q", end, start)
	}
	loc := time.Local
	if strings.TrimSpace(zone) != "" {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return Window{}, fmt.Errorf("window zone: %w", err)
		}
	}
	return Window{startMinute: s, endMinute: e, location: loc, weekdays: businessDaysOnly}, nil
}

func parseMinuteOfDay(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

func (w Window) loc() *time.Location {
	if w.location == nil {
		return time.UTC
	}
	return w.location
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	lt := t.In(w.loc())
	if w.weekdays {
		switch lt.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	minute := lt.Hour()*60 + lt.Minute()
	return minute >= w.startMinute && minute < w.endMinute
}

// NextHourBoundary returns the first wall-clock hour boundary strictly
// after now that falls inside the window.
func (w Window) NextHourBoundary(now time.Time) time.Time {
	// Built from local components: Truncate aligns to absolute hours and
	// misplaces the boundary in zones with 30/45-minute UTC offsets.
	lt := now.In(w.loc())
	candidate := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, w.loc()).Add(time.Hour)
	// Bounded scan: a valid window always contains a boundary within two
	// weeks even across holidays configured as closed days.
	for i := 0; i < 24*14; i++ {
		if w.Contains(candidate) {
			return candidate
		}
		candidate = candidate.Add(time.Hour)
	}
	return time.Time{}
}

func (w Window) String() string {
	day := "all-days"
	if w.weekdays {
		day = "business-days"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s (%s)",
		w.startMinute/60, w.startMinute%60, w.endMinute/60, w.endMinute%60, w.loc(), day)
}
