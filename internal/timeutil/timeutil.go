// Package timeutil collects the small date/time primitives the scheduling
// pipeline shares: ISO-8601 calendar-date arithmetic and HH:MM clock-time
// parsing. None of it is timezone-aware; every date in the schedule document
// is a bare calendar day, the way the clinic's own spreadsheets treat it.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const isoDateLayout = "2006-01-02"

// ParseISODate parses a "YYYY-MM-DD" string into a UTC midnight time.Time.
func ParseISODate(iso string) (time.Time, error) {
	t, err := time.Parse(isoDateLayout, iso)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ISO date %q: %w", iso, err)
	}
	return t, nil
}

// FormatISODate renders a time.Time as "YYYY-MM-DD".
func FormatISODate(t time.Time) string {
	return t.Format(isoDateLayout)
}

// AddDaysISO returns the ISO date `days` after dateISO (days may be negative).
func AddDaysISO(dateISO string, days int) (string, error) {
	t, err := ParseISODate(dateISO)
	if err != nil {
		return "", err
	}
	return FormatISODate(t.AddDate(0, 0, days)), nil
}

// DaysBetweenISO returns b-a in whole days.
func DaysBetweenISO(a, b string) (int, error) {
	ta, err := ParseISODate(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseISODate(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// WeekStartISO returns the Monday on or before dateISO (ISO week, Monday=0).
func WeekStartISO(dateISO string) (string, error) {
	t, err := ParseISODate(dateISO)
	if err != nil {
		return "", err
	}
	weekday := int(t.Weekday())
	// time.Weekday: Sunday=0..Saturday=6. ISO week starts Monday.
	isoOffset := (weekday + 6) % 7
	return FormatISODate(t.AddDate(0, 0, -isoOffset)), nil
}

// DayTypeIndex returns the 0=Monday..6=Sunday index for an ISO date, matching
// the weekday index used by WeeklyTemplate.days.
func DayTypeIndex(dateISO string) (int, error) {
	t, err := ParseISODate(dateISO)
	if err != nil {
		return 0, err
	}
	weekday := int(t.Weekday())
	return (weekday + 6) % 7, nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid HH:MM value %q", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes-since-midnight back to "HH:MM".
func FormatClock(minutes int) string {
	minutes = ((minutes % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) intersect, in
// minutes-since-midnight. A shift that crosses midnight is represented by
// the caller as end <= start plus 1440; this function assumes both ranges
// have already been normalized to non-wrapping [start,end) with end>start.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	if aStart >= aEnd || bStart >= bEnd {
		return false
	}
	return aStart < bEnd && bStart < aEnd
}
