package engine

import (
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

const dateOnlyLayout = "2006-01-02"

// parseBound parses a date range bound in loc. A date-only end bound is
// extended to the last instant of that day.
func parseBound(s string, loc *time.Location, end bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if end && layout == dateOnlyLayout {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t, true
	}
	return time.Time{}, false
}

// inDateRange reports start <= now <= end (inclusive). An empty bound is
// open; both empty or any unparseable bound is reported as invalid.
func inDateRange(now time.Time, start, end string) (match, valid bool) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return false, false
	}
	loc := now.Location()
	if start != "" {
		from, ok := parseBound(start, loc, false)
		if !ok {
			return false, false
		}
		if now.Before(from) {
			return false, true
		}
	}
	if end != "" {
		to, ok := parseBound(end, loc, true)
		if !ok {
			return false, false
		}
		if now.After(to) {
			return false, true
		}
	}
	return true, true
}

// parseClock parses "HH:MM" or "HH:MM:SS" into seconds since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, false
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total, true
}

// inClockRange reports whether now's time of day falls in [start, end].
// A start after end wraps past midnight.
func inClockRange(now time.Time, start, end string) (match, valid bool) {
	from, ok := parseClock(start)
	if !ok {
		return false, false
	}
	to, ok := parseClock(end)
	if !ok {
		return false, false
	}
	cur := now.Hour()*3600 + now.Minute()*60 + now.Second()
	if from <= to {
		return cur >= from && cur <= to, true
	}
	return cur >= from || cur <= to, true
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday, "0": time.Sunday, "7": time.Sunday,
	"monday": time.Monday, "mon": time.Monday, "1": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "2": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday, "3": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "4": time.Thursday,
	"friday": time.Friday, "fri": time.Friday, "5": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday, "6": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// rangeBounds reads start/end from the condition's dedicated fields,
// falling back to a {"start": ..., "end": ...} value mapping.
func rangeBounds(startField, endField string, value any) (string, string) {
	if startField != "" || endField != "" {
		return startField, endField
	}
	m := toStringMap(value)
	if m == nil {
		return "", ""
	}
	start, end := m["start"], m["end"]
	if start == "" {
		start = m["start_date"]
	}
	if end == "" {
		end = m["end_date"]
	}
	return start, end
}
