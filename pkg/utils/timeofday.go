package utils

import (
	"fmt"
	"time"
)

// ParseTimeOfDay parses an HH:MM:SS venue-local time string into seconds
// since midnight.
func ParseTimeOfDay(s string) (int, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return h*3600 + m*60 + sec, nil
}

// CompareTimeOfDay compares two HH:MM:SS strings. It returns a negative
// value when a is earlier than b, zero when equal, positive when later.
// Malformed values sort last so a garbage signal time can never pass a
// "not in the future" check.
func CompareTimeOfDay(a, b string) int {
	sa, errA := ParseTimeOfDay(a)
	sb, errB := ParseTimeOfDay(b)
	if errA != nil && errB != nil {
		return 0
	}
	if errA != nil {
		return 1
	}
	if errB != nil {
		return -1
	}
	return sa - sb
}

// DateOf returns the YYYY-MM-DD calendar date of an epoch-millisecond
// timestamp in the given location.
func DateOf(epochMillis int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(epochMillis).In(loc).Format("2006-01-02")
}
