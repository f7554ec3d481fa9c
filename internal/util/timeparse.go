package util

import (
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// ParseSince reads a point in time from a query or flag value. It accepts
// RFC 3339 timestamps, plain dates (taken as UTC midnight), and durations
// such as "36h", which count back from now.
func ParseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative duration %q", value)
		}
		return now.Add(-d), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q: want RFC 3339, YYYY-MM-DD or a duration", value)
}
