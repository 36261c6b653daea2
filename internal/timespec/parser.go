// Package timespec parses the --since/--until flags used by vault queries.
package timespec

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date form accepted by Parse.
const DateLayout = "2006-01-02"

// Parse turns a time specification into an absolute time. Accepted forms:
//   - Go durations, relative to now: "1h", "30m", "1h30m" means that long ago
//   - day counts, relative to now: "7d"
//   - RFC3339 timestamps: "2026-03-01T13:00:00Z"
//   - calendar dates (UTC midnight): "2026-03-01"
func Parse(spec string, now time.Time) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339Nano, spec); err == nil {
		return t, nil
	}
	if t, err := time.Parse(DateLayout, spec); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d), nil
	}
	if days, ok := strings.CutSuffix(spec, "d"); ok {
		var n int
		if _, err := fmt.Sscanf(days, "%d", &n); err == nil && n >= 0 && fmt.Sprint(n) == days {
			return now.AddDate(0, 0, -n), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m', a day count like '7d', a date like '2026-03-01' or RFC3339)", spec)
}

// ParseRange parses --since and --until. A zero time means that end is
// unbounded. since must be before until when both are set.
func ParseRange(since, until string, now time.Time) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if since != "" {
		if from, err = Parse(since, now); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if to, err = Parse(until, now); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--since must be before --until")
	}
	return from, to, nil
}
