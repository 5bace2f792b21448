// Package timeutil converts wall-clock time ranges into concrete
// delays and durations. All functions are pure: the reference instant
// is always an explicit parameter.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Accepted time-of-day layouts, tried in order.
var layouts = []string{"3pm", "3:04pm", "15:04", "15:04:05"}

// ParseTimeOfDay parses strings like "8pm", "8:30pm", "20:00" or
// "20:30:00" into a time-of-day placed on now's calendar date.
func ParseTimeOfDay(s string, now time.Time) (time.Time, error) {
	cleaned := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	for _, layout := range layouts {
		t, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		return time.Date(now.Year(), now.Month(), now.Day(),
			t.Hour(), t.Minute(), t.Second(), 0, now.Location()), nil
	}
	return time.Time{}, fmt.Errorf("could not parse time %q", s)
}

// Range computes (delay until start, remaining enforcement duration,
// total window duration) for a start/end wall-clock pair relative to
// now.
//
// When end <= start as times of day the window wraps to the next day.
// Three cases against now: already inside the window (delay 0,
// remaining runs to end), window later today, or window entirely in
// the past (both ends roll to tomorrow). Remaining is floored at one
// second so the enforcement window is never empty.
func Range(startStr, endStr string, now time.Time) (delay, remaining, total time.Duration, err error) {
	start, err := ParseTimeOfDay(startStr, now)
	if err != nil {
		return 0, 0, 0, err
	}
	end, err := ParseTimeOfDay(endStr, now)
	if err != nil {
		return 0, 0, 0, err
	}

	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	total = end.Sub(start)

	switch {
	case start.Before(now) && end.After(now):
		delay = 0
		remaining = end.Sub(now)
	case !start.Before(now):
		delay = start.Sub(now)
		remaining = total
	default:
		start = start.AddDate(0, 0, 1)
		end = end.AddDate(0, 0, 1)
		delay = start.Sub(now)
		remaining = total
	}

	if remaining < time.Second {
		remaining = time.Second
	}
	return delay, remaining, total, nil
}
