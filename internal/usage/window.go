package usage

import (
	"time"

	"github.com/calyxlabs/calyx/internal/model"
)

// Bounds returns the [start, end) interval that the given window covers at
// instant now, computed in loc. Daily windows run midnight to midnight,
// weekly windows start on Monday, monthly windows on the first of the month.
// WindowAll returns zero times, meaning no bounds.
func Bounds(w model.Window, now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	switch w {
	case model.WindowDaily:
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	case model.WindowWeekly:
		days := int(local.Weekday()-time.Monday+7) % 7
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).
			AddDate(0, 0, -days)
		return start, start.AddDate(0, 0, 7)
	case model.WindowMonthly:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	default:
		return time.Time{}, time.Time{}
	}
}
