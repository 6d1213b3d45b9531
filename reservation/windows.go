package reservation

import (
	"context"
	"time"

	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/rotation"
)

// maxWindowScanDays bounds the search for valid window starts.
const maxWindowScanDays = 400

type window struct {
	Start time.Time
	End   time.Time
}

// WeekendPause moves t to the following Monday at openHour when t falls on
// Saturday at or after 01:00, or at any time on Sunday. Other instants are
// returned unchanged.
func WeekendPause(t time.Time, openHour int) time.Time {
	var days int
	switch {
	case t.Weekday() == time.Saturday && t.Hour() >= 1:
		days = 2
	case t.Weekday() == time.Sunday:
		days = 1
	default:
		return t
	}
	monday := t.AddDate(0, 0, days)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), openHour, 0, 0, 0, t.Location())
}

// layoutWindows places n consecutive windows for group starting at start
// (openHour). A window never starts on a day the group rests or on an
// inadmissible day; such days are skipped keeping the hour. Each following
// window starts when the previous ends, after the weekend pause.
func layoutWindows(ctx context.Context, resolver *rotation.Resolver, group generic.Group, start generic.TimePoint, n int, duration time.Duration, openHour int) ([]window, error) {
	cur := start.At(openHour)
	limit := cur.AddDate(0, 0, maxWindowScanDays)
	out := make([]window, 0, n)
	for len(out) < n {
		if cur.After(limit) {
			return nil, generic.Misconfigured("reservation",
				"group %s has no valid window start within %d days of %s", group.ID, maxWindowScanDays, start)
		}
		res, err := resolver.ResolveFor(ctx, "", group, generic.DayOf(cur))
		if err != nil {
			return nil, err
		}
		if !res.IsWorkday() {
			cur = cur.AddDate(0, 0, 1)
			continue
		}
		end := cur.Add(duration)
		out = append(out, window{Start: cur, End: end})
		cur = WeekendPause(end, openHour)
	}
	return out, nil
}
