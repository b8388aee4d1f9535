package weekly

import (
	"fmt"
	"time"
)

// Schedule is the weekly send window: a weekday and the hour from which sending is allowed.
type Schedule struct {
	Weekday  time.Weekday
	Hour     int
	Location *time.Location
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// WeekKey formats the ISO year and week of t, e.g. "2024-W07".
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// ShouldFire reports whether a report is due: the right weekday, at or past the
// scheduled hour, and not already sent for this ISO week. The hour test is coarse
// because the poll interval cannot observe an exact minute.
func ShouldFire(now time.Time, lastSentWeekKey string, s Schedule) bool {
	local := now.In(s.location())
	if local.Weekday() != s.Weekday || local.Hour() < s.Hour {
		return false
	}
	return WeekKey(local) != lastSentWeekKey
}
