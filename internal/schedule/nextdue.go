package schedule

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/carwatch/internal/model"
)

// Defaults applied when job fields cannot be used.
const (
	DefaultHour    = 9
	DefaultMinute  = 0
	DefaultWeekday = 1 // Monday
)

// NextDue returns the next time strictly after now that satisfies the
// recurrence. It is a pure function of its inputs:
//
//   - hourly: the top of the next hour
//   - daily: today at timeOfDay if still ahead, else tomorrow
//   - weekly: the first ISO weekday in days at timeOfDay within the next
//     two weeks; an empty day set means Monday
//
// An unparseable timeOfDay falls back to 09:00; an unknown kind, or a day
// set with no valid weekday, falls back to tomorrow at timeOfDay.
func NextDue(now time.Time, kind model.JobKind, timeOfDay string, days []int) time.Time {
	hour, minute, ok := ParseTimeOfDay(timeOfDay)
	if !ok {
		hour, minute = DefaultHour, DefaultMinute
	}
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)

	switch kind {
	case model.KindHourly:
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc).Add(time.Hour)

	case model.KindDaily:
		if today.After(now) {
			return today
		}
		return today.AddDate(0, 0, 1)

	case model.KindWeekly:
		if len(days) == 0 {
			days = []int{DefaultWeekday}
		}
		for i := range 14 {
			candidate := today.AddDate(0, 0, i)
			if slices.Contains(days, isoWeekday(candidate)) && candidate.After(now) {
				return candidate
			}
		}
	}
	return today.AddDate(0, 0, 1)
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func isoWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}
