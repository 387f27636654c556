package dispatch

import (
	"time"

	"sankalp/internal/models"
)

// NextRunAt computes when a recurring job is due again after a pass at
// from. Nil means the job does not recur.
func NextRunAt(r models.Recurrence, from time.Time) *time.Time {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	switch r.Frequency {
	case "custom":
		if r.CustomMinutes < 1 {
			return nil
		}
		t := from.Add(time.Duration(r.CustomMinutes) * time.Minute)
		return &t

	case "daily":
		t := from.Add(time.Duration(interval) * 24 * time.Hour)
		return &t

	case "weekly":
		if len(r.Weekdays) > 0 {
			return nextWeekday(r.Weekdays, from, interval)
		}
		t := from.Add(time.Duration(interval) * 7 * 24 * time.Hour)
		return &t

	case "monthly":
		t := from.AddDate(0, interval, 0)
		return &t

	case "yearly":
		t := from.AddDate(interval, 0, 0)
		return &t
	}

	return nil
}

// nextWeekday scans forward for the first day matching one of the
// requested weekdays (0=Sunday).
func nextWeekday(weekdays []int, from time.Time, interval int) *time.Time {
	set := make(map[time.Weekday]bool, len(weekdays))
	for _, d := range weekdays {
		set[time.Weekday(((d%7)+7)%7)] = true
	}

	for i := 1; i <= 14*interval; i++ {
		candidate := from.Add(time.Duration(i) * 24 * time.Hour)
		if set[candidate.Weekday()] {
			return &candidate
		}
	}

	t := from.Add(time.Duration(interval) * 7 * 24 * time.Hour)
	return &t
}
