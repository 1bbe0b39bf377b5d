// Package stats derives the calendar read views from log history.
package stats

import (
	"time"

	"github.com/gutlog/backend/internal/storage/models"
)

const (
	// WeekDays is the length of the dense weekly view.
	WeekDays = 7

	NoLogLabel = "No log"

	displayLayout = "Jan 2, 2006"
	timeLayout    = "15:04"
)

// StartOfDay returns midnight of t's civil date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// WeekWindowStart returns the Monday before the most recent Monday on or
// before now, which always covers the trailing seven days.
func WeekWindowStart(now time.Time, loc *time.Location) time.Time {
	today := StartOfDay(now, loc)
	sinceMonday := (int(today.Weekday()) + 6) % 7
	return today.AddDate(0, 0, -sinceMonday-7)
}

type dayLog struct {
	label string
	time  string
}

// WeeklyView expands entries into the seven days ending at now, newest day
// first. A day with logs yields one row per log in input order; an empty
// day yields a single placeholder.
func WeeklyView(now time.Time, loc *time.Location, entries []models.LogEntry) []models.WeeklyDay {
	byDay := make(map[string][]dayLog)
	for _, e := range entries {
		ts := e.Timestamp.In(loc)
		key := ts.Format(models.DayLayout)
		byDay[key] = append(byDay[key], dayLog{label: e.Label, time: ts.Format(timeLayout)})
	}

	today := StartOfDay(now, loc)
	week := make([]models.WeeklyDay, 0, WeekDays)
	for i := 0; i < WeekDays; i++ {
		day := today.AddDate(0, 0, -i)
		key := day.Format(models.DayLayout)
		display := day.Format(displayLayout)

		logs, ok := byDay[key]
		if !ok {
			week = append(week, models.WeeklyDay{
				Date:  display,
				Day:   key,
				Label: NoLogLabel,
			})
			continue
		}

		for _, l := range logs {
			week = append(week, models.WeeklyDay{
				Date:   display,
				Day:    key,
				Label:  l.label,
				Time:   l.time,
				HasLog: true,
			})
		}
	}

	return week
}

// CalendarCounts reduces per-day rows to a sparse day -> count map. Days
// without logs have no key.
func CalendarCounts(rows []models.DayCount) map[string]int {
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.Count <= 0 {
			continue
		}
		counts[r.Day] += r.Count
	}
	return counts
}
