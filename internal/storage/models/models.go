package models

import "time"

// DayLayout is the civil-date key used across the store and the read views.
const DayLayout = "2006-01-02"

// LogEntry is one persisted classification. It is never updated after insert.
type LogEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	ImagePath  string    `json:"image_path"`
}

// Day returns the entry's civil date in loc.
func (e LogEntry) Day(loc *time.Location) string {
	return e.Timestamp.In(loc).Format(DayLayout)
}

// WeeklyDay is one row of the dense weekly view. Placeholder rows have
// HasLog false and no Time.
type WeeklyDay struct {
	Date   string `json:"date"`
	Day    string `json:"day"`
	Label  string `json:"label"`
	Time   string `json:"time,omitempty"`
	HasLog bool   `json:"has_log"`
}

type DayCount struct {
	Day   string
	Count int
}

type Tip struct {
	Status string `json:"status"`
	Tip    string `json:"tip"`
}

// Prediction is what a caller sees after a classification was durably logged.
type Prediction struct {
	ID         int64   `json:"id"`
	Label      string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	ImageURL   string  `json:"image_url"`
}
