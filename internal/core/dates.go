package core

import "time"

// Layouts accepted from the datetime-local and date form inputs.
var submittedDateLayouts = []string{"2006-01-02T15:04", "2006-01-02"}

// ParseSubmittedDate parses a form-submitted date entered in the app
// timezone and returns it in UTC. An empty or malformed value falls back to
// the current time.
func ParseSubmittedDate(s string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range submittedDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// WeekStart returns the Monday 00:00 of t's week in t's location.
func WeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -offset)
}

// MonthStart returns the first day 00:00 of t's month in t's location.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
