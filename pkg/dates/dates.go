// Package dates works with calendar dates carried in time.Time values at midnight UTC.
package dates

import "time"

// Day returns the calendar date of t as seen in loc, at midnight UTC.
// A nil loc uses t's own location.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from one calendar date to another.
// Negative when to is before from.
func DaysBetween(from, to time.Time) int {
	f := Day(from, nil)
	t := Day(to, nil)
	return int(t.Sub(f).Hours() / 24)
}

// AddDays shifts a calendar date by n days.
func AddDays(day time.Time, n int) time.Time {
	return Day(day, nil).AddDate(0, 0, n)
}
