package model

import "time"

// Event represents one calendar occurrence taken from the feed.
// Events are rebuilt on every run and never mutated afterwards; the
// seen-set compares them by ID only.
type Event struct {
	ID    string // iCalendar UID, the dedup key
	Title string

	// Start is zero when the feed carried no parsable DTSTART.
	Start time.Time

	Location        string
	RegistrationURL string
}

// HasStart reports whether the start instant is known.
func (e Event) HasStart() bool {
	return !e.Start.IsZero()
}

// Shift is one worked interval read from the spreadsheet export.
type Shift struct {
	// Date is the calendar date at midnight UTC; only Y/M/D are meaningful.
	Date time.Time
	// RawDate is the date cell exactly as exported (MM/DD/YYYY).
	RawDate string

	StartTime string
	EndTime   string

	// HoursText is the raw cell; Hours is its parsed value or 0.
	HoursText string
	Hours     float64
}

// Key returns the dedup identity of a shift: (date, start, end).
func (s Shift) Key() string {
	return s.Date.Format("2006-01-02") + "|" + s.StartTime + "|" + s.EndTime
}

// Period is one pay period, both bounds inclusive calendar dates.
type Period struct {
	Index int
	Start time.Time
	End   time.Time
}
