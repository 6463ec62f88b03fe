package payperiod

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"calshift/internal/model"
)

// Calendar tiles the timeline into fixed-length pay periods starting at an
// anchor date. Every date belongs to exactly one period; dates before the
// anchor get negative indexes.
type Calendar struct {
	anchor time.Time
	length int
}

// New builds a Calendar. Only the Y/M/D of anchor are used.
func New(anchor time.Time, lengthDays int) (Calendar, error) {
	if lengthDays <= 0 {
		return Calendar{}, fmt.Errorf("pay period length must be positive, got %d", lengthDays)
	}
	if anchor.IsZero() {
		return Calendar{}, errors.New("pay period anchor is empty")
	}
	return Calendar{anchor: Date(anchor), length: lengthDays}, nil
}

// Date drops the clock and zone of t, keeping its calendar day as seen in
// t's own location.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Index returns floor((date - anchor) / length) in whole days.
func (c Calendar) Index(date time.Time) int {
	days := int(Date(date).Sub(c.anchor).Hours() / 24)
	idx := days / c.length
	if days%c.length != 0 && days < 0 {
		idx--
	}
	return idx
}

// Period returns the period with the given index.
func (c Calendar) Period(index int) model.Period {
	start := c.anchor.AddDate(0, 0, index*c.length)
	return model.Period{
		Index: index,
		Start: start,
		End:   start.AddDate(0, 0, c.length-1),
	}
}

// For returns the period containing date.
func (c Calendar) For(date time.Time) model.Period {
	return c.Period(c.Index(date))
}

// Contains reports whether date falls within p, bounds inclusive.
func Contains(p model.Period, date time.Time) bool {
	d := Date(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Upcoming returns n consecutive periods starting with the one containing
// from. Period starts follow the recurrence FREQ=DAILY;INTERVAL=<length>.
func (c Calendar) Upcoming(from time.Time, n int) ([]model.Period, error) {
	if n <= 0 {
		return nil, nil
	}

	current := c.For(from)
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: c.length,
		Count:    n,
		Dtstart:  current.Start,
	})
	if err != nil {
		return nil, fmt.Errorf("build pay period recurrence: %w", err)
	}

	starts := rule.All()
	periods := make([]model.Period, 0, len(starts))
	for i, start := range starts {
		periods = append(periods, model.Period{
			Index: current.Index + i,
			Start: start,
			End:   start.AddDate(0, 0, c.length-1),
		})
	}
	return periods, nil
}
