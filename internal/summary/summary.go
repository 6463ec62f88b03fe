package summary

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	appLog "calshift/internal/log"
	"calshift/internal/model"
	"calshift/internal/payperiod"
)

const (
	periodLayout = "01/02/2006"
	// NoShifts replaces the shift list when the period has none.
	NoShifts = "No shifts recorded for this pay period."
)

// Line is one rendered shift inside the active period.
type Line struct {
	Shift model.Shift
	Text  string
}

// Result is the aggregate of one pay period.
type Result struct {
	Period     model.Period
	Lines      []Line
	Total      float64
	Duplicates int
	// Outside counts rows that belong to other periods.
	Outside int
}

// Aggregate dedups shifts by (date, start, end), keeping the first one seen,
// and sums the hours of those inside period. Lines are ordered by date, then
// start time text.
func Aggregate(shifts []model.Shift, period model.Period) Result {
	res := Result{Period: period}
	seen := make(map[string]struct{}, len(shifts))

	for _, s := range shifts {
		key := s.Key()
		if _, dup := seen[key]; dup {
			res.Duplicates++
			appLog.Info("duplicate shift skipped", "date", s.RawDate, "start", s.StartTime, "end", s.EndTime)
			continue
		}
		seen[key] = struct{}{}

		if !payperiod.Contains(period, s.Date) {
			res.Outside++
			continue
		}
		res.Total += s.Hours
		res.Lines = append(res.Lines, Line{Shift: s, Text: FormatLine(s)})
	}

	sort.SliceStable(res.Lines, func(i, j int) bool {
		a, b := res.Lines[i], res.Lines[j]
		if !a.Shift.Date.Equal(b.Shift.Date) {
			return a.Shift.Date.Before(b.Shift.Date)
		}
		if c := compareStart(a.Shift.StartTime, b.Shift.StartTime); c != 0 {
			return c < 0
		}
		return a.Text < b.Text
	})
	return res
}

var clockLayouts = []string{"3:04 PM", "3:04PM", "3:04 pm", "15:04"}

// parseClock reads a sheet start time such as "9:00 AM" or "13:30".
func parseClock(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// compareStart orders start times by clock value. Unreadable times sort
// after readable ones, then by text.
func compareStart(a, b string) int {
	ta, okA := parseClock(a)
	tb, okB := parseClock(b)
	switch {
	case okA && okB:
		if c := ta.Compare(tb); c != 0 {
			return c
		}
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(a, b)
}

// FormatLine renders "<date> — <hours> hour(s) (<start> - <end>)".
func FormatLine(s model.Shift) string {
	unit := "hours"
	if s.Hours == 1 {
		unit = "hour"
	}
	return fmt.Sprintf("%s — %s %s (%s - %s)", s.RawDate, FormatHours(s.Hours), unit, s.StartTime, s.EndTime)
}

// FormatHours prints the shortest decimal form: 3, 2.5, 0.75.
func FormatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// FormatTotal prints the period total with one decimal place.
func FormatTotal(total float64) string {
	return strconv.FormatFloat(total, 'f', 1, 64)
}

// FormatPeriod prints "MM/DD/YYYY - MM/DD/YYYY".
func FormatPeriod(p model.Period) string {
	return p.Start.Format(periodLayout) + " - " + p.End.Format(periodLayout)
}

// Message is the plain-text summary email.
type Message struct {
	Subject string
	Body    string
}

// Compose renders the summary. next, when non-nil, adds the start of the
// following period.
func Compose(res Result, next *model.Period) Message {
	var b strings.Builder

	b.WriteString("Pay period: " + FormatPeriod(res.Period) + "\n\n")
	b.WriteString("Shifts:\n")
	if len(res.Lines) == 0 {
		b.WriteString(NoShifts + "\n")
	}
	for _, l := range res.Lines {
		b.WriteString(l.Text + "\n")
	}
	b.WriteString("\nTotal hours: " + FormatTotal(res.Total) + "\n")
	if next != nil {
		b.WriteString("Next pay period starts " + next.Start.Format(periodLayout) + ".\n")
	}

	return Message{
		Subject: "Hours Summary: " + FormatPeriod(res.Period),
		Body:    b.String(),
	}
}
