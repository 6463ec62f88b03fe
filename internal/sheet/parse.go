package sheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	appLog "calshift/internal/log"
	"calshift/internal/model"
)

// Column headers of the shift sheet export.
const (
	ColDate      = "Date"
	ColHours     = "Hours"
	ColStartTime = "Start Time"
	ColEndTime   = "End Time"
)

const delimiter = ","

// headerEchoes are Date cell values that mark a repeated header or a
// template row rather than a shift.
var headerEchoes = map[string]bool{
	ColDate:      true,
	"MM/DD/YYYY": true,
}

// ParseError describes one skipped row. It is logged, never returned.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sheet: line %d: %s", e.Line, e.Reason)
}

// Parse reads the comma-delimited export. The first non-blank line is the
// header; columns are located by name. Fields are split on every comma, so
// a quoted value containing a comma misaligns its row.
func Parse(body []byte) []model.Shift {
	lines := strings.Split(strings.TrimPrefix(string(body), "\ufeff"), "\n")

	headerAt := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		appLog.Error("sheet parse failed", &ParseError{Line: 0, Reason: "no header line"})
		return nil
	}

	cols := make(map[string]int)
	for i, name := range splitRow(lines[headerAt]) {
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	if _, ok := cols[ColDate]; !ok {
		appLog.Error("sheet parse failed", &ParseError{Line: headerAt + 1, Reason: "missing Date column"})
		return nil
	}

	var shifts []model.Shift
	skipped := 0
	for i := headerAt + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		shift, perr := parseRow(i+1, splitRow(lines[i]), cols)
		if perr != nil {
			skipped++
			appLog.Debug("sheet row skipped", "line", perr.Line, "reason", perr.Reason)
			continue
		}
		shifts = append(shifts, shift)
	}

	appLog.Info("sheet parse completed", "rows", len(shifts), "skipped", skipped)
	return shifts
}

func parseRow(line int, cells []string, cols map[string]int) (model.Shift, *ParseError) {
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(cells) {
			return ""
		}
		return cells[i]
	}

	rawDate := cell(ColDate)
	if rawDate == "" || headerEchoes[rawDate] {
		return model.Shift{}, &ParseError{Line: line, Reason: "no date"}
	}

	date, err := ParseDate(rawDate)
	if err != nil {
		return model.Shift{}, &ParseError{Line: line, Reason: err.Error()}
	}

	hoursText := cell(ColHours)
	return model.Shift{
		Date:      date,
		RawDate:   rawDate,
		StartTime: cell(ColStartTime),
		EndTime:   cell(ColEndTime),
		HoursText: hoursText,
		Hours:     ParseHours(hoursText),
	}, nil
}

// ParseDate reads MM/DD/YYYY into a midnight-UTC date.
func ParseDate(s string) (time.Time, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("date %q is not MM/DD/YYYY", s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return time.Time{}, fmt.Errorf("date %q is not MM/DD/YYYY", s)
		}
		nums[i] = n
	}
	month, day, year := nums[0], nums[1], nums[2]

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 02/30 into March; reject instead.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("date %q does not exist", s)
	}
	return t, nil
}

// ParseHours reads a decimal hour count. Anything unparsable or negative
// counts as zero.
func ParseHours(s string) float64 {
	h, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
		return 0
	}
	return h
}

func splitRow(line string) []string {
	cells := strings.Split(strings.TrimRight(line, "\r"), delimiter)
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}
