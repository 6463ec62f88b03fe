package ics

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calshift/internal/log"
	"calshift/internal/model"
)

// ParseError describes one VEVENT that could not be turned into an Event.
// It never aborts a parse; the record is dropped and logged.
type ParseError struct {
	// Index is the position of the VEVENT in the feed, or -1 when the
	// whole payload was unreadable.
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return "ics: " + e.Reason
	}
	return fmt.Sprintf("ics: vevent %d: %s", e.Index, e.Reason)
}

// ParseOptions controls extraction and the past-event filter.
type ParseOptions struct {
	// Now is the reference instant for the past-event filter.
	Now time.Time
	// Location is the fixed display zone. Floating DTSTART values are read
	// in it and "today" starts at its midnight. Defaults to time.Local.
	Location *time.Location

	DefaultLocation string
	DefaultLink     string
}

// field is one row of the extraction table. Adding a property to Event is a
// new row here, not new control flow.
type field struct {
	name     string
	prop     ical.ComponentProperty
	required bool
	post     func(string) string
	assign   func(ev *model.Event, value string, opts ParseOptions)
}

var fields = []field{
	{
		name:     "uid",
		prop:     ical.ComponentPropertyUniqueId,
		required: true,
		post:     strings.TrimSpace,
		assign:   func(ev *model.Event, v string, _ ParseOptions) { ev.ID = v },
	},
	{
		name:     "summary",
		prop:     ical.ComponentPropertySummary,
		required: true,
		post:     cleanText,
		assign:   func(ev *model.Event, v string, _ ParseOptions) { ev.Title = v },
	},
	{
		name: "dtstart",
		prop: ical.ComponentPropertyDtStart,
		post: strings.TrimSpace,
		assign: func(ev *model.Event, v string, opts ParseOptions) {
			// An unparsable start is "date unknown", not a dropped record.
			if t, ok := ParseStart(v, opts.Location); ok {
				ev.Start = t
			}
		},
	},
	{
		name:   "location",
		prop:   ical.ComponentPropertyLocation,
		post:   cleanText,
		assign: func(ev *model.Event, v string, _ ParseOptions) { ev.Location = v },
	},
	{
		name:   "url",
		prop:   ical.ComponentPropertyUrl,
		post:   strings.TrimSpace,
		assign: func(ev *model.Event, v string, _ ParseOptions) { ev.RegistrationURL = v },
	},
}

// Parse extracts events from an ICS payload, drops malformed records and
// events that started before today, and keeps feed order. Each VEVENT is
// decoded on its own, so a broken record never takes the rest of the feed
// with it.
func Parse(body []byte, opts ParseOptions) []model.Event {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	if len(bytes.TrimSpace(body)) == 0 {
		appLog.Error("ics parse failed", &ParseError{Index: -1, Reason: "empty body"})
		return nil
	}

	blocks, isCalendar := splitRecords(body)
	if !isCalendar {
		appLog.Error("ics parse failed", &ParseError{Index: -1, Reason: "no BEGIN:VCALENDAR line"})
		return nil
	}

	events := make([]model.Event, 0, len(blocks))
	dropped := 0
	for i, blk := range blocks {
		ev, perr := decodeRecord(i, blk, opts)
		if perr != nil {
			dropped++
			appLog.Debug("ics vevent dropped", "index", i, "reason", perr.Reason)
			continue
		}
		events = append(events, ev)
	}

	upcoming := Upcoming(events, opts.Now, opts.Location)

	appLog.Info("ics parse completed",
		"vevents", len(blocks),
		"dropped", dropped,
		"past", len(events)-len(upcoming),
		"upcoming", len(upcoming),
	)
	return upcoming
}

// record is the raw content lines of one VEVENT, BEGIN and END included.
type record struct {
	lines  []string
	closed bool
}

// splitRecords cuts the payload into VEVENT records. Folded continuation
// lines stay with their record. A record still open when the next
// BEGIN:VEVENT or the end of the payload arrives is returned unclosed.
func splitRecords(body []byte) ([]record, bool) {
	var (
		records    []record
		cur        *record
		isCalendar bool
	)

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		folded := strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
		tag := ""
		if !folded {
			tag = strings.ToUpper(strings.TrimSpace(line))
		}

		switch tag {
		case "BEGIN:VCALENDAR":
			isCalendar = true
			continue
		case "BEGIN:VEVENT":
			if cur != nil {
				records = append(records, *cur)
			}
			cur = &record{lines: []string{line}}
			continue
		}

		if cur == nil {
			continue
		}
		cur.lines = append(cur.lines, line)
		if tag == "END:VEVENT" {
			cur.closed = true
			records = append(records, *cur)
			cur = nil
		}
	}
	if cur != nil {
		records = append(records, *cur)
	}
	return records, isCalendar
}

// decodeRecord parses one record inside a minimal calendar envelope and
// extracts its fields.
func decodeRecord(index int, rec record, opts ParseOptions) (model.Event, *ParseError) {
	if !rec.closed {
		return model.Event{}, &ParseError{Index: index, Reason: "unterminated VEVENT"}
	}

	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calshift//record//EN\r\n")
	for _, l := range rec.lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")

	cal, err := ical.ParseCalendar(strings.NewReader(b.String()))
	if err != nil {
		return model.Event{}, &ParseError{Index: index, Reason: err.Error()}
	}
	vevents := cal.Events()
	if len(vevents) != 1 {
		return model.Event{}, &ParseError{Index: index, Reason: fmt.Sprintf("decoded %d VEVENTs", len(vevents))}
	}
	return extract(index, vevents[0], opts)
}

func extract(index int, ve *ical.VEvent, opts ParseOptions) (model.Event, *ParseError) {
	var ev model.Event
	for _, f := range fields {
		var value string
		if p := ve.GetProperty(f.prop); p != nil {
			value = p.Value
		}
		if f.post != nil {
			value = f.post(value)
		}
		if value == "" {
			if f.required {
				return model.Event{}, &ParseError{Index: index, Reason: "missing " + f.name}
			}
			continue
		}
		f.assign(&ev, value, opts)
	}

	if ev.Location == "" {
		ev.Location = opts.DefaultLocation
	}
	if ev.RegistrationURL == "" {
		ev.RegistrationURL = opts.DefaultLink
	}
	return ev, nil
}

// Upcoming keeps events whose start is unknown or not before the start of
// the current day in loc. It is a point-in-time filter and must be applied
// on every run.
func Upcoming(events []model.Event, now time.Time, loc *time.Location) []model.Event {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.HasStart() && ev.Start.Before(today) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

var startPattern = regexp.MustCompile(`^(\d{8})(?:T(\d{6})(Z)?)?$`)

// ParseStart parses the compact DTSTART forms YYYYMMDD, YYYYMMDDTHHMMSS and
// YYYYMMDDTHHMMSSZ. Values without Z are read in loc; a bare date means
// midnight.
func ParseStart(value string, loc *time.Location) (time.Time, bool) {
	m := startPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	date, clock, utc := m[1], m[2], m[3] != ""
	if clock == "" {
		clock = "000000"
	}
	if utc {
		loc = time.UTC
	}

	t, err := time.ParseInLocation("20060102T150405", date+"T"+clock, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// encodingPrefix matches parameter text that some exporters leave in front
// of the value, e.g. "CHARSET=utf-8:" or "LANGUAGE=en-us:".
var encodingPrefix = regexp.MustCompile(`^(?i)(?:(?:CHARSET|LANGUAGE|ENCODING)=[^:]*:)+`)

// cleanText strips encoding prefixes and surrounding space. TEXT escapes
// (\, \; \n \\) are already decoded by golang-ical and must not be decoded
// again.
func cleanText(s string) string {
	s = encodingPrefix.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.TrimSpace(s)
}
