package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calendar(events ...string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Gym Calendar//EN",
	}
	for _, ev := range events {
		lines = append(lines, "BEGIN:VEVENT")
		lines = append(lines, strings.Split(ev, "\n")...)
		lines = append(lines, "END:VEVENT")
	}
	lines = append(lines, "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestParse(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 12, 1, 9, 30, 0, 0, loc)

	body := calendar(
		"UID:evt-1@example.com\nSUMMARY:Open Gym\nDTSTART:20251205T180000\nLOCATION:Main Hall\nURL:https://example.com/register/1",
		"UID:evt-2@example.com\nSUMMARY:Yoga\\, Pilates\nDTSTART;VALUE=DATE:20251210",
		"UID:evt-3@example.com\nSUMMARY:Mystery Night\nDTSTART:next tuesday",
	)

	events := Parse(body, ParseOptions{
		Now:             now,
		Location:        loc,
		DefaultLocation: "Location TBD",
		DefaultLink:     "https://example.com/events",
	})

	require.Len(t, events, 3)

	assert.Equal(t, "evt-1@example.com", events[0].ID)
	assert.Equal(t, "Open Gym", events[0].Title)
	assert.Equal(t, time.Date(2025, 12, 5, 18, 0, 0, 0, loc), events[0].Start)
	assert.Equal(t, "Main Hall", events[0].Location)
	assert.Equal(t, "https://example.com/register/1", events[0].RegistrationURL)

	assert.Equal(t, "Yoga, Pilates", events[1].Title)
	assert.Equal(t, time.Date(2025, 12, 10, 0, 0, 0, 0, loc), events[1].Start)
	assert.Equal(t, "Location TBD", events[1].Location)
	assert.Equal(t, "https://example.com/events", events[1].RegistrationURL)

	// Unparsable start keeps the event with an unknown date.
	assert.Equal(t, "evt-3@example.com", events[2].ID)
	assert.False(t, events[2].HasStart())
}

func TestParse_DropsMalformedRecords(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 12, 1, 9, 0, 0, 0, loc)

	body := calendar(
		"UID:first\nSUMMARY:First\nDTSTART:20251202T100000",
		"UID:no-title\nDTSTART:20251202T100000",
		"SUMMARY:No UID\nDTSTART:20251202T100000",
		"UID:last\nSUMMARY:Last\nDTSTART:20251203T100000",
	)

	events := Parse(body, ParseOptions{Now: now, Location: loc})

	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].ID)
	assert.Equal(t, "last", events[1].ID)
}

func TestParse_PastEventFilter(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 12, 10, 15, 0, 0, 0, loc)

	body := calendar(
		"UID:yesterday\nSUMMARY:Yesterday\nDTSTART:20251209T230000",
		"UID:this-morning\nSUMMARY:This Morning\nDTSTART:20251210T070000",
		"UID:midnight\nSUMMARY:Midnight\nDTSTART:20251210",
		// 04:59Z is 23:59 on the 9th in New York.
		"UID:utc-late\nSUMMARY:UTC Late\nDTSTART:20251210T045900Z",
		"UID:tomorrow\nSUMMARY:Tomorrow\nDTSTART:20251211T090000",
	)

	events := Parse(body, ParseOptions{Now: now, Location: loc})

	var ids []string
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"this-morning", "midnight", "tomorrow"}, ids)
}

func TestParse_BadPayload(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "empty", body: nil},
		{name: "whitespace", body: []byte("  \r\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, Parse(tt.body, ParseOptions{}))
		})
	}
}

func TestParseStart(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)

	tests := []struct {
		name   string
		value  string
		want   time.Time
		wantOK bool
	}{
		{name: "date only", value: "20251210", want: time.Date(2025, 12, 10, 0, 0, 0, 0, loc), wantOK: true},
		{name: "floating date time", value: "20251210T183000", want: time.Date(2025, 12, 10, 18, 30, 0, 0, loc), wantOK: true},
		{name: "utc date time", value: "20251210T183000Z", want: time.Date(2025, 12, 10, 18, 30, 0, 0, time.UTC), wantOK: true},
		{name: "surrounding space", value: " 20251210 ", want: time.Date(2025, 12, 10, 0, 0, 0, 0, loc), wantOK: true},
		{name: "iso form", value: "2025-12-10", wantOK: false},
		{name: "short time", value: "20251210T1830", wantOK: false},
		{name: "impossible date", value: "20251340", wantOK: false},
		{name: "empty", value: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStart(tt.value, loc)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			}
		})
	}
}

func TestParse_TextEscapes(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 12, 1, 9, 0, 0, 0, loc)

	tests := []struct {
		name         string
		summary      string
		location     string
		wantSummary  string
		wantLocation string
	}{
		{
			name:        "escaped backslashes decode once",
			summary:     `Path C:\\new\\temp`,
			wantSummary: `Path C:\new\temp`,
		},
		{
			name:         "escaped comma and semicolon",
			summary:      `Yoga\, Pilates\; Barre`,
			location:     `Court 2\, North`,
			wantSummary:  "Yoga, Pilates; Barre",
			wantLocation: "Court 2, North",
		},
		{
			name:         "escaped newline",
			summary:      `Open Gym`,
			location:     `Main Hall\nBack door`,
			wantSummary:  "Open Gym",
			wantLocation: "Main Hall\nBack door",
		},
		{
			name:        "charset prefix left in value",
			summary:     "CHARSET=utf-8:Spin Class",
			wantSummary: "Spin Class",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := "UID:evt@example.com\nSUMMARY:" + tt.summary + "\nDTSTART:20251205T180000"
			if tt.location != "" {
				ev += "\nLOCATION:" + tt.location
			}

			events := Parse(calendar(ev), ParseOptions{Now: now, Location: loc, DefaultLocation: "TBD"})
			require.Len(t, events, 1)
			assert.Equal(t, tt.wantSummary, events[0].Title)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, events[0].Location)
			}
		})
	}
}

func TestParse_MalformedRecordIsolated(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 12, 1, 9, 0, 0, 0, loc)

	tests := []struct {
		name    string
		body    []byte
		wantIDs []string
	}{
		{
			name: "line without colon",
			body: calendar(
				"UID:good-1\nSUMMARY:Open Gym\nDTSTART:20251205T180000",
				"UID:bad\nGARBAGE LINE WITHOUT COLON\nSUMMARY:Broken\nDTSTART:20251206T180000",
				"UID:good-2\nSUMMARY:Spin\nDTSTART:20251207T180000",
			),
			wantIDs: []string{"good-1", "good-2"},
		},
		{
			name: "unterminated record before the next one",
			body: []byte(strings.Join([]string{
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"BEGIN:VEVENT",
				"UID:lost",
				"SUMMARY:Lost",
				"DTSTART:20251205T180000",
				"BEGIN:VEVENT",
				"UID:kept",
				"SUMMARY:Kept",
				"DTSTART:20251206T180000",
				"END:VEVENT",
				"END:VCALENDAR",
			}, "\r\n") + "\r\n"),
			wantIDs: []string{"kept"},
		},
		{
			name: "folded line stays with its record",
			body: []byte(strings.Join([]string{
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"BEGIN:VEVENT",
				"UID:folded",
				"SUMMARY:Open",
				"  Gym",
				"DTSTART:20251205T180000",
				"END:VEVENT",
				"END:VCALENDAR",
			}, "\n") + "\n"),
			wantIDs: []string{"folded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, ev := range Parse(tt.body, ParseOptions{Now: now, Location: loc}) {
				ids = append(ids, ev.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestParse_NotACalendar(t *testing.T) {
	body := []byte("<html><body>BEGIN:VEVENT maintenance</body></html>")
	assert.Empty(t, Parse(body, ParseOptions{}))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Spin Class", cleanText("CHARSET=utf-8:Spin Class"))
	assert.Equal(t, "Spin Class", cleanText("LANGUAGE=en-us:CHARSET=utf-8:Spin Class"))
	assert.Equal(t, "Court 2, North", cleanText("  Court 2, North "))
	assert.Equal(t, `C:\new`, cleanText(`C:\new`))
	assert.Equal(t, "Time: 6pm", cleanText("Time: 6pm"))
}
