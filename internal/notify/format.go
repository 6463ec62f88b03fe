package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"calshift/internal/model"
)

const (
	dateLayout = "Monday, January 2, 2006"
	timeLayout = "3:04 PM"
	// Unknown is shown for the date and time of an event without a start.
	Unknown = "TBD"
)

// Notification is a rendered event email.
type Notification struct {
	Subject string
	HTML    string
}

var eventTemplate = template.Must(template.New("event").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, Helvetica, sans-serif; color: #222;">
  <h2 style="margin-bottom: 4px;">{{.Title}}</h2>
  <p style="margin-top: 0; color: #555;">A new event was just posted.</p>
  <table cellpadding="4" style="border-collapse: collapse;">
    <tr><td><strong>Date</strong></td><td>{{.Date}}</td></tr>
    <tr><td><strong>Time</strong></td><td>{{.Time}}</td></tr>
    <tr><td><strong>Location</strong></td><td>{{.Location}}</td></tr>
  </table>
{{- if .Link}}
  <p>
    <a href="{{.Link}}" style="display: inline-block; padding: 10px 18px; background: #1a73e8; color: #fff; text-decoration: none; border-radius: 4px;">Register / Details</a>
  </p>
{{- end}}
</body>
</html>
`))

type eventView struct {
	Title    string
	Date     string
	Time     string
	Location string
	Link     string
}

// FormatDate renders the event day in loc, or Unknown.
func FormatDate(ev model.Event, loc *time.Location) string {
	if !ev.HasStart() {
		return Unknown
	}
	return ev.Start.In(loc).Format(dateLayout)
}

// FormatTime renders the 12-hour start time in loc, or Unknown.
func FormatTime(ev model.Event, loc *time.Location) string {
	if !ev.HasStart() {
		return Unknown
	}
	return ev.Start.In(loc).Format(timeLayout)
}

// Render builds the HTML notification for one event.
func Render(ev model.Event, loc *time.Location) (Notification, error) {
	if loc == nil {
		loc = time.Local
	}

	view := eventView{
		Title:    ev.Title,
		Date:     FormatDate(ev, loc),
		Time:     FormatTime(ev, loc),
		Location: ev.Location,
		Link:     ev.RegistrationURL,
	}

	var buf bytes.Buffer
	if err := eventTemplate.Execute(&buf, view); err != nil {
		return Notification{}, fmt.Errorf("render event %s: %w", ev.ID, err)
	}

	return Notification{
		Subject: "New Event: " + ev.Title,
		HTML:    buf.String(),
	}, nil
}
