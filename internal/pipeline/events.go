package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calshift/internal/config"
	"calshift/internal/fetch"
	"calshift/internal/ics"
	appLog "calshift/internal/log"
	"calshift/internal/mail"
	"calshift/internal/notify"
	"calshift/internal/state"
)

// Events is one run of the event notifier.
type Events struct {
	Config  *config.Config
	Fetcher Fetcher
	Mailer  mail.Mailer
	Store   state.Store
	// Now defaults to time.Now.
	Now func() time.Time
	// Sleep defaults to the real-time Sleep.
	Sleep SleepFunc
	// DryRun leaves the seen-set file untouched.
	DryRun bool
}

// EventReport summarizes one run.
type EventReport struct {
	Upcoming    int
	AlreadySeen int
	Sent        int
	Overflow    int
	Marked      int
}

// Run fetches the feed, mails every upcoming event not yet in the seen-set
// (up to the cap) and records them. Any fetch or delivery failure aborts the
// run before the seen-set is written, so the next run retries the same events.
func (p Events) Run(ctx context.Context) (EventReport, error) {
	var report EventReport

	if p.Config == nil {
		return report, errors.New("events: config is nil")
	}
	if p.Fetcher == nil || p.Mailer == nil {
		return report, errors.New("events: fetcher and mailer are required")
	}
	cfg := p.Config

	loc, err := cfg.Location()
	if err != nil {
		return report, err
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	appLog.Info("events run started", "feed", fetch.RedactURL(cfg.FeedURL))

	body, err := p.Fetcher.Fetch(ctx, cfg.FeedURL)
	if err != nil {
		return report, fmt.Errorf("fetch feed: %w", err)
	}

	events := ics.Parse(body, ics.ParseOptions{
		Now:             nowOr(p.Now),
		Location:        loc,
		DefaultLocation: cfg.EventLocationFallback,
		DefaultLink:     cfg.EventLinkFallback,
	})
	report.Upcoming = len(events)

	seen := p.Store.Load()
	sel := notify.Select(events, seen, notify.Policy{
		Cap:              cfg.NotifyCap,
		MarkOverflowSeen: cfg.OverflowPolicy == config.OverflowMarkSeen,
	})
	report.AlreadySeen = sel.AlreadySeen
	report.Overflow = len(sel.Overflow)

	if len(sel.Overflow) > 0 {
		appLog.Info("notification cap reached",
			"cap", cfg.NotifyCap,
			"overflow", len(sel.Overflow),
			"policy", cfg.OverflowPolicy,
		)
	}

	for i, ev := range sel.Deliver {
		if i > 0 {
			if err := sleep(ctx, cfg.NotifyDelay); err != nil {
				return report, err
			}
		}

		n, err := notify.Render(ev, loc)
		if err != nil {
			return report, err
		}
		msg := mail.Message{
			To:      cfg.Recipient,
			Subject: n.Subject,
			Body:    n.HTML,
			HTML:    true,
		}
		if err := p.Mailer.Send(ctx, msg); err != nil {
			return report, fmt.Errorf("notify event %s: %w", ev.ID, err)
		}
		report.Sent++
	}

	for _, id := range sel.MarkSeen {
		if seen.Add(id) {
			report.Marked++
		}
	}

	if p.DryRun {
		appLog.Info("dry run: seen-set not saved", "path", p.Store.Path, "would_mark", report.Marked)
	} else if err := p.Store.Save(seen); err != nil {
		return report, &state.StateError{Path: p.Store.Path, Err: err}
	}

	appLog.Info("events run completed",
		"upcoming", report.Upcoming,
		"already_seen", report.AlreadySeen,
		"sent", report.Sent,
		"overflow", report.Overflow,
		"seen_total", seen.Len(),
	)
	return report, nil
}
