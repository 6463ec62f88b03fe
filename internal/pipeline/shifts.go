package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calshift/internal/config"
	"calshift/internal/fetch"
	appLog "calshift/internal/log"
	"calshift/internal/mail"
	"calshift/internal/model"
	"calshift/internal/payperiod"
	"calshift/internal/sheet"
	"calshift/internal/summary"
)

// Shifts is one run of the shift summary.
type Shifts struct {
	Config  *config.Config
	Fetcher Fetcher
	Mailer  mail.Mailer
	// Now defaults to time.Now.
	Now func() time.Time
}

// ShiftReport summarizes one run.
type ShiftReport struct {
	Period     model.Period
	Rows       int
	Lines      int
	Duplicates int
	Total      float64
}

// Run fetches the sheet, totals the shifts of the pay period containing
// today and mails one summary.
func (p Shifts) Run(ctx context.Context) (ShiftReport, error) {
	var report ShiftReport

	if p.Config == nil {
		return report, errors.New("shifts: config is nil")
	}
	if p.Fetcher == nil || p.Mailer == nil {
		return report, errors.New("shifts: fetcher and mailer are required")
	}
	cfg := p.Config

	loc, err := cfg.Location()
	if err != nil {
		return report, err
	}
	cal, err := calendar(cfg)
	if err != nil {
		return report, err
	}

	url := cfg.SheetExportURL()
	appLog.Info("shifts run started", "sheet", fetch.RedactURL(url))

	body, err := p.Fetcher.Fetch(ctx, url)
	if err != nil {
		return report, fmt.Errorf("fetch sheet: %w", err)
	}
	shifts := sheet.Parse(body)
	report.Rows = len(shifts)

	periods, err := cal.Upcoming(nowOr(p.Now).In(loc), 2)
	if err != nil {
		return report, err
	}
	current := periods[0]
	var next *model.Period
	if len(periods) > 1 {
		next = &periods[1]
	}

	res := summary.Aggregate(shifts, current)
	report.Period = current
	report.Lines = len(res.Lines)
	report.Duplicates = res.Duplicates
	report.Total = res.Total

	msg := summary.Compose(res, next)
	if err := p.Mailer.Send(ctx, mail.Message{
		To:      cfg.Recipient,
		Subject: msg.Subject,
		Body:    msg.Body,
	}); err != nil {
		return report, fmt.Errorf("send summary: %w", err)
	}

	appLog.Info("shifts run completed",
		"period", summary.FormatPeriod(current),
		"rows", report.Rows,
		"lines", report.Lines,
		"duplicates", report.Duplicates,
		"total", summary.FormatTotal(report.Total),
	)
	return report, nil
}

func calendar(cfg *config.Config) (payperiod.Calendar, error) {
	anchor, err := cfg.Anchor()
	if err != nil {
		return payperiod.Calendar{}, err
	}
	return payperiod.New(anchor, cfg.PayPeriodDays)
}

// Periods lists the n pay periods starting with the one containing now.
func Periods(cfg *config.Config, now time.Time, n int) ([]model.Period, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	cal, err := calendar(cfg)
	if err != nil {
		return nil, err
	}
	return cal.Upcoming(now.In(loc), n)
}
