// Package preview renders an event notification to disk so the email
// template can be checked in a browser, optionally as a PNG screenshot.
package preview

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "calshift/internal/log"
	"calshift/internal/model"
	"calshift/internal/notify"
)

// Default screenshot parameters, roughly a desktop mail client pane.
const (
	DefaultWidth   = 800
	DefaultHeight  = 600
	DefaultTimeout = 30 * time.Second
)

// Options controls one preview.
type Options struct {
	// HTMLPath is where the rendered email body is written.
	HTMLPath string
	// PNGPath, if set, also captures a screenshot of HTMLPath.
	PNGPath string

	Width    int
	Height   int
	Timeout  time.Duration
	Location *time.Location
}

func (o *Options) setDefaults() {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Location == nil {
		o.Location = time.Local
	}
}

// Sample is the placeholder event used when the feed has no upcoming events.
func Sample(now time.Time, link string) model.Event {
	start := time.Date(now.Year(), now.Month(), now.Day()+7, 18, 0, 0, 0, now.Location())
	return model.Event{
		ID:              "preview@calshift",
		Title:           "Sample Event",
		Start:           start,
		Location:        "Main Hall",
		RegistrationURL: link,
	}
}

// Write renders ev to opts.HTMLPath and, when opts.PNGPath is set, captures it.
// It returns the rendered subject line.
func Write(ctx context.Context, ev model.Event, opts Options) (string, error) {
	if opts.HTMLPath == "" {
		return "", errors.New("preview: html path is required")
	}
	opts.setDefaults()

	n, err := notify.Render(ev, opts.Location)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(opts.HTMLPath, []byte(n.HTML), 0o644); err != nil {
		return "", fmt.Errorf("preview: write html: %w", err)
	}
	appLog.Info("preview written", "path", opts.HTMLPath, "subject", n.Subject)

	if opts.PNGPath == "" {
		return n.Subject, nil
	}
	if err := capturePNG(ctx, opts); err != nil {
		return n.Subject, err
	}
	appLog.Info("preview captured", "path", opts.PNGPath)
	return n.Subject, nil
}

// capturePNG opens HTMLPath in headless Chromium and screenshots the page.
func capturePNG(parentCtx context.Context, opts Options) error {
	abs, err := filepath.Abs(opts.HTMLPath)
	if err != nil {
		return fmt.Errorf("preview: resolve path: %w", err)
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate("file://" + filepath.ToSlash(abs)),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("preview: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.PNGPath, png, 0o644); err != nil {
		return fmt.Errorf("preview: write png: %w", err)
	}
	return nil
}
