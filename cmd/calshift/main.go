package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"calshift/internal/config"
	"calshift/internal/fetch"
	"calshift/internal/ics"
	appLog "calshift/internal/log"
	"calshift/internal/mail"
	"calshift/internal/pipeline"
	"calshift/internal/preview"
	"calshift/internal/schedule"
	"calshift/internal/state"
	"calshift/internal/summary"
	"calshift/internal/web"
)

const version = "1.0.0"

// globalOptions apply to every command.
type globalOptions struct {
	Config  string `long:"config" short:"c" description:"YAML config file; when unset, configuration comes from the environment"`
	EnvFile string `long:"env-file" default:".env" description:"Dotenv file loaded before reading the environment"`
	DryRun  bool   `long:"dry-run" description:"Log messages instead of sending them and leave state untouched"`
}

type app struct {
	Global globalOptions `group:"Global Options"`

	Events  eventsCommand  `command:"events" description:"Mail each new calendar event once"`
	Shifts  shiftsCommand  `command:"shifts" description:"Mail the hours summary for the current pay period"`
	Serve   serveCommand   `command:"serve" description:"Run both jobs on their cron schedules"`
	Periods periodsCommand `command:"periods" description:"Print the current and upcoming pay periods"`
	Preview previewCommand `command:"preview" description:"Render an event notification to HTML (and PNG)"`

	ctx context.Context
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a := &app{ctx: ctx}
	a.Events.app = a
	a.Shifts.app = a
	a.Serve.app = a
	a.Periods.app = a
	a.Preview.app = a

	parser := flags.NewParser(a, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Fprintln(os.Stdout, flagsErr.Message)
				return
			}
			fmt.Fprintln(os.Stderr, flagsErr.Message)
			os.Exit(2)
		}
		appLog.Error("command failed", err)
		fmt.Fprintln(os.Stderr, "calshift:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configured source and checks what need requires.
func (a *app) loadConfig(need config.Need) (*config.Config, error) {
	cfg, err := a.readConfig()
	if err != nil {
		return nil, err
	}
	if err := a.checkConfig(cfg, need); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfig reads the configured source and applies the log level.
func (a *app) readConfig() (*config.Config, error) {
	var src config.Source = config.EnvSource{DotEnv: a.Global.EnvFile}
	if a.Global.Config != "" {
		src = config.FileSource{Path: a.Global.Config}
	}

	cfg, err := src.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// checkConfig prompts for a missing mail password on a terminal and
// validates the options need requires.
func (a *app) checkConfig(cfg *config.Config, need config.Need) error {
	if a.Global.DryRun {
		need &^= config.NeedMail
	}
	if need&config.NeedMail != 0 && cfg.MailPassword == "" {
		if pw, ok := promptPassword(cfg.MailUsername); ok {
			cfg.MailPassword = pw
		}
	}

	if err := cfg.Validate(need); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLog.Info("effective config",
		"version", version,
		"feed", fetch.RedactURL(cfg.FeedURL),
		"sheet", fetch.RedactURL(cfg.SheetExportURL()),
		"timezone", cfg.Timezone,
		"state_path", cfg.StatePath,
		"notify_cap", cfg.NotifyCap,
		"overflow_policy", cfg.OverflowPolicy,
		"dry_run", a.Global.DryRun,
	)
	return nil
}

// promptPassword asks for the mail password when stdin is a terminal.
func promptPassword(user string) (string, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false
	}
	fmt.Fprintf(os.Stderr, "Mail password for %s: ", user)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		appLog.Error("password prompt failed", err)
		return "", false
	}
	return strings.TrimSpace(string(pw)), true
}

func (a *app) mailer(cfg *config.Config) (mail.Mailer, error) {
	if a.Global.DryRun {
		return mail.LogMailer{}, nil
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.MailHost,
		Port:     cfg.MailPort,
		Username: cfg.MailUsername,
		Password: cfg.MailPassword,
		From:     cfg.MailFrom,
	})
}

func feedFetcher(cfg *config.Config) *fetch.Fetcher {
	return fetch.NewFetcher(fetch.Options{
		Timeout:   cfg.HTTPTimeout,
		UserAgent: cfg.UserAgent,
		CacheDir:  cfg.CacheDir,
	})
}

func sheetFetcher(cfg *config.Config) *fetch.Fetcher {
	return fetch.NewFetcher(fetch.Options{
		Timeout:   cfg.HTTPTimeout,
		UserAgent: cfg.UserAgent,
		CacheDir:  cfg.CacheDir,
		Fallback:  cfg.SheetFallback,
	})
}

func (a *app) eventsJob(cfg *config.Config, m mail.Mailer) pipeline.Events {
	return pipeline.Events{
		Config:  cfg,
		Fetcher: feedFetcher(cfg),
		Mailer:  m,
		Store:   state.Store{Path: cfg.StatePath},
		DryRun:  a.Global.DryRun,
	}
}

func shiftsJob(cfg *config.Config, m mail.Mailer) pipeline.Shifts {
	return pipeline.Shifts{
		Config:  cfg,
		Fetcher: sheetFetcher(cfg),
		Mailer:  m,
	}
}

type eventsCommand struct {
	app *app
}

func (c *eventsCommand) Execute([]string) error {
	cfg, err := c.app.loadConfig(config.NeedMail | config.NeedFeed)
	if err != nil {
		return err
	}
	m, err := c.app.mailer(cfg)
	if err != nil {
		return err
	}
	_, err = c.app.eventsJob(cfg, m).Run(c.app.ctx)
	return err
}

type shiftsCommand struct {
	app *app
}

func (c *shiftsCommand) Execute([]string) error {
	cfg, err := c.app.loadConfig(config.NeedMail | config.NeedSheet)
	if err != nil {
		return err
	}
	m, err := c.app.mailer(cfg)
	if err != nil {
		return err
	}
	_, err = shiftsJob(cfg, m).Run(c.app.ctx)
	return err
}

type serveCommand struct {
	app *app
}

func (c *serveCommand) Execute([]string) error {
	cfg, err := c.app.readConfig()
	if err != nil {
		return err
	}
	// Only configured jobs are scheduled and validated.
	need := config.NeedMail
	if cfg.FeedURL != "" {
		need |= config.NeedFeed
	}
	if cfg.SheetExportURL() != "" {
		need |= config.NeedSheet
	}
	if need == config.NeedMail {
		return errors.New("serve: neither feed_url nor sheet_id/sheet_url is configured")
	}
	if err := c.app.checkConfig(cfg, need); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	// Each job gets its own mailer: the jobs may overlap and an SMTP client
	// holds one connection.
	var jobs []schedule.Job
	if need&config.NeedFeed != 0 {
		m, err := c.app.mailer(cfg)
		if err != nil {
			return err
		}
		events := c.app.eventsJob(cfg, m)
		jobs = append(jobs, schedule.Job{Name: "events", Spec: cfg.EventsCron, Run: func(ctx context.Context) error {
			_, err := events.Run(ctx)
			return err
		}})
	}
	if need&config.NeedSheet != 0 {
		m, err := c.app.mailer(cfg)
		if err != nil {
			return err
		}
		shifts := shiftsJob(cfg, m)
		jobs = append(jobs, schedule.Job{Name: "shifts", Spec: cfg.ShiftsCron, Run: func(ctx context.Context) error {
			_, err := shifts.Run(ctx)
			return err
		}})
	}

	s, err := schedule.New(loc, jobs...)
	if err != nil {
		return err
	}

	if cfg.Listen == "" {
		s.Run(c.app.ctx)
		return nil
	}

	ctx, cancel := context.WithCancel(c.app.ctx)
	defer cancel()
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- web.NewServer(cfg, s).Serve(ctx)
		// A dead status server takes the daemon down with it.
		cancel()
	}()

	s.Run(ctx)
	if err := <-srvErr; err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

type periodsCommand struct {
	Count int `long:"count" short:"n" default:"2" description:"Number of periods to print"`

	app *app
}

func (c *periodsCommand) Execute([]string) error {
	cfg, err := c.app.loadConfig(0)
	if err != nil {
		return err
	}
	periods, err := pipeline.Periods(cfg, time.Now(), c.Count)
	if err != nil {
		return err
	}
	for i, p := range periods {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Printf("%s %4d  %s\n", marker, p.Index, summary.FormatPeriod(p))
	}
	return nil
}

type previewCommand struct {
	Out string `long:"out" short:"o" default:"preview.html" description:"HTML output file"`
	PNG string `long:"png" description:"Also capture a PNG screenshot with headless Chromium"`

	app *app
}

func (c *previewCommand) Execute([]string) error {
	cfg, err := c.app.loadConfig(0)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	now := time.Now().In(loc)

	ev := preview.Sample(now, cfg.EventLinkFallback)
	if cfg.FeedURL != "" {
		body, err := feedFetcher(cfg).Fetch(c.app.ctx, cfg.FeedURL)
		if err != nil {
			appLog.Error("preview: feed unavailable, using sample event", err)
		} else if events := ics.Parse(body, ics.ParseOptions{
			Now:             now,
			Location:        loc,
			DefaultLocation: cfg.EventLocationFallback,
			DefaultLink:     cfg.EventLinkFallback,
		}); len(events) > 0 {
			ev = events[0]
		}
	}

	subject, err := preview.Write(c.app.ctx, ev, preview.Options{
		HTMLPath: c.Out,
		PNGPath:  c.PNG,
		Location: loc,
	})
	if err != nil {
		return err
	}
	fmt.Println(subject)
	return nil
}
