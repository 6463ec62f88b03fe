package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Overflow policies for events beyond the per-run notification cap.
const (
	// OverflowMarkSeen marks capped-out events as seen without mailing them.
	OverflowMarkSeen = "mark-seen"
	// OverflowDefer leaves capped-out events unseen so a later run mails them.
	OverflowDefer = "defer"
)

const (
	defaultTimezone       = "America/New_York"
	defaultAnchor         = "2025-11-29"
	defaultPeriodDays     = 14
	defaultNotifyCap      = 10
	defaultNotifyDelay    = 2 * time.Second
	defaultMailHost       = "smtp.gmail.com"
	defaultMailPort       = 587
	defaultStatePath      = "./seen-events.json"
	defaultCacheDir       = "./var/fetch-cache"
	defaultHTTPTimeout    = 15 * time.Second
	defaultUserAgent      = "calshift/1.0"
	defaultLocationText   = "Location TBD"
	defaultEventsCron     = "0 * * * *"
	defaultShiftsCron     = "0 18 * * 5"
	defaultLogLevel       = "info"
	sheetExportURLPattern = "https://docs.google.com/spreadsheets/d/%s/export?format=csv"
)

// Config is the explicit configuration handed to each pipeline run.
//
// Every field carries a yaml tag for the file source and long/env tags for
// the environment source (see source.go).
type Config struct {
	// Mail relay account.
	MailUsername string `yaml:"mail_username" long:"mail-username" env:"MAIL_USERNAME" description:"SMTP account user"`
	MailPassword string `yaml:"mail_password" long:"mail-password" env:"MAIL_PASSWORD" description:"SMTP account password or app password"`
	MailHost     string `yaml:"mail_host" long:"mail-host" env:"MAIL_HOST" description:"SMTP relay host"`
	MailPort     int    `yaml:"mail_port" long:"mail-port" env:"MAIL_PORT" description:"SMTP relay port (STARTTLS)"`
	// MailFrom defaults to MailUsername.
	MailFrom string `yaml:"mail_from" long:"mail-from" env:"MAIL_FROM" description:"Sender address"`
	// Recipient is the single fixed subscriber address.
	Recipient string `yaml:"recipient" long:"recipient" env:"RECIPIENT" description:"Recipient address"`

	// Event notifier.
	FeedURL               string        `yaml:"feed_url" long:"feed-url" env:"FEED_URL" description:"Public calendar (ICS) export URL"`
	StatePath             string        `yaml:"state_path" long:"state-path" env:"STATE_PATH" description:"Seen-set state file"`
	NotifyCap             int           `yaml:"notify_cap" long:"notify-cap" env:"NOTIFY_CAP" description:"Max notifications per run"`
	OverflowPolicy        string        `yaml:"overflow_policy" long:"overflow-policy" env:"OVERFLOW_POLICY" description:"mark-seen or defer"`
	NotifyDelay           time.Duration `yaml:"notify_delay" long:"notify-delay" env:"NOTIFY_DELAY" description:"Delay between consecutive notifications"`
	EventLinkFallback     string        `yaml:"event_link_fallback" long:"event-link-fallback" env:"EVENT_LINK_FALLBACK" description:"Link used when an event has no URL"`
	EventLocationFallback string        `yaml:"event_location_fallback" long:"event-location-fallback" env:"EVENT_LOCATION_FALLBACK" description:"Location used when an event has none"`

	// Shift summarizer.
	SheetID         string `yaml:"sheet_id" long:"sheet-id" env:"SHEET_ID" description:"Spreadsheet id for the CSV export"`
	SheetURL        string `yaml:"sheet_url" long:"sheet-url" env:"SHEET_URL" description:"Explicit CSV export URL (overrides sheet id)"`
	SheetFallback   bool   `yaml:"sheet_fallback" long:"sheet-fallback" env:"SHEET_FALLBACK" description:"Serve the last cached sheet when the fetch fails"`
	PayPeriodAnchor string `yaml:"pay_period_anchor" long:"pay-period-anchor" env:"PAY_PERIOD_ANCHOR" description:"First day of a reference pay period (YYYY-MM-DD)"`
	PayPeriodDays   int    `yaml:"pay_period_days" long:"pay-period-days" env:"PAY_PERIOD_DAYS" description:"Pay period length in days"`

	// Shared.
	Timezone    string        `yaml:"timezone" long:"timezone" env:"DISPLAY_TIMEZONE" description:"IANA zone for dates and times"`
	CacheDir    string        `yaml:"cache_dir" long:"cache-dir" env:"CACHE_DIR" description:"Fetch cache directory"`
	HTTPTimeout time.Duration `yaml:"http_timeout" long:"http-timeout" env:"HTTP_TIMEOUT" description:"HTTP fetch timeout"`
	UserAgent   string        `yaml:"user_agent" long:"user-agent" env:"USER_AGENT" description:"User agent for fetches"`
	LogLevel    string        `yaml:"log_level" long:"log-level" env:"LOG_LEVEL" description:"debug, info or error"`

	// Daemon mode schedules (cron syntax).
	EventsCron string `yaml:"events_cron" long:"events-cron" env:"EVENTS_CRON" description:"Cron spec for the event notifier"`
	ShiftsCron string `yaml:"shifts_cron" long:"shifts-cron" env:"SHIFTS_CRON" description:"Cron spec for the shift summary"`
	// Listen enables the daemon status server when non-empty, e.g. "127.0.0.1:8080".
	Listen string `yaml:"listen" long:"listen" env:"LISTEN" description:"Status server listen address (empty disables it)"`
	// BasicAuth protects everything but /health when both fields are set.
	BasicAuth BasicAuth `yaml:"basic_auth" group:"Status server auth" namespace:"status" env-namespace:"STATUS"`
}

// BasicAuth is the HTTP Basic credential for the status server. Read from
// STATUS_USERNAME and STATUS_PASSWORD in the environment.
type BasicAuth struct {
	Username string `yaml:"username" long:"username" env:"USERNAME" description:"Status server user"`
	Password string `yaml:"password" long:"password" env:"PASSWORD" description:"Status server password"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.MailHost == "" {
		c.MailHost = defaultMailHost
	}
	if c.MailPort <= 0 {
		c.MailPort = defaultMailPort
	}
	if c.MailFrom == "" {
		c.MailFrom = c.MailUsername
	}
	if c.StatePath == "" {
		c.StatePath = defaultStatePath
	}
	if c.NotifyCap <= 0 {
		c.NotifyCap = defaultNotifyCap
	}
	switch c.OverflowPolicy {
	case OverflowMarkSeen, OverflowDefer:
	default:
		c.OverflowPolicy = OverflowMarkSeen
	}
	if c.NotifyDelay <= 0 {
		c.NotifyDelay = defaultNotifyDelay
	}
	if c.EventLinkFallback == "" {
		c.EventLinkFallback = c.FeedURL
	}
	if c.EventLocationFallback == "" {
		c.EventLocationFallback = defaultLocationText
	}
	if c.PayPeriodAnchor == "" {
		c.PayPeriodAnchor = defaultAnchor
	}
	if c.PayPeriodDays <= 0 {
		c.PayPeriodDays = defaultPeriodDays
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.EventsCron == "" {
		c.EventsCron = defaultEventsCron
	}
	if c.ShiftsCron == "" {
		c.ShiftsCron = defaultShiftsCron
	}
}

// Location resolves the display timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Anchor parses PayPeriodAnchor as a calendar date (midnight UTC).
func (c *Config) Anchor() (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(c.PayPeriodAnchor))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid pay period anchor %q: %w", c.PayPeriodAnchor, err)
	}
	return t, nil
}

// SheetExportURL returns the CSV export URL for the shift sheet, or "".
func (c *Config) SheetExportURL() string {
	if c.SheetURL != "" {
		return c.SheetURL
	}
	if c.SheetID != "" {
		return fmt.Sprintf(sheetExportURLPattern, c.SheetID)
	}
	return ""
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600, since the file holds the
//     mail credential.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calshift-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// loadFile loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshaled into Config and normalized.
func loadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}
