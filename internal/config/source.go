package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Source produces a normalized Config. The caller picks the source; the
// pipelines never read the environment themselves.
type Source interface {
	Load() (*Config, error)
}

// FileSource reads a YAML config file, creating it with defaults on first run.
type FileSource struct {
	Path string
}

func (s FileSource) Load() (*Config, error) {
	return loadFile(s.Path)
}

// EnvSource reads the environment, optionally seeded from a .env file.
// Variables already present in the environment win over the .env file.
type EnvSource struct {
	DotEnv string
}

func (s EnvSource) Load() (*Config, error) {
	if s.DotEnv != "" {
		if err := godotenv.Load(s.DotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", s.DotEnv, err)
		}
	}

	var cfg Config
	// No arguments: go-flags only applies the env tags.
	parser := flags.NewParser(&cfg, flags.None)
	if _, err := parser.ParseArgs(nil); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Need selects which parts of the config a command requires.
type Need int

const (
	NeedMail Need = 1 << iota
	NeedFeed
	NeedSheet
)

// Validate checks the options required by need and the shared options.
// All problems are reported together.
func (c *Config) Validate(need Need) error {
	var errs []error

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	if need&NeedMail != 0 {
		if c.MailUsername == "" {
			errs = append(errs, errors.New("mail username is required"))
		}
		if c.MailPassword == "" {
			errs = append(errs, errors.New("mail password is required"))
		}
		if err := checkAddress("sender", c.MailFrom); err != nil {
			errs = append(errs, err)
		}
		if err := checkAddress("recipient", c.Recipient); err != nil {
			errs = append(errs, err)
		}
	}

	if need&NeedFeed != 0 && c.FeedURL == "" {
		errs = append(errs, errors.New("feed url is required"))
	}

	if need&NeedSheet != 0 {
		if c.SheetExportURL() == "" {
			errs = append(errs, errors.New("sheet id or sheet url is required"))
		}
		if _, err := c.Anchor(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func checkAddress(role, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%s address is required", role)
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("invalid %s address %q: %w", role, addr, err)
	}
	return nil
}
