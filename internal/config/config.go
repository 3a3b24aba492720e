package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"mailtriage/internal/models"
)

// Error marks a configuration failure. Config errors are fatal and
// must abort the run before any I/O happens.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func errf(field, format string, args ...interface{}) error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Load reads the configuration from the specified YAML file, applies
// defaults and validates it. Unknown keys are rejected.
func Load(path string) (*models.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errf("", "reading %s: %v", path, err)
	}

	var cfg models.Config
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, errf("", "parsing %s: %v", path, err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *models.Config) {
	for i := range cfg.Accounts {
		if len(cfg.Accounts[i].IMAP.Folders) == 0 {
			cfg.Accounts[i].IMAP.Folders = []string{"INBOX"}
		}
	}
	if cfg.Watch.IngestLookbackDays == 0 {
		cfg.Watch.IngestLookbackDays = 7
	}
	for i := range cfg.Watch.Unreplied.Rules {
		r := &cfg.Watch.Unreplied.Rules[i]
		if r.UnrepliedAfterMinutes == 0 {
			r.UnrepliedAfterMinutes = 60
		}
		if r.LookbackDays == 0 {
			r.LookbackDays = 14
		}
		if r.NotifyCooldownMinutes == 0 {
			r.NotifyCooldownMinutes = 60
		}
	}
}

// Validate checks every field the pipeline depends on and names the
// offending field in the returned error.
func Validate(cfg *models.Config) error {
	if cfg.Output.Root == "" {
		return errf("output.root", "required")
	}
	if !filepath.IsAbs(cfg.Output.Root) {
		return errf("output.root", "must be an absolute path, got %q", cfg.Output.Root)
	}

	if cfg.Time.Timezone == "" {
		return errf("time.timezone", "required")
	}
	if _, err := time.LoadLocation(cfg.Time.Timezone); err != nil {
		return errf("time.timezone", "unknown timezone %q", cfg.Time.Timezone)
	}
	if _, _, err := ParseWorkdayStart(cfg.Time.WorkdayStart); err != nil {
		return errf("time.workday_start", "%v", err)
	}

	if len(cfg.Accounts) == 0 {
		return errf("accounts", "at least one account is required")
	}
	seen := make(map[string]bool)
	for i, a := range cfg.Accounts {
		field := fmt.Sprintf("accounts[%d]", i)
		if a.ID == "" {
			return errf(field+".id", "required")
		}
		if seen[a.ID] {
			return errf(field+".id", "duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
		if a.IMAP.Host == "" {
			return errf(field+".imap.host", "required")
		}
		if a.IMAP.Port <= 0 || a.IMAP.Port > 65535 {
			return errf(field+".imap.port", "invalid port %d", a.IMAP.Port)
		}
		if !a.IMAP.SSL {
			return errf(field+".imap.ssl", "IMAP without SSL is not allowed")
		}
		if a.Identity.PrimaryAddress == "" {
			return errf(field+".identity.primary_address", "required")
		}
		if a.Secrets.Provider == "" {
			return errf(field+".secrets.provider", "required")
		}
		if a.Secrets.Reference == "" {
			return errf(field+".secrets.reference", "required")
		}
	}

	for i, r := range cfg.Watch.Unreplied.Rules {
		if r.ID == "" {
			return errf(fmt.Sprintf("watch.unreplied.rules[%d].id", i), "required")
		}
	}

	return nil
}

// ParseWorkdayStart parses an HH:MM time-of-day string.
func ParseWorkdayStart(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("workday_start must be HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
