package models

// Config represents the application configuration.
type Config struct {
	Output   OutputConfig    `yaml:"output"`
	Time     TimeConfig      `yaml:"time"`
	Accounts []AccountConfig `yaml:"accounts"`
	Rules    RulesConfig     `yaml:"rules"`
	Watch    WatchConfig     `yaml:"watch"`
}

// OutputConfig locates the report tree; Root must be absolute.
type OutputConfig struct {
	Root string `yaml:"root"`
}

// TimeConfig fixes the reporting timezone and the workday boundary.
type TimeConfig struct {
	Timezone     string `yaml:"timezone"`
	WorkdayStart string `yaml:"workday_start"` // HH:MM
}

// AccountConfig describes one IMAP mailbox to triage.
type AccountConfig struct {
	ID       string         `yaml:"id"`
	IMAP     IMAPConfig     `yaml:"imap"`
	Identity IdentityConfig `yaml:"identity"`
	Secrets  SecretsConfig  `yaml:"secrets"`
}

// IMAPConfig represents IMAP connection settings for an account.
type IMAPConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	SSL     bool     `yaml:"ssl"`
	Folders []string `yaml:"folders"`
}

// IdentityConfig lists the addresses considered "mine" when deciding
// whether a message is inbound or outbound.
type IdentityConfig struct {
	PrimaryAddress string   `yaml:"primary_address"`
	Aliases        []string `yaml:"aliases"`
}

// SecretsConfig names the credential provider and the reference to
// resolve with it.
type SecretsConfig struct {
	Provider  string `yaml:"provider"`
	Reference string `yaml:"reference"`
}

// RulesConfig is the classification rule set. Patterns match
// case-insensitively as substrings; a pattern written /like-this/ is
// treated as a case-insensitive regular expression instead.
type RulesConfig struct {
	HighPrioritySenders []string     `yaml:"high_priority_senders"`
	CollapseAutomated   *bool        `yaml:"collapse_automated"`
	Suppress            PatternRules `yaml:"suppress"`
	ArrivalOnly         PatternRules `yaml:"arrival_only"`
}

// PatternRules holds sender and subject pattern lists for one bucket.
type PatternRules struct {
	Senders  []string `yaml:"senders"`
	Subjects []string `yaml:"subjects"`
}

// CollapseAutomatedEnabled defaults to true when the key is absent.
func (r RulesConfig) CollapseAutomatedEnabled() bool {
	return r.CollapseAutomated == nil || *r.CollapseAutomated
}

// WatchConfig controls the notification-only watch command.
type WatchConfig struct {
	IngestLookbackDays int                  `yaml:"ingest_lookback_days"`
	Unreplied          UnrepliedWatchConfig `yaml:"unreplied"`
}

// UnrepliedWatchConfig enables unreplied-thread alerts.
type UnrepliedWatchConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Rules   []UnrepliedRuleConfig `yaml:"rules"`
}

// UnrepliedRuleConfig is one alert rule: threads whose newest message
// is inbound mail to one of TargetAddresses and older than the SLA.
type UnrepliedRuleConfig struct {
	ID                    string   `yaml:"id"`
	TargetAddresses       []string `yaml:"target_addresses"`
	UnrepliedAfterMinutes int      `yaml:"unreplied_after_minutes"`
	LookbackDays          int      `yaml:"lookback_days"`
	NotifyCooldownMinutes int      `yaml:"notify_cooldown_minutes"`
}
