// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from config.yaml.
// Credentials may also be supplied via SB_* environment variables, which take
// precedence over file values.
type Config struct {
	Chat      ChatConfig      `yaml:"chat"`
	Helpdesk  HelpdeskConfig  `yaml:"helpdesk"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Digest    DigestConfig    `yaml:"digest"`
}

// ChatConfig selects and configures the chat platform adapter.
type ChatConfig struct {
	Platform      string `yaml:"platform" ignored:"true"` // "slack" or "discord"
	BotToken      string `yaml:"bot_token" envconfig:"SB_CHAT_BOT_TOKEN"`
	AppToken      string `yaml:"app_token" envconfig:"SB_CHAT_APP_TOKEN"` // Slack Socket Mode only
	AlertChannel  string `yaml:"alert_channel" ignored:"true"`
	LeadsChannel  string `yaml:"leads_channel" ignored:"true"`
	StatusChannel string `yaml:"status_channel" ignored:"true"` // online/offline notices; defaults to alert_channel
}

// HelpdeskConfig holds Zendesk API connection settings.
type HelpdeskConfig struct {
	Subdomain string `yaml:"subdomain" ignored:"true"`
	Email     string `yaml:"email" ignored:"true"`
	APIToken  string `yaml:"api_token" envconfig:"SB_HELPDESK_TOKEN"`
}

// KnowledgeConfig holds Guru knowledge base API settings.
type KnowledgeConfig struct {
	Email    string `yaml:"email" ignored:"true"`
	APIToken string `yaml:"api_token" envconfig:"SB_KNOWLEDGE_TOKEN"`
}

// MonitorConfig controls the status polling loop.
type MonitorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	AlertThreshold time.Duration `yaml:"alert_threshold"`
	ExcludedAgents []string      `yaml:"excluded_agents"`
}

// monitorYAML mirrors MonitorConfig with durations as strings ("60s", "10m").
type monitorYAML struct {
	PollInterval   string   `yaml:"poll_interval,omitempty"`
	AlertThreshold string   `yaml:"alert_threshold,omitempty"`
	ExcludedAgents []string `yaml:"excluded_agents,omitempty"`
}

// UnmarshalYAML parses duration fields from strings like "60s" or "10m".
func (m *MonitorConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw monitorYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("monitor.poll_interval: %w", err)
		}
		m.PollInterval = d
	}
	if raw.AlertThreshold != "" {
		d, err := time.ParseDuration(raw.AlertThreshold)
		if err != nil {
			return fmt.Errorf("monitor.alert_threshold: %w", err)
		}
		m.AlertThreshold = d
	}
	m.ExcludedAgents = raw.ExcludedAgents
	return nil
}

// MarshalYAML renders duration fields as strings so a written config
// round-trips through UnmarshalYAML.
func (m MonitorConfig) MarshalYAML() (interface{}, error) {
	out := monitorYAML{ExcludedAgents: m.ExcludedAgents}
	if m.PollInterval != 0 {
		out.PollInterval = m.PollInterval.String()
	}
	if m.AlertThreshold != 0 {
		out.AlertThreshold = m.AlertThreshold.String()
	}
	return out, nil
}

// LedgerConfig holds connection settings for the interaction ledger database.
type LedgerConfig struct {
	Driver string `yaml:"driver" ignored:"true"` // "sqlite" or "mysql"
	DSN    string `yaml:"dsn" envconfig:"SB_LEDGER_DSN"`
}

// DashboardConfig controls the embedded status dashboard.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DigestConfig controls the daily summary post.
type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression
}

// Load reads a YAML config file from path and returns a validated Config.
// Environment overrides are applied after the file is parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML bytes into a Config with defaults applied.
// Validation is left to Load so tests can build partial configs.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv overlays SB_* environment variables onto credential fields.
func (c *Config) applyEnv() error {
	for _, target := range []interface{}{&c.Chat, &c.Helpdesk, &c.Knowledge, &c.Ledger} {
		if err := envconfig.Process("", target); err != nil {
			return fmt.Errorf("config: env overrides: %w", err)
		}
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Chat.Platform == "" {
		c.Chat.Platform = "slack"
	}
	if c.Chat.StatusChannel == "" {
		c.Chat.StatusChannel = c.Chat.AlertChannel
	}
	if c.Monitor.PollInterval == 0 {
		c.Monitor.PollInterval = 60 * time.Second
	}
	if c.Monitor.AlertThreshold == 0 {
		c.Monitor.AlertThreshold = 10 * time.Minute
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "sqlite"
	}
	if c.Ledger.DSN == "" && c.Ledger.Driver == "sqlite" {
		c.Ledger.DSN = "switchboard.db"
	}
	if c.Dashboard.Listen == "" {
		c.Dashboard.Listen = ":8080"
	}
	if c.Digest.Schedule == "" {
		c.Digest.Schedule = "0 9 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Chat.Platform {
	case "slack":
		if c.Chat.BotToken == "" {
			errs = append(errs, "chat.bot_token is required")
		}
		if c.Chat.AppToken == "" {
			errs = append(errs, "chat.app_token is required for slack")
		}
	case "discord":
		if c.Chat.BotToken == "" {
			errs = append(errs, "chat.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not supported (slack, discord)", c.Chat.Platform))
	}
	if c.Chat.AlertChannel == "" {
		errs = append(errs, "chat.alert_channel is required")
	}
	if c.Chat.LeadsChannel == "" {
		errs = append(errs, "chat.leads_channel is required")
	}
	if c.Helpdesk.Subdomain == "" {
		errs = append(errs, "helpdesk.subdomain is required")
	}
	if c.Helpdesk.Email == "" {
		errs = append(errs, "helpdesk.email is required")
	}
	if c.Helpdesk.APIToken == "" {
		errs = append(errs, "helpdesk.api_token is required")
	}
	if c.Monitor.PollInterval < time.Second {
		errs = append(errs, "monitor.poll_interval must be at least 1s")
	}
	if c.Monitor.AlertThreshold < c.Monitor.PollInterval {
		errs = append(errs, "monitor.alert_threshold must be >= monitor.poll_interval")
	}
	switch c.Ledger.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("ledger.driver %q is not supported (sqlite, mysql)", c.Ledger.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsExcluded reports whether an agent name is on the exclusion list.
// Matching is case-insensitive.
func (c *MonitorConfig) IsExcluded(agentName string) bool {
	for _, name := range c.ExcludedAgents {
		if strings.EqualFold(name, agentName) {
			return true
		}
	}
	return false
}
