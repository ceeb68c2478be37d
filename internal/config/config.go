package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure.
type Config struct {
	Storage    StorageConfig             `yaml:"storage"`
	API        APIConfig                 `yaml:"api"`
	Metrics    MetricsConfig             `yaml:"metrics"`
	Logging    LoggingConfig             `yaml:"logging"`
	RateLimit  RateLimitConfig           `yaml:"rate_limit"`
	Drip       DripConfig                `yaml:"drip"`
	Escalation EscalationConfig          `yaml:"escalation"`
	Channels   ChannelsConfig            `yaml:"channels"`
	Templates  map[string]TemplateConfig `yaml:"templates,omitempty"`
}

// Duration wraps time.Duration so YAML scalars parse through
// time.ParseDuration: "30m", "48h", or a bare 0 for zero offsets.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StorageConfig contains document store settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig contains admin API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	APIKey     string `yaml:"api_key,omitempty"` // env OUTREACHD_API_KEY overrides
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RateLimitConfig contains the per-owner dispatch ceiling.
type RateLimitConfig struct {
	Ceiling int      `yaml:"ceiling"`
	Window  Duration `yaml:"window"`
}

// StepConfig is one step-definition registry entry.
type StepConfig struct {
	Key      string   `yaml:"key"`
	Offset   Duration `yaml:"offset"`
	Template string   `yaml:"template"`
}

// DripConfig contains the drip batch settings.
type DripConfig struct {
	Interval Duration     `yaml:"interval"` // cadence of the periodic trigger
	Steps    []StepConfig `yaml:"steps,omitempty"`
}

// EscalationConfig contains the escalation batch settings.
type EscalationConfig struct {
	Interval      Duration `yaml:"interval"`
	FollowUpDelay Duration `yaml:"follow_up_delay"` // default eligibility window for new records
	Template      string   `yaml:"template"`
}

// ChannelsConfig contains the outbound channel settings.
type ChannelsConfig struct {
	Email    EmailChannelConfig    `yaml:"email"`
	WhatsApp WhatsAppChannelConfig `yaml:"whatsapp"`
}

// EmailChannelConfig configures the SMTP submission relay.
type EmailChannelConfig struct {
	Addr     string   `yaml:"addr"`
	From     string   `yaml:"from"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"` // env OUTREACHD_SMTP_PASSWORD overrides
	StartTLS bool     `yaml:"starttls"`
	Timeout  Duration `yaml:"timeout"`
}

// WhatsAppChannelConfig configures the messaging gateway.
type WhatsAppChannelConfig struct {
	BaseURL string   `yaml:"base_url"`
	Token   string   `yaml:"token,omitempty"` // env OUTREACHD_WHATSAPP_TOKEN overrides
	Timeout Duration `yaml:"timeout"`
}

// TemplateConfig is one configurable message template.
type TemplateConfig struct {
	Subject string `yaml:"subject,omitempty"`
	Text    string `yaml:"text,omitempty"`
	HTML    string `yaml:"html,omitempty"`
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a runnable configuration without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.applyEnv()
	return cfg
}

// setDefaults sets default values for configuration.
func (c *Config) setDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/outreachd.db"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.RateLimit.Ceiling == 0 {
		c.RateLimit.Ceiling = 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = Duration(time.Hour)
	}
	if c.Drip.Interval == 0 {
		c.Drip.Interval = Duration(5 * time.Minute)
	}
	if len(c.Drip.Steps) == 0 {
		c.Drip.Steps = []StepConfig{
			{Key: "day_0", Offset: 0, Template: "initial_invite"},
			{Key: "day_2", Offset: Duration(2 * 24 * time.Hour), Template: "reminder_1"},
			{Key: "day_5", Offset: Duration(5 * 24 * time.Hour), Template: "reminder_2"},
			{Key: "day_10", Offset: Duration(10 * 24 * time.Hour), Template: "final_nudge"},
		}
	}
	if c.Escalation.Interval == 0 {
		c.Escalation.Interval = Duration(15 * time.Minute)
	}
	if c.Escalation.FollowUpDelay == 0 {
		c.Escalation.FollowUpDelay = Duration(24 * time.Hour)
	}
	if c.Escalation.Template == "" {
		c.Escalation.Template = "whatsapp_follow_up"
	}
	if c.Channels.Email.Addr == "" {
		c.Channels.Email.Addr = "localhost:587"
	}
	if c.Channels.Email.Timeout == 0 {
		c.Channels.Email.Timeout = Duration(30 * time.Second)
	}
	if c.Channels.WhatsApp.Timeout == 0 {
		c.Channels.WhatsApp.Timeout = Duration(15 * time.Second)
	}
}

// applyEnv overrides secrets from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("OUTREACHD_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("OUTREACHD_SMTP_PASSWORD"); v != "" {
		c.Channels.Email.Password = v
	}
	if v := os.Getenv("OUTREACHD_WHATSAPP_TOKEN"); v != "" {
		c.Channels.WhatsApp.Token = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	if c.RateLimit.Ceiling < 0 {
		return fmt.Errorf("rate_limit.ceiling must not be negative")
	}
	if c.RateLimit.Window < 0 {
		return fmt.Errorf("rate_limit.window must not be negative")
	}

	seen := make(map[string]bool, len(c.Drip.Steps))
	var prev Duration
	for i, step := range c.Drip.Steps {
		if step.Key == "" {
			return fmt.Errorf("drip.steps[%d]: key is required", i)
		}
		if step.Template == "" {
			return fmt.Errorf("drip.steps[%d]: template is required", i)
		}
		if seen[step.Key] {
			return fmt.Errorf("drip.steps[%d]: duplicate key %q", i, step.Key)
		}
		seen[step.Key] = true
		if step.Offset < 0 {
			return fmt.Errorf("drip.steps[%d]: negative offset", i)
		}
		if step.Offset < prev {
			return fmt.Errorf("drip.steps[%d]: offsets must be non-decreasing", i)
		}
		prev = step.Offset
	}

	if c.Channels.Email.From == "" {
		return fmt.Errorf("channels.email.from is required")
	}

	return nil
}
