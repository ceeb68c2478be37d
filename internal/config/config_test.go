package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
channels:
  email:
    from: outreach@example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("expected default api listen addr, got %q", cfg.API.ListenAddr)
	}
	if cfg.RateLimit.Ceiling != 10 || cfg.RateLimit.Window.Std() != time.Hour {
		t.Errorf("expected default rate limit 10/hour, got %d/%v", cfg.RateLimit.Ceiling, cfg.RateLimit.Window.Std())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Escalation.Template != "whatsapp_follow_up" {
		t.Errorf("unexpected escalation template %q", cfg.Escalation.Template)
	}

	wantSteps := []struct {
		key    string
		offset time.Duration
	}{
		{"day_0", 0},
		{"day_2", 2 * 24 * time.Hour},
		{"day_5", 5 * 24 * time.Hour},
		{"day_10", 10 * 24 * time.Hour},
	}
	if len(cfg.Drip.Steps) != len(wantSteps) {
		t.Fatalf("expected %d default steps, got %d", len(wantSteps), len(cfg.Drip.Steps))
	}
	for i, want := range wantSteps {
		if cfg.Drip.Steps[i].Key != want.key || cfg.Drip.Steps[i].Offset.Std() != want.offset {
			t.Errorf("step %d: expected %s at %v, got %s at %v",
				i, want.key, want.offset, cfg.Drip.Steps[i].Key, cfg.Drip.Steps[i].Offset.Std())
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /var/lib/outreachd/data.db
api:
  listen_addr: ":9999"
rate_limit:
  ceiling: 5
  window: 30m
drip:
  steps:
    - key: first
      offset: 0
      template: initial_invite
    - key: second
      offset: 24h
      template: reminder_1
channels:
  email:
    from: outreach@example.com
    addr: smtp.example.com:587
    starttls: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Path != "/var/lib/outreachd/data.db" {
		t.Errorf("unexpected storage path %q", cfg.Storage.Path)
	}
	if cfg.API.ListenAddr != ":9999" {
		t.Errorf("unexpected api listen addr %q", cfg.API.ListenAddr)
	}
	if cfg.RateLimit.Ceiling != 5 || cfg.RateLimit.Window.Std() != 30*time.Minute {
		t.Errorf("unexpected rate limit %d/%v", cfg.RateLimit.Ceiling, cfg.RateLimit.Window.Std())
	}
	if len(cfg.Drip.Steps) != 2 || cfg.Drip.Steps[0].Offset.Std() != 0 || cfg.Drip.Steps[1].Offset.Std() != 24*time.Hour {
		t.Errorf("unexpected steps %+v", cfg.Drip.Steps)
	}
	if !cfg.Channels.Email.StartTLS {
		t.Error("expected starttls enabled")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OUTREACHD_API_KEY", "env-key")
	t.Setenv("OUTREACHD_SMTP_PASSWORD", "env-pass")
	t.Setenv("OUTREACHD_WHATSAPP_TOKEN", "env-token")

	path := writeConfig(t, `
api:
  api_key: file-key
channels:
  email:
    from: outreach@example.com
    password: file-pass
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.APIKey != "env-key" {
		t.Errorf("expected env api key to win, got %q", cfg.API.APIKey)
	}
	if cfg.Channels.Email.Password != "env-pass" {
		t.Errorf("expected env smtp password to win, got %q", cfg.Channels.Email.Password)
	}
	if cfg.Channels.WhatsApp.Token != "env-token" {
		t.Errorf("expected env whatsapp token, got %q", cfg.Channels.WhatsApp.Token)
	}
}

func TestLoadDurationScalars(t *testing.T) {
	// Zero offsets may be written as a bare 0; everything else needs a unit.
	path := writeConfig(t, `
drip:
  steps:
    - key: day_0
      offset: 0
      template: initial_invite
    - key: day_2
      offset: 48h
      template: reminder_1
channels:
  email:
    from: outreach@example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Drip.Steps[0].Offset.Std() != 0 {
		t.Errorf("expected zero offset, got %v", cfg.Drip.Steps[0].Offset.Std())
	}
	if cfg.Drip.Steps[1].Offset.Std() != 48*time.Hour {
		t.Errorf("expected 48h offset, got %v", cfg.Drip.Steps[1].Offset.Std())
	}

	// A unitless non-zero number is ambiguous and must be rejected.
	path = writeConfig(t, `
rate_limit:
  window: 30
channels:
  email:
    from: outreach@example.com
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unitless duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative ceiling", func(c *Config) { c.RateLimit.Ceiling = -1 }},
		{"step missing key", func(c *Config) { c.Drip.Steps[0].Key = "" }},
		{"step missing template", func(c *Config) { c.Drip.Steps[0].Template = "" }},
		{"duplicate step key", func(c *Config) { c.Drip.Steps[1].Key = c.Drip.Steps[0].Key }},
		{"negative offset", func(c *Config) { c.Drip.Steps[1].Offset = Duration(-time.Hour) }},
		{"decreasing offsets", func(c *Config) { c.Drip.Steps[2].Offset = Duration(time.Hour) }},
		{"missing from address", func(c *Config) { c.Channels.Email.From = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Channels.Email.From = "outreach@example.com"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Channels.Email.From = "outreach@example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}
