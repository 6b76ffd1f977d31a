package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/konnektr-io/twx-cli/config"
)

// TestNewConfigCommand tests that the config command is created correctly.
func TestNewConfigCommand(t *testing.T) {
	cmd := NewConfigCommand(DefaultConfigDeps())

	if cmd == nil {
		t.Fatal("NewConfigCommand returned nil")
	}
	if cmd.Use != "config" {
		t.Errorf("Use = %v, want 'config'", cmd.Use)
	}

	found := map[string]bool{}
	for _, sub := range cmd.Commands() {
		found[sub.Name()] = true
	}
	for _, name := range []string{"show", "init", "set"} {
		if !found[name] {
			t.Errorf("%s subcommand should be registered", name)
		}
	}
}

func TestConfigShow(t *testing.T) {
	resetGlobalFlags(t)
	cfg := testConfig()
	cfg.Timeout = 45 * time.Second
	deps := &ConfigCommandDeps{
		LoadConfig: stubLoadConfig(cfg),
		SaveConfig: func(*config.CLIConfig) error { t.Fatal("show must not save"); return nil },
	}

	out, err := execute(t, NewConfigCommand(deps), "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "timeout: 45s") {
		t.Errorf("timeout should render as a duration string: %s", out)
	}
	if !strings.Contains(out, "current_connection: test") {
		t.Errorf("output missing current connection: %s", out)
	}
}

func TestConfigSet(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*config.CLIConfig) bool
	}{
		{"timeout", "90s", func(c *config.CLIConfig) bool { return c.Timeout == 90*time.Second }},
		{"output_format", "json", func(c *config.CLIConfig) bool { return c.OutputFormat == config.OutputFormatJSON }},
		{"display_names", "true", func(c *config.CLIConfig) bool { return c.DisplayNames }},
		{"debug", "true", func(c *config.CLIConfig) bool { return c.Debug }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			resetGlobalFlags(t)
			cfg := testConfig()
			saved := false
			deps := &ConfigCommandDeps{
				LoadConfig: stubLoadConfig(cfg),
				SaveConfig: func(*config.CLIConfig) error { saved = true; return nil },
			}

			_, err := execute(t, NewConfigCommand(deps), "set", tt.key, tt.value)
			if err != nil {
				t.Fatalf("config set failed: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("%s was not applied: %+v", tt.key, cfg)
			}
			if !saved {
				t.Error("config should be saved")
			}
		})
	}
}

func TestConfigSet_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "color", "blue"},
		{"bad duration", "timeout", "soon"},
		{"bad format", "output_format", "xml"},
		{"bad bool", "debug", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobalFlags(t)
			deps := &ConfigCommandDeps{
				LoadConfig: stubLoadConfig(testConfig()),
				SaveConfig: func(*config.CLIConfig) error { t.Fatal("must not save invalid config"); return nil },
			}

			_, err := execute(t, NewConfigCommand(deps), "set", tt.key, tt.value)
			if err == nil {
				t.Error("expected an error")
			}
		})
	}
}
