package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/konnektr-io/twx-cli/config"
)

// ConfigCommandDeps holds the dependencies for config commands.
type ConfigCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	SaveConfig func(*config.CLIConfig) error
}

// DefaultConfigDeps returns the default dependencies for production use.
func DefaultConfigDeps() *ConfigCommandDeps {
	return &ConfigCommandDeps{
		LoadConfig: config.LoadConfig,
		SaveConfig: config.SaveConfig,
	}
}

// NewConfigCommand creates the config command with its subcommands.
func NewConfigCommand(deps *ConfigCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultConfigDeps()
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration file",
		Long: `Show and edit the configuration file (~/.twx/config.yaml, or
$TWX_CONFIG_DIR/config.yaml).

Settable keys: timeout, output_format, display_names, debug.

Examples:
  twx config init
  twx config show
  twx config set timeout 45s
  twx config set output_format json`,
	}

	cmd.AddCommand(newConfigShowCommand(deps))
	cmd.AddCommand(newConfigInitCommand(deps))
	cmd.AddCommand(newConfigSetCommand(deps))

	return cmd
}

func newConfigShowCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			// Durations render as strings, matching the file syntax.
			view := struct {
				Connections       []config.Connection  `yaml:"connections,omitempty"`
				CurrentConnection string               `yaml:"current_connection,omitempty"`
				Timeout           string               `yaml:"timeout"`
				OutputFormat      config.OutputFormat  `yaml:"output_format"`
				DisplayNames      bool                 `yaml:"display_names"`
				Debug             bool                 `yaml:"debug"`
				History           config.HistoryConfig `yaml:"history,omitempty"`
				Server            config.ServerConfig  `yaml:"server,omitempty"`
			}{
				Connections:       cfg.Connections,
				CurrentConnection: cfg.CurrentConnection,
				Timeout:           cfg.Timeout.String(),
				OutputFormat:      cfg.OutputFormat,
				DisplayNames:      cfg.DisplayNames,
				Debug:             cfg.Debug,
				History:           cfg.History,
				Server:            cfg.Server,
			}
			data, err := yaml.Marshal(view)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigInitCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.EnsureConfigDir(); err != nil {
				return err
			}
			if err := deps.SaveConfig(config.DefaultConfig()); err != nil {
				return err
			}
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
}

func newConfigSetCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if err := applyConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := deps.SaveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func applyConfigValue(cfg *config.CLIConfig, key, value string) error {
	switch key {
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.Timeout = d
	case "output_format":
		cfg.OutputFormat = config.OutputFormat(value)
	case "display_names":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing display_names: %w", err)
		}
		cfg.DisplayNames = b
	case "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing debug: %w", err)
		}
		cfg.Debug = b
	default:
		return fmt.Errorf("unknown config key %q (settable: timeout, output_format, display_names, debug)", key)
	}
	return nil
}
