// Package cmd provides CLI commands for the twx tool.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/konnektr-io/twx-cli/client"
	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/credentials"
	"github.com/konnektr-io/twx-cli/pkg/logging"
)

// Global flag values bound by the root command.
var (
	// ConnectionName is the --connection/-c override; empty means the
	// configured current connection.
	ConnectionName string

	// OutputOverride is the --output/-o override; empty means the
	// configured default format.
	OutputOverride string

	// DebugOverride is the --debug flag.
	DebugOverride bool
)

// BackendOpener resolves a connection and opens a backend for it.
type BackendOpener func(ctx context.Context, cfg *config.CLIConfig, connection string) (client.Backend, *config.Connection, error)

// defaultOpenBackend resolves the connection, pulls its secret from the
// credential store, and opens the matching adapter. ADT connections
// require a stored bearer token; age and neo4j connections may carry
// their credentials in the endpoint itself, so a missing secret is fine.
func defaultOpenBackend(ctx context.Context, cfg *config.CLIConfig, connection string) (client.Backend, *config.Connection, error) {
	conn, err := cfg.Connection(connection)
	if err != nil {
		return nil, nil, err
	}

	secret := ""
	store, err := credentials.NewStore()
	if err != nil {
		return nil, nil, fmt.Errorf("opening credential store: %w", err)
	}
	sec, err := store.Get(conn.Name)
	switch {
	case err == nil:
		secret = sec.Token
	case errors.Is(err, credentials.ErrNoCredentials):
		if conn.Kind == config.KindADT {
			return nil, nil, fmt.Errorf("no credentials stored for connection %q: run 'twx auth login'", conn.Name)
		}
	case errors.Is(err, credentials.ErrExpiredToken):
		return nil, nil, fmt.Errorf("token for connection %q has expired: run 'twx auth login'", conn.Name)
	default:
		return nil, nil, fmt.Errorf("reading credentials for %q: %w", conn.Name, err)
	}

	backend, err := client.Open(ctx, conn, secret, commandLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return backend, conn, nil
}

// commandLogger builds the CLI logger: console output on stderr, debug
// level when requested.
func commandLogger(cfg *config.CLIConfig) logging.Logger {
	level := logging.LevelWarn
	if cfg != nil && (cfg.Debug || DebugOverride) {
		level = logging.LevelDebug
	}
	return logging.NewLogger(&logging.Config{
		Level:     level,
		Component: "cli",
	})
}

// outputFormat resolves the effective output format for a command run.
func outputFormat(cfg *config.CLIConfig) (config.OutputFormat, error) {
	format := cfg.OutputFormat
	if OutputOverride != "" {
		format = config.OutputFormat(OutputOverride)
	}
	if !format.IsValid() {
		return "", fmt.Errorf("invalid output format %q (must be table, json, or csv)", format)
	}
	return format, nil
}
