package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/pkg/logging"
	"github.com/konnektr-io/twx-cli/server"
)

// Serve command flags.
var (
	serveAddr    string
	serveOrigins string
)

// ServeCommandDeps holds the dependencies for the serve command.
type ServeCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
}

// DefaultServeDeps returns the default dependencies for production use.
func DefaultServeDeps() *ServeCommandDeps {
	return &ServeCommandDeps{
		LoadConfig: config.LoadConfig,
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(deps *ServeCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultServeDeps()
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP proxy for the browser frontend",
		Long: `Run the HTTP proxy the browser frontend talks to.

The proxy forwards /api/proxy/* requests to the twin store named by the
x-adt-host header, relays /api/ktrlplane/* to the configured control
plane, and exposes /healthz, /version, and Prometheus /metrics. A Redis
response cache for proxied GET requests is enabled when server.redis_addr
is configured.

Examples:
  twx serve
  twx serve --addr :9000
  twx serve --origins https://app.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, deps)
		},
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&serveOrigins, "origins", "", "Comma-separated allowed CORS origins (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, deps *ServeCommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return err
	}

	serverCfg := cfg.Server
	if serveAddr != "" {
		serverCfg.Addr = serveAddr
	}
	if serveOrigins != "" {
		serverCfg.AllowedOrigins = strings.Split(serveOrigins, ",")
	}

	level := logging.LevelInfo
	if cfg.Debug || DebugOverride {
		level = logging.LevelDebug
	}
	log := logging.NewLogger(&logging.Config{
		Level:      level,
		Component:  "proxy",
		JSONFormat: true,
	})

	var opts []server.ServerOption
	if serverCfg.RedisAddr != "" {
		cache, err := server.NewRedisCache(cmd.Context(), serverCfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", serverCfg.RedisAddr, err)
		}
		defer cache.Close()
		opts = append(opts, server.WithCache(cache))
		log.Info("response cache enabled", logging.F("redis", serverCfg.RedisAddr))
	}

	return server.New(serverCfg, log, opts...).Run(cmd.Context())
}
