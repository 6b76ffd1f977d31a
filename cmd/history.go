package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/pkg/history"
)

// History command flags.
var (
	historyLimit int
	historyAll   bool
)

// HistoryCommandDeps holds the dependencies for history commands.
type HistoryCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	OpenStore  func(ctx context.Context, cfg *config.CLIConfig) (history.Store, error)
}

// DefaultHistoryDeps returns the default dependencies for production use.
func DefaultHistoryDeps() *HistoryCommandDeps {
	return &HistoryCommandDeps{
		LoadConfig: config.LoadConfig,
		OpenStore:  OpenHistoryStore,
	}
}

// OpenHistoryStore opens the configured history store: PostgreSQL when a
// database is configured, the local file otherwise.
func OpenHistoryStore(ctx context.Context, cfg *config.CLIConfig) (history.Store, error) {
	if cfg.History.Database != "" {
		return history.NewPostgresStore(ctx, cfg.History.Database)
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	return history.NewFileStore(filepath.Join(dir, "history.yaml"))
}

// NewHistoryCommand creates the history command with its subcommands.
func NewHistoryCommand(deps *HistoryCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultHistoryDeps()
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed commands",
		Long: `Show the recorded command history, newest first.

By default only entries for the active connection are shown; --all shows
everything. History lives in ~/.twx/history.yaml, or in a shared
PostgreSQL table when history.database is configured.

Examples:
  twx history
  twx history --limit 50 --all
  twx history clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(cmd, deps)
		},
	}

	cmd.Flags().IntVarP(&historyLimit, "limit", "l", history.DefaultLimit, "Maximum number of entries")
	cmd.Flags().BoolVar(&historyAll, "all", false, "Show entries for all connections")

	cmd.AddCommand(newHistoryClearCommand(deps))

	return cmd
}

func runHistoryList(cmd *cobra.Command, deps *HistoryCommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := deps.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	connection := ""
	if !historyAll {
		connection = cfg.CurrentConnection
		if ConnectionName != "" {
			connection = ConnectionName
		}
	}

	entries, err := store.Recent(ctx, connection, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tCONNECTION\tCOMMAND\tDURATION\tOK")
	for _, e := range entries {
		ok := "yes"
		if !e.Success {
			ok = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Connection, e.FullCommand, e.DurationMs, ok)
	}
	return tw.Flush()
}

func newHistoryClearCommand(deps *HistoryCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			store, err := deps.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		},
	}
}
