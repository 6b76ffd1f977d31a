// Package main provides the twx CLI entry point.
// twx is a command-line explorer for digital twin graphs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/cmd"
	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/pkg/history"
)

// cmdStartTime is recorded before the command runs so history entries
// carry durations.
var cmdStartTime time.Time

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "twx",
	Short: "twx - digital twin graph explorer",
	Long: `twx is a command-line explorer for digital twin graphs.

It runs queries against Azure Digital Twins / Konnektr Graph (REST),
Apache AGE graphs in PostgreSQL, and Neo4j, and renders the results as
adaptive tables or graph views. All backends expose the same result
shape, so the same commands work everywhere.

COMMON WORKFLOWS:
  Set up:        twx connection add prod --kind adt --endpoint <host>  →  twx auth login
  Query:         twx query "SELECT * FROM digitaltwins"
  Explore:       twx graph build "MATCH (t:Twin)-[r]->(u) RETURN t, r, u" --expand <id>
  Manage twins:  twx twin get <id>  →  twx twin update <id> --property name=value
  Serve the UI:  twx serve

DISCOVERY:
  twx <command> --help    Subcommands, flags, and examples for any command
  twx history             What you ran recently`,
	SilenceUsage: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		cmdStartTime = time.Now()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConnectionName, "connection", "c", "",
		"Connection to use (default: the configured current connection)")
	rootCmd.PersistentFlags().StringVarP(&cmd.OutputOverride, "output", "o", "",
		"Output format: table, json, csv (default: the configured format)")
	rootCmd.PersistentFlags().BoolVar(&cmd.DebugOverride, "debug", false,
		"Enable debug logging")

	rootCmd.AddCommand(cmd.NewQueryCommand(nil))
	rootCmd.AddCommand(cmd.NewGraphCommand(nil))
	rootCmd.AddCommand(cmd.NewTwinCommand(nil))
	rootCmd.AddCommand(cmd.NewRelCommand(nil))
	rootCmd.AddCommand(cmd.NewModelCommand(nil))
	rootCmd.AddCommand(cmd.NewConnectionCommand(nil))
	rootCmd.AddCommand(cmd.NewAuthCommand(nil))
	rootCmd.AddCommand(cmd.NewHistoryCommand(nil))
	rootCmd.AddCommand(cmd.NewConfigCommand(nil))
	rootCmd.AddCommand(cmd.NewServeCommand(nil))
	rootCmd.AddCommand(cmd.NewVersionCommand())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmdErr := rootCmd.ExecuteContext(ctx)

	recordHistory(os.Args, cmdErr)

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

// recordHistory appends the run to the command history. Best-effort:
// history failures never affect the command result.
func recordHistory(args []string, cmdErr error) {
	name := commandName(args)
	switch name {
	case "", "version", "help", "completion", "history", "__complete":
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil || cfg.History.Disabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := cmd.OpenHistoryStore(ctx, cfg)
	if err != nil {
		if cfg.Debug {
			fmt.Fprintf(os.Stderr, "Warning: history store unavailable: %v\n", err)
		}
		return
	}

	connection := cfg.CurrentConnection
	if cmd.ConnectionName != "" {
		connection = cmd.ConnectionName
	}

	entry := history.Entry{
		Connection:  connection,
		Command:     name,
		Args:        commandArgs(args),
		FullCommand: strings.Join(args, " "),
		DurationMs:  int(time.Since(cmdStartTime).Milliseconds()),
		Success:     cmdErr == nil,
	}
	if cmdErr != nil {
		entry.ErrorMessage = cmdErr.Error()
	}
	if name == "query" {
		entry.Query = lastNonFlagArg(args)
	}

	rec := history.NewRecorder(history.RecorderConfig{Store: store})
	rec.Record(entry)
	rec.Close()
	store.Close()
}

// commandName extracts the subcommand name from os.Args.
func commandName(args []string) string {
	for i := 1; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "-") {
			return args[i]
		}
	}
	return ""
}

// commandArgs returns everything after the subcommand name.
func commandArgs(args []string) []string {
	for i := 1; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "-") {
			return args[i+1:]
		}
	}
	return nil
}

// lastNonFlagArg returns the final positional argument, which for query
// invocations is the query text.
func lastNonFlagArg(args []string) string {
	for i := len(args) - 1; i >= 2; i-- {
		if !strings.HasPrefix(args[i], "-") {
			return args[i]
		}
	}
	return ""
}
