package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/config"
)

// Connection command flags.
var (
	connKind     string
	connEndpoint string
	connGraph    string
	connDatabase string
	connUsername string
)

// ConnectionCommandDeps holds the dependencies for connection commands.
type ConnectionCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	SaveConfig func(*config.CLIConfig) error
}

// DefaultConnectionDeps returns the default dependencies for production use.
func DefaultConnectionDeps() *ConnectionCommandDeps {
	return &ConnectionCommandDeps{
		LoadConfig: config.LoadConfig,
		SaveConfig: config.SaveConfig,
	}
}

// NewConnectionCommand creates the connection command with its subcommands.
func NewConnectionCommand(deps *ConnectionCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultConnectionDeps()
	}

	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Manage configured backend connections",
		Long: `Manage the backend connections in the configuration file.

A connection names a backend kind (adt, age, neo4j) and its endpoint.
The current connection is used by all commands unless --connection
overrides it.

Examples:
  twx connection add prod --kind adt --endpoint my-instance.api.weu.digitaltwins.azure.net
  twx connection add local --kind age --endpoint "postgres://localhost/twins" --graph twingraph
  twx connection add graphdb --kind neo4j --endpoint bolt://localhost:7687 --username neo4j
  twx connection use prod
  twx connection list
  twx connection remove local`,
	}

	cmd.AddCommand(newConnectionListCommand(deps))
	cmd.AddCommand(newConnectionAddCommand(deps))
	cmd.AddCommand(newConnectionRemoveCommand(deps))
	cmd.AddCommand(newConnectionUseCommand(deps))

	return cmd
}

func newConnectionListCommand(deps *ConnectionCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tENDPOINT\tCURRENT")
			for _, conn := range cfg.Connections {
				current := ""
				if conn.Name == cfg.CurrentConnection {
					current = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", conn.Name, conn.Kind, conn.Endpoint, current)
			}
			return tw.Flush()
		},
	}
}

func newConnectionAddCommand(deps *ConnectionCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or replace a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}

			conn := config.Connection{
				Name:     args[0],
				Kind:     config.BackendKind(connKind),
				Endpoint: connEndpoint,
				Graph:    connGraph,
				Database: connDatabase,
				Username: connUsername,
			}
			if err := cfg.AddConnection(conn); err != nil {
				return err
			}
			// The first connection becomes current automatically.
			if cfg.CurrentConnection == "" {
				cfg.CurrentConnection = conn.Name
			}
			if err := deps.SaveConfig(cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added connection %s (%s)\n", conn.Name, conn.Kind)
			return nil
		},
	}

	cmd.Flags().StringVar(&connKind, "kind", "adt", "Backend kind: adt, age, neo4j")
	cmd.Flags().StringVar(&connEndpoint, "endpoint", "", "Service host, connection string, or Bolt URI")
	cmd.Flags().StringVar(&connGraph, "graph", "", "AGE graph name (kind age only)")
	cmd.Flags().StringVar(&connDatabase, "database", "", "Neo4j database name (kind neo4j only)")
	cmd.Flags().StringVar(&connUsername, "username", "", "Username for age and neo4j connections")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func newConnectionRemoveCommand(deps *ConnectionCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RemoveConnection(args[0]); err != nil {
				return err
			}
			if err := deps.SaveConfig(cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed connection %s\n", args[0])
			return nil
		},
	}
}

func newConnectionUseCommand(deps *ConnectionCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Select the current connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if _, err := cfg.Connection(args[0]); err != nil {
				return err
			}
			cfg.CurrentConnection = args[0]
			if err := deps.SaveConfig(cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Using connection %s\n", args[0])
			return nil
		},
	}
}
