package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/client"
	"github.com/konnektr-io/twx-cli/config"
)

// Relationship command flags.
var (
	relDirection string
	relID        string
)

// RelCommandDeps holds the dependencies for relationship commands.
type RelCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	OpenBackend BackendOpener
}

// DefaultRelDeps returns the default dependencies for production use.
func DefaultRelDeps() *RelCommandDeps {
	return &RelCommandDeps{
		LoadConfig:  config.LoadConfig,
		OpenBackend: defaultOpenBackend,
	}
}

// NewRelCommand creates the rel command with its subcommands.
func NewRelCommand(deps *RelCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultRelDeps()
	}

	cmd := &cobra.Command{
		Use:   "rel",
		Short: "List, create, and delete relationships",
		Long: `List, create, and delete relationships on the active connection.

Examples:
  twx rel list room-1
  twx rel list room-1 --direction in
  twx rel create room-1 sensor-4 contains
  twx rel delete room-1 room-1-contains-sensor-4`,
	}

	cmd.AddCommand(newRelListCommand(deps))
	cmd.AddCommand(newRelCreateCommand(deps))
	cmd.AddCommand(newRelDeleteCommand(deps))

	return cmd
}

func newRelListCommand(deps *RelCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <twin-id>",
		Short: "List the relationships of a twin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := relDirectionValue()
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					rels, err := backend.QueryRelationships(ctx, args[0], dir)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), rels)
				})
		},
	}

	cmd.Flags().StringVarP(&relDirection, "direction", "d", "all", "Direction: in, out, all")

	return cmd
}

func newRelCreateCommand(deps *RelCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <source-id> <target-id> <name>",
		Short: "Create a relationship between two twins",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					created, err := backend.CreateRelationship(ctx, args[0], args[1], args[2], relID)
					if err != nil {
						return err
					}
					return writeRawJSON(cmd.OutOrStdout(), created)
				})
		},
	}

	cmd.Flags().StringVar(&relID, "id", "", "Relationship id (generated when omitted)")

	return cmd
}

func newRelDeleteCommand(deps *RelCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <source-id> <relationship-id>",
		Short: "Delete one relationship of a twin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					if err := backend.DeleteRelationship(ctx, args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted relationship %s of %s\n", args[1], args[0])
					return nil
				})
		},
	}
}

func relDirectionValue() (client.Direction, error) {
	switch relDirection {
	case "in", "incoming":
		return client.DirectionIncoming, nil
	case "out", "outgoing":
		return client.DirectionOutgoing, nil
	case "all", "":
		return client.DirectionAll, nil
	default:
		return "", fmt.Errorf("invalid direction %q (must be in, out, or all)", relDirection)
	}
}
