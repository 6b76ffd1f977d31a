package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/client"
	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/pkg/dtdl"
)

// ModelCommandDeps holds the dependencies for model commands.
type ModelCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	OpenBackend BackendOpener
}

// DefaultModelDeps returns the default dependencies for production use.
func DefaultModelDeps() *ModelCommandDeps {
	return &ModelCommandDeps{
		LoadConfig:  config.LoadConfig,
		OpenBackend: defaultOpenBackend,
	}
}

// NewModelCommand creates the model command with its subcommands.
func NewModelCommand(deps *ModelCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultModelDeps()
	}

	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage DTDL models",
		Long: `Manage the DTDL models registered on the active connection.

Examples:
  twx model list
  twx model show "dtmi:example:Room;1"
  twx model upload room.json floor.json
  twx model delete "dtmi:example:Room;1"`,
	}

	cmd.AddCommand(newModelListCommand(deps))
	cmd.AddCommand(newModelShowCommand(deps))
	cmd.AddCommand(newModelUploadCommand(deps))
	cmd.AddCommand(newModelDeleteCommand(deps))

	return cmd
}

func newModelListCommand(deps *ModelCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					raws, err := backend.ListModels(ctx)
					if err != nil {
						return err
					}
					return writeModelList(cmd.OutOrStdout(), raws)
				})
		},
	}
}

func newModelShowCommand(deps *ModelCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <model-id>",
		Short: "Show one model's properties and relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					raws, err := backend.ListModels(ctx)
					if err != nil {
						return err
					}
					return writeModelDetail(cmd.OutOrStdout(), dtdl.LoadStore(raws), args[0])
				})
		},
	}
}

func newModelUploadCommand(deps *ModelCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload model definitions from JSON files",
		Long: `Upload model definitions from JSON files. Each file may hold a single
DTDL interface or an array of them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := readModelFiles(args)
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					if err := backend.UploadModels(ctx, models); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d models\n", len(models))
					return nil
				})
		},
	}
}

func newModelDeleteCommand(deps *ModelCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model-id>",
		Short: "Delete one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					if err := backend.DeleteModel(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted model %s\n", args[0])
					return nil
				})
		},
	}
}

// readModelFiles loads model documents, flattening arrays into individual
// definitions.
func readModelFiles(paths []string) ([]json.RawMessage, error) {
	var models []json.RawMessage
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading model file: %w", err)
		}

		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err == nil {
			models = append(models, batch...)
			continue
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("model file %s is not valid JSON", path)
		}
		models = append(models, json.RawMessage(data))
	}
	return models, nil
}

func writeModelList(out io.Writer, raws []json.RawMessage) error {
	store := dtdl.LoadStore(raws)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDISPLAY NAME\tPROPERTIES\tRELATIONSHIPS")
	for _, m := range store.Models() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", m.ID, m.DisplayName, len(m.Properties), len(m.Relationships))
	}
	return tw.Flush()
}

func writeModelDetail(out io.Writer, store *dtdl.Store, modelID string) error {
	m, err := store.Lookup(modelID)
	if err != nil {
		return fmt.Errorf("model %q: %w", modelID, err)
	}

	fmt.Fprintf(out, "Model:        %s\n", m.ID)
	if m.DisplayName != "" {
		fmt.Fprintf(out, "Display name: %s\n", m.DisplayName)
	}
	if m.Description != "" {
		fmt.Fprintf(out, "Description:  %s\n", m.Description)
	}
	for _, parent := range m.Extends {
		fmt.Fprintf(out, "Extends:      %s\n", parent)
	}

	if len(m.Properties) > 0 {
		fmt.Fprintln(out, "\nProperties:")
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, p := range m.Properties {
			label := p.Name
			if name, ok := store.PropertyDisplayName(m.ID, p.Name); ok && name != p.Name {
				label = fmt.Sprintf("%s (%s)", p.Name, name)
			}
			fmt.Fprintf(tw, "  %s\t%s\n", label, p.Schema)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	// Includes relationships inherited through extends.
	rels := store.RelationshipDefs(m.ID)
	if len(rels) > 0 {
		fmt.Fprintln(out, "\nRelationships:")
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, r := range rels {
			fmt.Fprintf(tw, "  %s\t%s\n", r.Name, r.Target)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
