package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/client"
	"github.com/konnektr-io/twx-cli/config"
)

// Twin command flags.
var (
	twinBody       string
	twinBodyFile   string
	twinProperties []string
	twinPatchFile  string
)

// TwinCommandDeps holds the dependencies for twin commands.
type TwinCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	OpenBackend BackendOpener
}

// DefaultTwinDeps returns the default dependencies for production use.
func DefaultTwinDeps() *TwinCommandDeps {
	return &TwinCommandDeps{
		LoadConfig:  config.LoadConfig,
		OpenBackend: defaultOpenBackend,
	}
}

// NewTwinCommand creates the twin command with its subcommands.
func NewTwinCommand(deps *TwinCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultTwinDeps()
	}

	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Create, read, update, and delete twins",
		Long: `Create, read, update, and delete twins on the active connection.

Examples:
  twx twin get room-1
  twx twin create room-1 --body '{"$metadata":{"$model":"dtmi:example:Room;1"},"temperature":21.5}'
  twx twin update room-1 --property temperature=22.0 --property name=Lobby
  twx twin delete room-1`,
	}

	cmd.AddCommand(newTwinGetCommand(deps))
	cmd.AddCommand(newTwinCreateCommand(deps))
	cmd.AddCommand(newTwinUpdateCommand(deps))
	cmd.AddCommand(newTwinDeleteCommand(deps))

	return cmd
}

func newTwinGetCommand(deps *TwinCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "get <twin-id>",
		Short: "Fetch one twin by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					twin, err := backend.GetTwin(ctx, args[0])
					if err != nil {
						return err
					}
					return writeRawJSON(cmd.OutOrStdout(), twin)
				})
		},
	}
}

func newTwinCreateCommand(deps *TwinCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <twin-id>",
		Short: "Create or replace a twin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := twinBodyJSON()
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					created, err := backend.CreateTwin(ctx, args[0], body)
					if err != nil {
						return err
					}
					return writeRawJSON(cmd.OutOrStdout(), created)
				})
		},
	}

	cmd.Flags().StringVar(&twinBody, "body", "", "Twin document as inline JSON")
	cmd.Flags().StringVar(&twinBodyFile, "body-file", "", "Twin document read from a JSON file")

	return cmd
}

func newTwinUpdateCommand(deps *TwinCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <twin-id>",
		Short: "Apply property updates to a twin",
		Long: `Apply property updates to a twin as a JSON Patch.

Each --property name=value becomes a replace operation; values parse as
JSON when possible (numbers, booleans) and fall back to strings. A full
patch document can be supplied with --patch-file instead.

Examples:
  twx twin update room-1 --property temperature=22.5
  twx twin update room-1 --patch-file ops.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := twinPatchOps()
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					if err := backend.UpdateTwin(ctx, args[0], patch); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Updated twin %s (%d operations)\n", args[0], len(patch))
					return nil
				})
		},
	}

	cmd.Flags().StringArrayVar(&twinProperties, "property", nil, "Property to replace, as name=value (repeatable)")
	cmd.Flags().StringVar(&twinPatchFile, "patch-file", "", "JSON Patch document read from a file")

	return cmd
}

func newTwinDeleteCommand(deps *TwinCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <twin-id>",
		Short: "Delete a twin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps.LoadConfig, deps.OpenBackend,
				func(ctx context.Context, backend client.Backend) error {
					if err := backend.DeleteTwin(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted twin %s\n", args[0])
					return nil
				})
		},
	}
}

// twinBodyJSON resolves the twin document from --body or --body-file.
func twinBodyJSON() (json.RawMessage, error) {
	raw := twinBody
	if twinBodyFile != "" {
		data, err := os.ReadFile(twinBodyFile)
		if err != nil {
			return nil, fmt.Errorf("reading body file: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("no twin document given: use --body or --body-file")
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("twin document is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// twinPatchOps builds the patch from --property pairs or --patch-file.
func twinPatchOps() ([]client.PatchOp, error) {
	if twinPatchFile != "" {
		data, err := os.ReadFile(twinPatchFile)
		if err != nil {
			return nil, fmt.Errorf("reading patch file: %w", err)
		}
		var ops []client.PatchOp
		if err := json.Unmarshal(data, &ops); err != nil {
			return nil, fmt.Errorf("parsing patch file: %w", err)
		}
		return ops, nil
	}

	if len(twinProperties) == 0 {
		return nil, fmt.Errorf("no updates given: use --property or --patch-file")
	}

	ops := make([]client.PatchOp, 0, len(twinProperties))
	for _, pair := range twinProperties {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --property %q: expected name=value", pair)
		}
		ops = append(ops, client.PatchOp{
			Op:    "replace",
			Path:  "/" + name,
			Value: parsePropertyValue(value),
		})
	}
	return ops, nil
}

// parsePropertyValue interprets the value as JSON when possible, so
// numbers and booleans keep their types; everything else is a string.
func parsePropertyValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// withBackend runs fn against an opened backend with the configured
// timeout, closing it afterwards.
func withBackend(ctx context.Context, loadConfig func() (*config.CLIConfig, error), open BackendOpener, fn func(context.Context, client.Backend) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	backend, _, err := open(ctx, cfg, ConnectionName)
	if err != nil {
		return err
	}
	defer backend.Close(ctx)

	return fn(ctx, backend)
}

// writeRawJSON pretty-prints one raw JSON document.
func writeRawJSON(out io.Writer, raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		_, werr := out.Write(raw)
		return werr
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
