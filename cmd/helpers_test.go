package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/client"
	"github.com/konnektr-io/twx-cli/config"
)

// fakeBackend implements client.Backend with overridable hooks; hooks left
// nil fail the call so tests notice unexpected operations.
type fakeBackend struct {
	executeQuery       func(ctx context.Context, query string) ([]json.RawMessage, error)
	getTwin            func(ctx context.Context, twinID string) (json.RawMessage, error)
	createTwin         func(ctx context.Context, twinID string, body json.RawMessage) (json.RawMessage, error)
	updateTwin         func(ctx context.Context, twinID string, patch []client.PatchOp) error
	deleteTwin         func(ctx context.Context, twinID string) error
	queryRelationships func(ctx context.Context, twinID string, dir client.Direction) ([]json.RawMessage, error)
	createRelationship func(ctx context.Context, sourceID, targetID, name, relID string) (json.RawMessage, error)
	deleteRelationship func(ctx context.Context, sourceID, relID string) error
	listModels         func(ctx context.Context) ([]json.RawMessage, error)
	uploadModels       func(ctx context.Context, models []json.RawMessage) error
	deleteModel        func(ctx context.Context, modelID string) error

	closed bool
}

func (f *fakeBackend) ExecuteQuery(ctx context.Context, query string) ([]json.RawMessage, error) {
	if f.executeQuery == nil {
		return nil, fmt.Errorf("unexpected ExecuteQuery")
	}
	return f.executeQuery(ctx, query)
}

func (f *fakeBackend) GetTwin(ctx context.Context, twinID string) (json.RawMessage, error) {
	if f.getTwin == nil {
		return nil, fmt.Errorf("unexpected GetTwin")
	}
	return f.getTwin(ctx, twinID)
}

func (f *fakeBackend) CreateTwin(ctx context.Context, twinID string, body json.RawMessage) (json.RawMessage, error) {
	if f.createTwin == nil {
		return nil, fmt.Errorf("unexpected CreateTwin")
	}
	return f.createTwin(ctx, twinID, body)
}

func (f *fakeBackend) UpdateTwin(ctx context.Context, twinID string, patch []client.PatchOp) error {
	if f.updateTwin == nil {
		return fmt.Errorf("unexpected UpdateTwin")
	}
	return f.updateTwin(ctx, twinID, patch)
}

func (f *fakeBackend) DeleteTwin(ctx context.Context, twinID string) error {
	if f.deleteTwin == nil {
		return fmt.Errorf("unexpected DeleteTwin")
	}
	return f.deleteTwin(ctx, twinID)
}

func (f *fakeBackend) QueryRelationships(ctx context.Context, twinID string, dir client.Direction) ([]json.RawMessage, error) {
	if f.queryRelationships == nil {
		return nil, fmt.Errorf("unexpected QueryRelationships")
	}
	return f.queryRelationships(ctx, twinID, dir)
}

func (f *fakeBackend) CreateRelationship(ctx context.Context, sourceID, targetID, name, relID string) (json.RawMessage, error) {
	if f.createRelationship == nil {
		return nil, fmt.Errorf("unexpected CreateRelationship")
	}
	return f.createRelationship(ctx, sourceID, targetID, name, relID)
}

func (f *fakeBackend) DeleteRelationship(ctx context.Context, sourceID, relID string) error {
	if f.deleteRelationship == nil {
		return fmt.Errorf("unexpected DeleteRelationship")
	}
	return f.deleteRelationship(ctx, sourceID, relID)
}

func (f *fakeBackend) ListModels(ctx context.Context) ([]json.RawMessage, error) {
	if f.listModels == nil {
		return nil, nil
	}
	return f.listModels(ctx)
}

func (f *fakeBackend) UploadModels(ctx context.Context, models []json.RawMessage) error {
	if f.uploadModels == nil {
		return fmt.Errorf("unexpected UploadModels")
	}
	return f.uploadModels(ctx, models)
}

func (f *fakeBackend) DeleteModel(ctx context.Context, modelID string) error {
	if f.deleteModel == nil {
		return fmt.Errorf("unexpected DeleteModel")
	}
	return f.deleteModel(ctx, modelID)
}

func (f *fakeBackend) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

// testConfig returns a config with one adt connection selected.
func testConfig() *config.CLIConfig {
	return &config.CLIConfig{
		Connections: []config.Connection{
			{Name: "test", Kind: config.KindADT, Endpoint: "example.digitaltwins.azure.net"},
		},
		CurrentConnection: "test",
		Timeout:           30 * time.Second,
		OutputFormat:      config.OutputFormatTable,
	}
}

// stubOpener returns a BackendOpener that always hands out backend.
func stubOpener(backend client.Backend) BackendOpener {
	return func(ctx context.Context, cfg *config.CLIConfig, connection string) (client.Backend, *config.Connection, error) {
		conn, err := cfg.Connection(connection)
		if err != nil {
			return nil, nil, err
		}
		return backend, conn, nil
	}
}

// stubLoadConfig wraps a fixed config in a LoadConfig hook.
func stubLoadConfig(cfg *config.CLIConfig) func() (*config.CLIConfig, error) {
	return func() (*config.CLIConfig, error) { return cfg, nil }
}

// execute runs a command with the given args and returns its output.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// resetGlobalFlags clears the root-level flag state between tests.
func resetGlobalFlags(t *testing.T) {
	t.Helper()
	ConnectionName = ""
	OutputOverride = ""
	DebugOverride = false
	t.Cleanup(func() {
		ConnectionName = ""
		OutputOverride = ""
		DebugOverride = false
	})
}
