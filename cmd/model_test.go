package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testRoomModel = `{
	"@id": "dtmi:example:Room;1",
	"@type": "Interface",
	"@context": "dtmi:dtdl:context;3",
	"displayName": "Room",
	"contents": [
		{"@type": "Property", "name": "temperature", "displayName": "Temperature", "schema": "double"},
		{"@type": "Relationship", "name": "contains", "target": "dtmi:example:Sensor;1"}
	]
}`

// TestNewModelCommand tests that the model command is created correctly.
func TestNewModelCommand(t *testing.T) {
	cmd := NewModelCommand(DefaultModelDeps())

	if cmd == nil {
		t.Fatal("NewModelCommand returned nil")
	}
	if cmd.Use != "model" {
		t.Errorf("Use = %v, want 'model'", cmd.Use)
	}

	found := map[string]bool{}
	for _, sub := range cmd.Commands() {
		found[sub.Name()] = true
	}
	for _, name := range []string{"list", "show", "upload", "delete"} {
		if !found[name] {
			t.Errorf("%s subcommand should be registered", name)
		}
	}
}

func TestModelList(t *testing.T) {
	resetGlobalFlags(t)
	backend := &fakeBackend{
		listModels: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{json.RawMessage(testRoomModel)}, nil
		},
	}
	deps := &ModelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewModelCommand(deps), "list")
	if err != nil {
		t.Fatalf("model list failed: %v", err)
	}
	if !strings.Contains(out, "dtmi:example:Room;1") || !strings.Contains(out, "Room") {
		t.Errorf("output missing model: %s", out)
	}
}

func TestModelShow(t *testing.T) {
	resetGlobalFlags(t)
	backend := &fakeBackend{
		listModels: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{json.RawMessage(testRoomModel)}, nil
		},
	}
	deps := &ModelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewModelCommand(deps), "show", "dtmi:example:Room;1")
	if err != nil {
		t.Fatalf("model show failed: %v", err)
	}
	if !strings.Contains(out, "Display name: Room") {
		t.Errorf("output missing display name: %s", out)
	}
	if !strings.Contains(out, "temperature (Temperature)") {
		t.Errorf("output missing property display name: %s", out)
	}
	if !strings.Contains(out, "contains") || !strings.Contains(out, "dtmi:example:Sensor;1") {
		t.Errorf("output missing relationship: %s", out)
	}
}

func TestModelShow_UnknownModel(t *testing.T) {
	resetGlobalFlags(t)
	backend := &fakeBackend{
		listModels: func(context.Context) ([]json.RawMessage, error) { return nil, nil },
	}
	deps := &ModelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	_, err := execute(t, NewModelCommand(deps), "show", "dtmi:example:Missing;1")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("expected model not found error, got %v", err)
	}
}

func TestModelUpload_FlattensArrays(t *testing.T) {
	resetGlobalFlags(t)
	dir := t.TempDir()
	single := filepath.Join(dir, "single.json")
	batch := filepath.Join(dir, "batch.json")
	if err := os.WriteFile(single, []byte(testRoomModel), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(batch, []byte(`[{"@id":"dtmi:a;1"},{"@id":"dtmi:b;1"}]`), 0o600); err != nil {
		t.Fatal(err)
	}

	var gotCount int
	backend := &fakeBackend{
		uploadModels: func(_ context.Context, models []json.RawMessage) error {
			gotCount = len(models)
			return nil
		},
	}
	deps := &ModelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewModelCommand(deps), "upload", single, batch)
	if err != nil {
		t.Fatalf("model upload failed: %v", err)
	}
	if gotCount != 3 {
		t.Errorf("uploaded %d models, want 3", gotCount)
	}
	if !strings.Contains(out, "Uploaded 3 models") {
		t.Errorf("output = %s", out)
	}
}

func TestModelUpload_RejectsInvalidJSON(t *testing.T) {
	resetGlobalFlags(t)
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	deps := &ModelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(&fakeBackend{}),
	}

	_, err := execute(t, NewModelCommand(deps), "upload", path)
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Errorf("expected JSON error, got %v", err)
	}
}

func TestModelDelete(t *testing.T) {
	resetGlobalFlags(t)
	deleted := ""
	backend := &fakeBackend{
		deleteModel: func(_ context.Context, modelID string) error {
			deleted = modelID
			return nil
		},
	}
	deps := &ModelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewModelCommand(deps), "delete", "dtmi:example:Room;1")
	if err != nil {
		t.Fatalf("model delete failed: %v", err)
	}
	if deleted != "dtmi:example:Room;1" {
		t.Errorf("deleted = %q", deleted)
	}
	if !strings.Contains(out, "Deleted model") {
		t.Errorf("output = %s", out)
	}
}
