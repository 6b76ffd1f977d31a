package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/konnektr-io/twx-cli/client"
)

// TestNewTwinCommand tests that the twin command is created correctly.
func TestNewTwinCommand(t *testing.T) {
	cmd := NewTwinCommand(DefaultTwinDeps())

	if cmd == nil {
		t.Fatal("NewTwinCommand returned nil")
	}
	if cmd.Use != "twin" {
		t.Errorf("Use = %v, want 'twin'", cmd.Use)
	}

	found := map[string]bool{}
	for _, sub := range cmd.Commands() {
		found[sub.Name()] = true
	}
	for _, name := range []string{"get", "create", "update", "delete"} {
		if !found[name] {
			t.Errorf("%s subcommand should be registered", name)
		}
	}
}

func TestTwinGet_PrintsTwin(t *testing.T) {
	resetGlobalFlags(t)
	backend := &fakeBackend{
		getTwin: func(_ context.Context, twinID string) (json.RawMessage, error) {
			if twinID != "room-1" {
				t.Errorf("GetTwin id = %q, want 'room-1'", twinID)
			}
			return json.RawMessage(`{"$dtId":"room-1","temperature":21.5}`), nil
		},
	}
	deps := &TwinCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewTwinCommand(deps), "get", "room-1")
	if err != nil {
		t.Fatalf("twin get failed: %v", err)
	}
	if !strings.Contains(out, `"$dtId": "room-1"`) {
		t.Errorf("output missing twin: %s", out)
	}
	if !backend.closed {
		t.Error("backend should be closed")
	}
}

func TestTwinGet_NotFound(t *testing.T) {
	resetGlobalFlags(t)
	backend := &fakeBackend{
		getTwin: func(context.Context, string) (json.RawMessage, error) {
			return nil, client.ErrNotFound
		},
	}
	deps := &TwinCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	_, err := execute(t, NewTwinCommand(deps), "get", "ghost")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestTwinCreate_RequiresBody(t *testing.T) {
	resetGlobalFlags(t)
	deps := &TwinCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(&fakeBackend{}),
	}

	_, err := execute(t, NewTwinCommand(deps), "create", "room-1")
	if err == nil || !strings.Contains(err.Error(), "no twin document") {
		t.Errorf("expected missing body error, got %v", err)
	}
}

func TestTwinCreate_FromFile(t *testing.T) {
	resetGlobalFlags(t)
	body := `{"$metadata":{"$model":"dtmi:example:Room;1"},"temperature":20}`
	path := filepath.Join(t.TempDir(), "twin.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	var gotBody json.RawMessage
	backend := &fakeBackend{
		createTwin: func(_ context.Context, twinID string, body json.RawMessage) (json.RawMessage, error) {
			gotBody = body
			return json.RawMessage(`{"$dtId":"` + twinID + `"}`), nil
		},
	}
	deps := &TwinCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewTwinCommand(deps), "create", "room-1", "--body-file", path)
	if err != nil {
		t.Fatalf("twin create failed: %v", err)
	}
	if string(gotBody) != body {
		t.Errorf("backend got body %s", gotBody)
	}
	if !strings.Contains(out, "room-1") {
		t.Errorf("output missing created twin: %s", out)
	}
}

func TestTwinUpdate_BuildsPatch(t *testing.T) {
	resetGlobalFlags(t)
	var gotPatch []client.PatchOp
	backend := &fakeBackend{
		updateTwin: func(_ context.Context, twinID string, patch []client.PatchOp) error {
			gotPatch = patch
			return nil
		},
	}
	deps := &TwinCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewTwinCommand(deps), "update", "room-1",
		"--property", "temperature=22.5",
		"--property", "name=Lobby",
		"--property", "occupied=true")
	if err != nil {
		t.Fatalf("twin update failed: %v", err)
	}
	if len(gotPatch) != 3 {
		t.Fatalf("expected 3 patch ops, got %d", len(gotPatch))
	}

	// Values keep their JSON types; non-JSON text falls back to string.
	if gotPatch[0].Path != "/temperature" || gotPatch[0].Value != 22.5 {
		t.Errorf("op 0 = %+v", gotPatch[0])
	}
	if gotPatch[1].Path != "/name" || gotPatch[1].Value != "Lobby" {
		t.Errorf("op 1 = %+v", gotPatch[1])
	}
	if gotPatch[2].Path != "/occupied" || gotPatch[2].Value != true {
		t.Errorf("op 2 = %+v", gotPatch[2])
	}
	if gotPatch[0].Op != "replace" {
		t.Errorf("op = %q, want 'replace'", gotPatch[0].Op)
	}
	if !strings.Contains(out, "3 operations") {
		t.Errorf("output missing summary: %s", out)
	}
}

func TestTwinUpdate_RejectsBadProperty(t *testing.T) {
	resetGlobalFlags(t)
	deps := &TwinCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(&fakeBackend{}),
	}

	_, err := execute(t, NewTwinCommand(deps), "update", "room-1", "--property", "no-equals-sign")
	if err == nil || !strings.Contains(err.Error(), "expected name=value") {
		t.Errorf("expected property format error, got %v", err)
	}
}

func TestTwinDelete(t *testing.T) {
	resetGlobalFlags(t)
	deleted := ""
	backend := &fakeBackend{
		deleteTwin: func(_ context.Context, twinID string) error {
			deleted = twinID
			return nil
		},
	}
	deps := &TwinCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewTwinCommand(deps), "delete", "room-1")
	if err != nil {
		t.Fatalf("twin delete failed: %v", err)
	}
	if deleted != "room-1" {
		t.Errorf("deleted = %q, want 'room-1'", deleted)
	}
	if !strings.Contains(out, "Deleted twin room-1") {
		t.Errorf("output = %s", out)
	}
}
