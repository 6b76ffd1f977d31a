package cmd

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/konnektr-io/twx-cli/client"
)

// TestNewRelCommand tests that the rel command is created correctly.
func TestNewRelCommand(t *testing.T) {
	cmd := NewRelCommand(DefaultRelDeps())

	if cmd == nil {
		t.Fatal("NewRelCommand returned nil")
	}
	if cmd.Use != "rel" {
		t.Errorf("Use = %v, want 'rel'", cmd.Use)
	}

	found := map[string]bool{}
	for _, sub := range cmd.Commands() {
		found[sub.Name()] = true
	}
	for _, name := range []string{"list", "create", "delete"} {
		if !found[name] {
			t.Errorf("%s subcommand should be registered", name)
		}
	}
}

func TestRelList_DirectionMapping(t *testing.T) {
	tests := []struct {
		flag string
		want client.Direction
	}{
		{"in", client.DirectionIncoming},
		{"incoming", client.DirectionIncoming},
		{"out", client.DirectionOutgoing},
		{"outgoing", client.DirectionOutgoing},
		{"all", client.DirectionAll},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			resetGlobalFlags(t)
			var gotDir client.Direction
			backend := &fakeBackend{
				queryRelationships: func(_ context.Context, twinID string, dir client.Direction) ([]json.RawMessage, error) {
					gotDir = dir
					return []json.RawMessage{json.RawMessage(`{"$relationshipId":"r1"}`)}, nil
				},
			}
			deps := &RelCommandDeps{
				LoadConfig:  stubLoadConfig(testConfig()),
				OpenBackend: stubOpener(backend),
			}

			out, err := execute(t, NewRelCommand(deps), "list", "room-1", "--direction", tt.flag)
			if err != nil {
				t.Fatalf("rel list failed: %v", err)
			}
			if gotDir != tt.want {
				t.Errorf("direction = %q, want %q", gotDir, tt.want)
			}
			if !strings.Contains(out, "r1") {
				t.Errorf("output missing relationship: %s", out)
			}
		})
	}
}

func TestRelList_RejectsBadDirection(t *testing.T) {
	resetGlobalFlags(t)
	deps := &RelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(&fakeBackend{}),
	}

	_, err := execute(t, NewRelCommand(deps), "list", "room-1", "--direction", "sideways")
	if err == nil || !strings.Contains(err.Error(), "invalid direction") {
		t.Errorf("expected direction error, got %v", err)
	}
}

func TestRelCreate_PassesArgs(t *testing.T) {
	resetGlobalFlags(t)
	var gotSource, gotTarget, gotName, gotID string
	backend := &fakeBackend{
		createRelationship: func(_ context.Context, sourceID, targetID, name, relID string) (json.RawMessage, error) {
			gotSource, gotTarget, gotName, gotID = sourceID, targetID, name, relID
			return json.RawMessage(`{"$relationshipId":"custom-id"}`), nil
		},
	}
	deps := &RelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewRelCommand(deps), "create", "room-1", "sensor-4", "contains", "--id", "custom-id")
	if err != nil {
		t.Fatalf("rel create failed: %v", err)
	}
	if gotSource != "room-1" || gotTarget != "sensor-4" || gotName != "contains" || gotID != "custom-id" {
		t.Errorf("backend got (%q, %q, %q, %q)", gotSource, gotTarget, gotName, gotID)
	}
	if !strings.Contains(out, "custom-id") {
		t.Errorf("output missing created relationship: %s", out)
	}
}

func TestRelDelete(t *testing.T) {
	resetGlobalFlags(t)
	var gotSource, gotRel string
	backend := &fakeBackend{
		deleteRelationship: func(_ context.Context, sourceID, relID string) error {
			gotSource, gotRel = sourceID, relID
			return nil
		},
	}
	deps := &RelCommandDeps{
		LoadConfig:  stubLoadConfig(testConfig()),
		OpenBackend: stubOpener(backend),
	}

	out, err := execute(t, NewRelCommand(deps), "delete", "room-1", "rel-9")
	if err != nil {
		t.Fatalf("rel delete failed: %v", err)
	}
	if gotSource != "room-1" || gotRel != "rel-9" {
		t.Errorf("backend got (%q, %q)", gotSource, gotRel)
	}
	if !strings.Contains(out, "Deleted relationship rel-9") {
		t.Errorf("output = %s", out)
	}
}
