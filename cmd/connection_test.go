package cmd

import (
	"strings"
	"testing"

	"github.com/konnektr-io/twx-cli/config"
)

// connectionTestDeps wires the connection command to an in-memory config.
func connectionTestDeps(cfg *config.CLIConfig) (*ConnectionCommandDeps, *int) {
	saves := 0
	return &ConnectionCommandDeps{
		LoadConfig: stubLoadConfig(cfg),
		SaveConfig: func(*config.CLIConfig) error { saves++; return nil },
	}, &saves
}

// TestNewConnectionCommand tests that the connection command is created correctly.
func TestNewConnectionCommand(t *testing.T) {
	cmd := NewConnectionCommand(DefaultConnectionDeps())

	if cmd == nil {
		t.Fatal("NewConnectionCommand returned nil")
	}
	if cmd.Use != "connection" {
		t.Errorf("Use = %v, want 'connection'", cmd.Use)
	}

	found := map[string]bool{}
	for _, sub := range cmd.Commands() {
		found[sub.Name()] = true
	}
	for _, name := range []string{"list", "add", "remove", "use"} {
		if !found[name] {
			t.Errorf("%s subcommand should be registered", name)
		}
	}
}

func TestConnectionAdd(t *testing.T) {
	resetGlobalFlags(t)
	cfg := &config.CLIConfig{Timeout: config.DefaultTimeout, OutputFormat: config.DefaultOutputFormat}
	deps, saves := connectionTestDeps(cfg)

	out, err := execute(t, NewConnectionCommand(deps), "add", "local",
		"--kind", "age",
		"--endpoint", "postgres://localhost/twins",
		"--graph", "twingraph")
	if err != nil {
		t.Fatalf("connection add failed: %v", err)
	}

	if len(cfg.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(cfg.Connections))
	}
	conn := cfg.Connections[0]
	if conn.Name != "local" || conn.Kind != config.KindAGE || conn.Graph != "twingraph" {
		t.Errorf("connection = %+v", conn)
	}
	// The first connection becomes current.
	if cfg.CurrentConnection != "local" {
		t.Errorf("current = %q, want 'local'", cfg.CurrentConnection)
	}
	if *saves != 1 {
		t.Errorf("config saved %d times, want 1", *saves)
	}
	if !strings.Contains(out, "Added connection local") {
		t.Errorf("output = %s", out)
	}
}

func TestConnectionAdd_ValidatesKind(t *testing.T) {
	resetGlobalFlags(t)
	cfg := &config.CLIConfig{Timeout: config.DefaultTimeout, OutputFormat: config.DefaultOutputFormat}
	deps, saves := connectionTestDeps(cfg)

	_, err := execute(t, NewConnectionCommand(deps), "add", "bad",
		"--kind", "bolt", "--endpoint", "x")
	if err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Errorf("expected kind error, got %v", err)
	}
	if *saves != 0 {
		t.Error("config should not be saved on validation failure")
	}
}

func TestConnectionUse(t *testing.T) {
	resetGlobalFlags(t)
	cfg := testConfig()
	cfg.Connections = append(cfg.Connections,
		config.Connection{Name: "other", Kind: config.KindNeo4j, Endpoint: "bolt://localhost:7687"})
	deps, _ := connectionTestDeps(cfg)

	_, err := execute(t, NewConnectionCommand(deps), "use", "other")
	if err != nil {
		t.Fatalf("connection use failed: %v", err)
	}
	if cfg.CurrentConnection != "other" {
		t.Errorf("current = %q, want 'other'", cfg.CurrentConnection)
	}
}

func TestConnectionUse_UnknownName(t *testing.T) {
	resetGlobalFlags(t)
	deps, saves := connectionTestDeps(testConfig())

	_, err := execute(t, NewConnectionCommand(deps), "use", "nope")
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("expected unknown connection error, got %v", err)
	}
	if *saves != 0 {
		t.Error("config should not be saved")
	}
}

func TestConnectionRemove(t *testing.T) {
	resetGlobalFlags(t)
	cfg := testConfig()
	deps, _ := connectionTestDeps(cfg)

	_, err := execute(t, NewConnectionCommand(deps), "remove", "test")
	if err != nil {
		t.Fatalf("connection remove failed: %v", err)
	}
	if len(cfg.Connections) != 0 {
		t.Errorf("expected no connections, got %d", len(cfg.Connections))
	}
	// Removing the current connection clears the selection.
	if cfg.CurrentConnection != "" {
		t.Errorf("current = %q, want empty", cfg.CurrentConnection)
	}
}

func TestConnectionList(t *testing.T) {
	resetGlobalFlags(t)
	cfg := testConfig()
	deps, _ := connectionTestDeps(cfg)

	out, err := execute(t, NewConnectionCommand(deps), "list")
	if err != nil {
		t.Fatalf("connection list failed: %v", err)
	}
	if !strings.Contains(out, "test") || !strings.Contains(out, "adt") {
		t.Errorf("output missing connection: %s", out)
	}
	if !strings.Contains(out, "*") {
		t.Errorf("current connection should be marked: %s", out)
	}
}
