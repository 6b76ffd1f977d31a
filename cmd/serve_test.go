package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/konnektr-io/twx-cli/config"
)

// TestNewServeCommand tests that the serve command is created correctly.
func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand(DefaultServeDeps())

	if cmd == nil {
		t.Fatal("NewServeCommand returned nil")
	}
	if cmd.Use != "serve" {
		t.Errorf("Use = %v, want 'serve'", cmd.Use)
	}
	if cmd.Flags().Lookup("addr") == nil {
		t.Error("--addr flag should be registered")
	}
	if cmd.Flags().Lookup("origins") == nil {
		t.Error("--origins flag should be registered")
	}
}

func TestServe_RunsUntilCanceled(t *testing.T) {
	resetGlobalFlags(t)
	cfg := testConfig()
	cfg.Server = config.ServerConfig{Addr: "127.0.0.1:0"}
	deps := &ServeCommandDeps{LoadConfig: stubLoadConfig(cfg)}

	cmd := NewServeCommand(deps)
	ctx, cancel := context.WithCancel(context.Background())
	cmd.SetContext(ctx)
	cmd.SetArgs([]string{})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServe_FailsWhenRedisUnavailable(t *testing.T) {
	resetGlobalFlags(t)
	cfg := testConfig()
	// Nothing listens here; cache setup must fail fast.
	cfg.Server = config.ServerConfig{Addr: "127.0.0.1:0", RedisAddr: "127.0.0.1:1"}
	deps := &ServeCommandDeps{LoadConfig: stubLoadConfig(cfg)}

	_, err := execute(t, NewServeCommand(deps))
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Errorf("expected redis connection error, got %v", err)
	}
}
