package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/zerolink/internal/config"
	"github.com/danmuck/zerolink/internal/testutil/testlog"
)

func TestPrintConfigAppliesFileAndFlags(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "zerod.toml")
	body := "node_id = \"zerod-test\"\nsession_ttl = \"90m\"\ncors_origins = [\" https://play.example \", \"\"]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "--listen", "127.0.0.1:9999", "--print-config"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	shown := filepath.Join(t.TempDir(), "shown.toml")
	if err := os.WriteFile(shown, out.Bytes(), 0o600); err != nil {
		t.Fatalf("write shown: %v", err)
	}
	cfg, err := config.LoadResponderConfig(shown)
	if err != nil {
		t.Fatalf("load shown config: %v\n%s", err, out.String())
	}
	if cfg.Server.NodeID != "zerod-test" || cfg.Server.ListenAddr != "127.0.0.1:9999" || cfg.SessionTTL != 90*time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://play.example" {
		t.Fatalf("unexpected cors origins: %v", cfg.Server.CORSOrigins)
	}
}

func TestBadConfigFails(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "zerod.toml")
	if err := os.WriteFile(path, []byte("listen_port = 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultResponder()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("zerod did not stop after cancel")
	}
}
