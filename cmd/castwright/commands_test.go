package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/castwright/internal/config"
)

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"version"},
		{"config", "init"},
		{"config", "show"},
		{"api", "health"},
		{"api", "metrics"},
		{"api", "topics", "start"},
		{"api", "topics", "status"},
		{"api", "topics", "content"},
		{"api", "topics", "units"},
		{"api", "topics", "dispatch"},
		{"api", "topics", "poll"},
		{"api", "topics", "stitch"},
		{"api", "topics", "run"},
		{"api", "settings", "list"},
		{"api", "settings", "get"},
	} {
		t.Run(strings.Join(path, "_"), func(t *testing.T) {
			cmd, rest, err := rootCmd.Find(path)
			if err != nil {
				t.Fatalf("Find(%v) error = %v", path, err)
			}
			if len(rest) != 0 || cmd.Name() != path[len(path)-1] {
				t.Errorf("Find(%v) = %s, leftover %v", path, cmd.CommandPath(), rest)
			}
		})
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	homeDir = dir
	cfgFile = ""
	t.Cleanup(func() { homeDir, configForce = "", false })

	if err := configInitCmd.RunE(configInitCmd, nil); err != nil {
		t.Fatalf("config init error = %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if mgr.Get().Pipeline.ChunkSize != config.DefaultConfig().Pipeline.ChunkSize {
		t.Error("written config should carry the defaults")
	}

	if err := configInitCmd.RunE(configInitCmd, nil); err == nil {
		t.Error("second init without --force should fail")
	}
	configForce = true
	if err := configInitCmd.RunE(configInitCmd, nil); err != nil {
		t.Errorf("init --force error = %v", err)
	}
	for _, sub := range []string{"content", "audio", "scratch", "locks"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("home subdir %s missing: %v", sub, err)
		}
	}
}

func TestNewLogger_NonTerminalIsJSON(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, slog.LevelInfo).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, slog.LevelWarn).Info("dropped")
	if buf.Len() != 0 {
		t.Error("info should be filtered at warn level")
	}
}
