package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/castwright/internal/prompts"
	podcastprompts "github.com/jackzampolin/castwright/internal/prompts/podcast"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Providers.OpenAI.APIKey != "${OPENAI_API_KEY}" {
		t.Errorf("expected OpenAI API key placeholder, got %q", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Pipeline.ChunkSize != 3000 {
		t.Errorf("expected chunk_size 3000, got %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.BaseDelay != 2*time.Second || cfg.Pipeline.MaxJitter != 500*time.Millisecond {
		t.Errorf("unexpected backoff %s/%s", cfg.Pipeline.BaseDelay, cfg.Pipeline.MaxJitter)
	}
	if cfg.Pipeline.PollInterval != time.Minute || cfg.Pipeline.InitialWait != time.Minute {
		t.Errorf("unexpected polling %s/%s", cfg.Pipeline.PollInterval, cfg.Pipeline.InitialWait)
	}
	if cfg.Providers.OpenAI.Timeout != 5*time.Minute {
		t.Errorf("expected 5m timeout, got %s", cfg.Providers.OpenAI.Timeout)
	}
	if cfg.Notify.SubjectPrefix != "castwright" || cfg.Notify.NATSURL != "" {
		t.Errorf("unexpected notify defaults %+v", cfg.Notify)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_OpenAIKey(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-123")

	cfg := DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "${TEST_OPENAI_KEY}"
	if got := cfg.OpenAIKey(); got != "sk-123" {
		t.Errorf("expected sk-123, got %s", got)
	}
	cfg.Providers.OpenAI.APIKey = "direct-key"
	if got := cfg.OpenAIKey(); got != "direct-key" {
		t.Errorf("expected direct-key, got %s", got)
	}
}

func TestConfig_InvokerPolicy(t *testing.T) {
	p := DefaultConfig().InvokerPolicy()
	if p.Attempts != 8 || p.BaseDelay != 2*time.Second || p.Pacing != 500*time.Millisecond {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestConfig_LogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{Log: LogCfg{Level: tt.in}}
		if got := cfg.LogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Pipeline.ChunkSize = 0 }},
		{"zero attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }},
		{"zero poll interval", func(c *Config) { c.Pipeline.PollInterval = 0 }},
		{"zero concurrency", func(c *Config) { c.Pipeline.MaxConcurrency = 0 }},
		{"override without key", func(c *Config) {
			c.Prompts.Overrides = []PromptOverride{{Category: "Health & Medicine"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_ApplyPromptOverrides(t *testing.T) {
	r := prompts.NewResolver(nil)
	podcastprompts.RegisterPrompts(r)

	cfg := DefaultConfig()
	cfg.Prompts.Overrides = []PromptOverride{
		{Category: "Health & Medicine", Key: podcastprompts.ChapterKey, Text: "Chapter {{.Number}}, keep it clinical."},
	}
	if err := cfg.ApplyPromptOverrides(r); err != nil {
		t.Fatalf("ApplyPromptOverrides() error = %v", err)
	}
	got, err := r.Resolve(podcastprompts.ChapterKey, "Health & Medicine")
	if err != nil || !got.IsOverride {
		t.Fatalf("expected override, got %+v, %v", got, err)
	}

	cfg.Prompts.Overrides = []PromptOverride{{Category: "Health & Medicine", Key: "podcast.unknown", Text: "x"}}
	if err := cfg.ApplyPromptOverrides(r); err == nil {
		t.Error("expected error for unknown prompt key")
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
providers:
  openai:
    voice: nova
pipeline:
  chunk_size: 1200
  base_delay: 3s
prompts:
  overrides:
    - category: "Health & Medicine"
      key: podcast.intro
      text: "Intro for {{.Title}}"
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Providers.OpenAI.Voice != "nova" {
			t.Errorf("expected nova, got %s", cfg.Providers.OpenAI.Voice)
		}
		if cfg.Providers.OpenAI.SpeechModel != "tts-1-hd" {
			t.Errorf("unset keys should keep defaults, got %s", cfg.Providers.OpenAI.SpeechModel)
		}
		if cfg.Pipeline.ChunkSize != 1200 || cfg.Pipeline.BaseDelay != 3*time.Second {
			t.Errorf("unexpected pipeline %+v", cfg.Pipeline)
		}
		if len(cfg.Prompts.Overrides) != 1 || cfg.Prompts.Overrides[0].Key != "podcast.intro" {
			t.Errorf("unexpected overrides %+v", cfg.Prompts.Overrides)
		}
		if mgr.File() != configFile {
			t.Errorf("File() = %s", mgr.File())
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("CASTWRIGHT_PIPELINE_CHUNK_SIZE", "800")
		configFile := writeConfig(t, "pipeline:\n  chunk_size: 1200\n")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().Pipeline.ChunkSize; got != 800 {
			t.Errorf("expected 800, got %d", got)
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		configFile := writeConfig(t, "pipeline:\n  chunk_size: -1\n")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for negative chunk size")
		}
	})

	t.Run("managers are independent", func(t *testing.T) {
		a, err := NewManager(writeConfig(t, "log:\n  level: debug\n"))
		if err != nil {
			t.Fatal(err)
		}
		b, err := NewManager(writeConfig(t, "log:\n  level: error\n"))
		if err != nil {
			t.Fatal(err)
		}
		if a.Get().Log.Level != "debug" || b.Get().Log.Level != "error" {
			t.Errorf("managers share state: %s / %s", a.Get().Log.Level, b.Get().Log.Level)
		}
	})
}

func TestManager_Value(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "stitch:\n  allow_byte_concat: true\n"))
	if err != nil {
		t.Fatal(err)
	}

	v, err := mgr.Value("stitch.allow_byte_concat")
	if err != nil || v != true {
		t.Errorf("Value() = %v, %v", v, err)
	}
	v, err = mgr.Value("pipeline.chunk_size")
	if err != nil || v != 3000 {
		t.Errorf("default Value() = %v (%T), %v", v, v, err)
	}
	if _, err := mgr.Value("no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := mgr.Value("bad key"); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Pipeline.ChunkSize
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "providers:\n  openai:\n    voice: onyx\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if v := mgr.Get().Providers.OpenAI.Voice; v != "onyx" {
		t.Errorf("initial value mismatch: expected onyx, got %s", v)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Providers.OpenAI.Voice)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("providers:\n  openai:\n    voice: shimmer\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}

	if v := mgr.Get().Providers.OpenAI.Voice; v != "shimmer" {
		t.Errorf("config not updated: expected shimmer, got %s", v)
	}
	if v := lastValue.Load(); v != "shimmer" {
		t.Errorf("callback received wrong value: expected shimmer, got %v", v)
	}
}
