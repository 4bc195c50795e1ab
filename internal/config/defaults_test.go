package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v2"
)

func TestDefaultEntries(t *testing.T) {
	entries := DefaultEntries()

	if len(entries) == 0 {
		t.Fatal("DefaultEntries() returned empty slice")
	}

	requiredKeys := []string{
		"providers.openai.api_key",
		"providers.openai.text_model",
		"providers.openai.speech_model",
		"providers.openai.voice",
		"pipeline.chunk_size",
		"pipeline.max_attempts",
		"pipeline.poll_interval",
		"storage.ledger_path",
		"stitch.ffmpeg_path",
		"notify.nats_url",
		"telemetry.otlp_endpoint",
		"log.level",
	}

	keys := make(map[string]bool)
	for _, e := range entries {
		if keys[e.Key] {
			t.Errorf("duplicate key %s", e.Key)
		}
		keys[e.Key] = true
		if err := ValidateKey(e.Key); err != nil {
			t.Errorf("default key %q is invalid: %v", e.Key, err)
		}
		if e.Description == "" {
			t.Errorf("key %s has no description", e.Key)
		}
	}

	for _, key := range requiredKeys {
		if !keys[key] {
			t.Errorf("DefaultEntries() missing required key: %s", key)
		}
	}
}

func TestGetDefault(t *testing.T) {
	t.Run("existing_key", func(t *testing.T) {
		entry := GetDefault("providers.openai.speech_model")
		if entry == nil {
			t.Fatal("GetDefault() returned nil for existing key")
		}
		if entry.Value != "tts-1-hd" {
			t.Errorf("GetDefault() Value = %v, want %q", entry.Value, "tts-1-hd")
		}
	})

	t.Run("non_existent_key", func(t *testing.T) {
		entry := GetDefault("does.not.exist")
		if entry != nil {
			t.Errorf("GetDefault() = %v, want nil for non-existent key", entry)
		}
	})
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"pipeline.chunk_size", true},
		{"providers.openai.api-key", true},
		{"", false},
		{".leading", false},
		{"trailing.", false},
		{"has space", false},
		{"semi;colon", false},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.valid && err != nil {
			t.Errorf("ValidateKey(%q) = %v, want nil", tt.key, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) = %v, want ErrInvalidKey", tt.key, err)
		}
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# castwright configuration") {
		t.Error("missing header comment")
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("written file is not YAML: %v", err)
	}
	for _, section := range []string{"providers", "pipeline", "storage", "stitch", "notify", "telemetry", "server", "log", "prompts"} {
		if _, ok := doc[section]; !ok {
			t.Errorf("missing section %s", section)
		}
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written defaults do not load: %v", err)
	}
	got, want := mgr.Get(), DefaultConfig()
	if got.Pipeline != want.Pipeline || got.Providers.OpenAI != want.Providers.OpenAI {
		t.Errorf("written defaults differ:\n got %+v\nwant %+v", got.Pipeline, want.Pipeline)
	}
}

func TestNest(t *testing.T) {
	m := nest([]Entry{
		{Key: "a.b.c", Value: 1},
		{Key: "a.b.d", Value: 2},
		{Key: "e", Value: "x"},
	})
	ab, ok := m["a"].(map[string]any)["b"].(map[string]any)
	if !ok || ab["c"] != 1 || ab["d"] != 2 || m["e"] != "x" {
		t.Errorf("unexpected nesting %v", m)
	}
}
