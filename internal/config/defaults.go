package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// ErrInvalidKey is returned when a config key contains invalid characters.
var ErrInvalidKey = errors.New("invalid config key")

// Entry is one configuration key with its default value.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns the default configuration entries. They seed viper's
// defaults and the file written by WriteDefault.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// OpenAI
		// ===================
		{
			Key:         "providers.openai.api_key",
			Value:       "${OPENAI_API_KEY}",
			Description: "OpenAI API key (uses environment variable)",
		},
		{
			Key:         "providers.openai.base_url",
			Value:       "",
			Description: "Override the OpenAI API base URL",
		},
		{
			Key:         "providers.openai.text_model",
			Value:       "gpt-4o",
			Description: "Chat model used for intro and chapter generation",
		},
		{
			Key:         "providers.openai.max_tokens",
			Value:       4096,
			Description: "Maximum completion tokens per chapter",
		},
		{
			Key:         "providers.openai.temperature",
			Value:       0.7,
			Description: "Sampling temperature for text generation",
		},
		{
			Key:         "providers.openai.speech_model",
			Value:       "tts-1-hd",
			Description: "Default OpenAI TTS model",
		},
		{
			Key:         "providers.openai.voice",
			Value:       "onyx",
			Description: "Default OpenAI TTS voice",
		},
		{
			Key:         "providers.openai.speed",
			Value:       1.0,
			Description: "Default OpenAI speech speed",
		},
		{
			Key:         "providers.openai.instructions",
			Value:       "",
			Description: "Optional instructions for gpt-4o-mini-tts generation",
		},
		{
			Key:         "providers.openai.rate_limit",
			Value:       150,
			Description: "Speech requests per minute",
		},
		{
			Key:         "providers.openai.max_retries",
			Value:       2,
			Description: "Retries performed by the OpenAI client itself",
		},
		{
			Key:         "providers.openai.timeout",
			Value:       "5m",
			Description: "HTTP timeout for OpenAI requests",
		},
		{
			Key:         "providers.openai.workers",
			Value:       4,
			Description: "Concurrent speech synthesis workers",
		},

		// ===================
		// Pipeline
		// ===================
		{
			Key:         "pipeline.chunk_size",
			Value:       3000,
			Description: "Maximum characters per synthesis chunk",
		},
		{
			Key:         "pipeline.max_attempts",
			Value:       8,
			Description: "Attempts per provider call before giving up",
		},
		{
			Key:         "pipeline.base_delay",
			Value:       "2s",
			Description: "Backoff base; retry n waits base * 2^n plus jitter",
		},
		{
			Key:         "pipeline.max_jitter",
			Value:       "500ms",
			Description: "Upper bound of random jitter added to each backoff",
		},
		{
			Key:         "pipeline.pacing",
			Value:       "500ms",
			Description: "Fixed pause between consecutive provider calls",
		},
		{
			Key:         "pipeline.prune_threshold",
			Value:       10,
			Description: "Conversation length above which history is pruned",
		},
		{
			Key:         "pipeline.poll_interval",
			Value:       "60s",
			Description: "Wait between convergence polls",
		},
		{
			Key:         "pipeline.initial_wait",
			Value:       "60s",
			Description: "Wait after dispatch before the first poll",
		},
		{
			Key:         "pipeline.max_concurrency",
			Value:       4,
			Description: "Units dispatched or stitched at once by the workflow runner",
		},

		// ===================
		// Storage
		// ===================
		{
			Key:         "storage.ledger_path",
			Value:       "",
			Description: "SQLite ledger path (default: {home}/ledger.db)",
		},
		{
			Key:         "storage.content_dir",
			Value:       "",
			Description: "Generated text directory (default: {home}/content)",
		},
		{
			Key:         "storage.audio_dir",
			Value:       "",
			Description: "Audio directory (default: {home}/audio)",
		},
		{
			Key:         "storage.scratch_dir",
			Value:       "",
			Description: "Temporary stitch directory (default: {home}/scratch)",
		},
		{
			Key:         "storage.locks_dir",
			Value:       "",
			Description: "Stitch lock directory (default: {home}/locks)",
		},

		// ===================
		// Stitch
		// ===================
		{
			Key:         "stitch.ffmpeg_path",
			Value:       "ffmpeg",
			Description: "ffmpeg binary used to join audio parts",
		},
		{
			Key:         "stitch.allow_byte_concat",
			Value:       false,
			Description: "Join MP3 parts by byte concatenation when ffmpeg is missing",
		},

		// ===================
		// Notify
		// ===================
		{
			Key:         "notify.nats_url",
			Value:       "",
			Description: "NATS server URL; empty logs events instead",
		},
		{
			Key:         "notify.subject_prefix",
			Value:       "castwright",
			Description: "Subject prefix for pipeline events",
		},
		{
			Key:         "notify.name",
			Value:       "castwright",
			Description: "NATS connection name",
		},

		// ===================
		// Telemetry
		// ===================
		{
			Key:         "telemetry.service_name",
			Value:       "castwright",
			Description: "service.name resource attribute",
		},
		{
			Key:         "telemetry.environment",
			Value:       "",
			Description: "deployment.environment resource attribute",
		},
		{
			Key:         "telemetry.otlp_endpoint",
			Value:       "",
			Description: "OTLP gRPC endpoint for traces",
		},
		{
			Key:         "telemetry.otlp_insecure",
			Value:       false,
			Description: "Disable TLS for the OTLP exporter",
		},
		{
			Key:         "telemetry.stdout_traces",
			Value:       false,
			Description: "Print spans to stdout when no OTLP endpoint is set",
		},

		// ===================
		// Server
		// ===================
		{
			Key:         "server.host",
			Value:       "127.0.0.1",
			Description: "Address to bind to",
		},
		{
			Key:         "server.port",
			Value:       "8080",
			Description: "Port to listen on",
		},

		// ===================
		// Log
		// ===================
		{
			Key:         "log.level",
			Value:       "info",
			Description: "Log level: debug, info, warn, error",
		},

		// ===================
		// Prompts
		// ===================
		{
			Key:         "prompts.overrides",
			Value:       []any{},
			Description: "Per-category prompt overrides: [{category, key, text}]",
		},
	}
}

// GetDefault returns the default entry for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

// nest turns dotted entries into the nested map a YAML file holds.
func nest(entries []Entry) map[string]any {
	root := make(map[string]any)
	for _, e := range entries {
		parts := strings.Split(e.Key, ".")
		m := root
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = e.Value
	}
	return root
}
