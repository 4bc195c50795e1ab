package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/castwright/internal/invoker"
	"github.com/jackzampolin/castwright/internal/prompts"
)

// Config holds castwright configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Providers ProvidersCfg `mapstructure:"providers" yaml:"providers"`
	Pipeline  PipelineCfg  `mapstructure:"pipeline" yaml:"pipeline"`
	Storage   StorageCfg   `mapstructure:"storage" yaml:"storage"`
	Stitch    StitchCfg    `mapstructure:"stitch" yaml:"stitch"`
	Notify    NotifyCfg    `mapstructure:"notify" yaml:"notify"`
	Telemetry TelemetryCfg `mapstructure:"telemetry" yaml:"telemetry"`
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
	Log       LogCfg       `mapstructure:"log" yaml:"log"`
	Prompts   PromptsCfg   `mapstructure:"prompts" yaml:"prompts"`
}

// ProvidersCfg groups provider settings.
type ProvidersCfg struct {
	OpenAI OpenAICfg `mapstructure:"openai" yaml:"openai"`
}

// OpenAICfg configures both the text and the speech client.
type OpenAICfg struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`   // supports ${ENV_VAR} syntax
	BaseURL string `mapstructure:"base_url" yaml:"base_url"` // empty = api.openai.com

	TextModel   string  `mapstructure:"text_model" yaml:"text_model"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`

	SpeechModel  string  `mapstructure:"speech_model" yaml:"speech_model"`
	Voice        string  `mapstructure:"voice" yaml:"voice"`
	Speed        float64 `mapstructure:"speed" yaml:"speed"`
	Instructions string  `mapstructure:"instructions" yaml:"instructions"`

	RateLimit  int           `mapstructure:"rate_limit" yaml:"rate_limit"` // speech requests per minute
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Workers    int           `mapstructure:"workers" yaml:"workers"` // speech job workers
}

// PipelineCfg tunes chunking, retries and polling.
type PipelineCfg struct {
	ChunkSize      int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxJitter      time.Duration `mapstructure:"max_jitter" yaml:"max_jitter"`
	Pacing         time.Duration `mapstructure:"pacing" yaml:"pacing"`
	PruneThreshold int           `mapstructure:"prune_threshold" yaml:"prune_threshold"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	InitialWait    time.Duration `mapstructure:"initial_wait" yaml:"initial_wait"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
}

// StorageCfg locates the ledger and artifact stores. Empty paths resolve
// under the home directory.
type StorageCfg struct {
	LedgerPath string `mapstructure:"ledger_path" yaml:"ledger_path"`
	ContentDir string `mapstructure:"content_dir" yaml:"content_dir"`
	AudioDir   string `mapstructure:"audio_dir" yaml:"audio_dir"`
	ScratchDir string `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	LocksDir   string `mapstructure:"locks_dir" yaml:"locks_dir"`
}

// StitchCfg selects the audio concatenator.
type StitchCfg struct {
	FFmpegPath      string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	AllowByteConcat bool   `mapstructure:"allow_byte_concat" yaml:"allow_byte_concat"`
}

// NotifyCfg configures pipeline event publishing. An empty URL logs events
// instead of publishing them.
type NotifyCfg struct {
	NATSURL       string `mapstructure:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Name          string `mapstructure:"name" yaml:"name"`
}

// TelemetryCfg configures tracing export.
type TelemetryCfg struct {
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	Environment  string `mapstructure:"environment" yaml:"environment"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
	StdoutTraces bool   `mapstructure:"stdout_traces" yaml:"stdout_traces"`
}

// ServerCfg is the HTTP listen address.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// LogCfg sets the log level: debug, info, warn or error.
type LogCfg struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// PromptsCfg holds per-category prompt text overrides.
type PromptsCfg struct {
	Overrides []PromptOverride `mapstructure:"overrides" yaml:"overrides"`
}

// PromptOverride replaces one embedded prompt for one topic category.
type PromptOverride struct {
	Category string `mapstructure:"category" yaml:"category"`
	Key      string `mapstructure:"key" yaml:"key"`
	Text     string `mapstructure:"text" yaml:"text"`
}

// OpenAIKey returns the OpenAI API key with ${ENV_VAR} references resolved.
func (c *Config) OpenAIKey() string {
	return ResolveEnvVars(c.Providers.OpenAI.APIKey)
}

// InvokerPolicy converts the pipeline retry settings.
func (c *Config) InvokerPolicy() invoker.Policy {
	return invoker.Policy{
		Attempts:  c.Pipeline.MaxAttempts,
		BaseDelay: c.Pipeline.BaseDelay,
		MaxJitter: c.Pipeline.MaxJitter,
		Pacing:    c.Pipeline.Pacing,
	}
}

// LogLevel parses Log.Level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ApplyPromptOverrides registers every configured override with r.
func (c *Config) ApplyPromptOverrides(r *prompts.Resolver) error {
	for _, o := range c.Prompts.Overrides {
		if err := r.SetOverride(o.Category, o.Key, o.Text); err != nil {
			return fmt.Errorf("prompt override %s/%s: %w", o.Category, o.Key, err)
		}
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.ChunkSize <= 0:
		return fmt.Errorf("pipeline.chunk_size must be positive, got %d", p.ChunkSize)
	case p.MaxAttempts <= 0:
		return fmt.Errorf("pipeline.max_attempts must be positive, got %d", p.MaxAttempts)
	case p.PollInterval <= 0:
		return fmt.Errorf("pipeline.poll_interval must be positive, got %s", p.PollInterval)
	case p.MaxConcurrency <= 0:
		return fmt.Errorf("pipeline.max_concurrency must be positive, got %d", p.MaxConcurrency)
	}
	for _, o := range c.Prompts.Overrides {
		if o.Category == "" || o.Key == "" {
			return fmt.Errorf("prompt overrides need both category and key")
		}
	}
	return nil
}

// DefaultConfig returns configuration built from DefaultEntries.
func DefaultConfig() *Config {
	v := newViper()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config does not decode: %v", err))
	}
	return &cfg
}
