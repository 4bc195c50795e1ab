package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

const (
	OpenAITTSName         = "openai-tts"
	openAITTSDefaultModel = openai.SpeechModelTTS1HD
	openAITTSDefaultVoice = "onyx"
)

// OpenAITTSConfig holds configuration for the OpenAI speech client.
type OpenAITTSConfig struct {
	APIKey       string
	Model        string  // "tts-1-hd" (default), "tts-1", "gpt-4o-mini-tts"
	Voice        string  // "onyx" (default)
	Speed        float64 // 0.25-4.0
	Instructions string  // Used by gpt-4o-mini-tts
	MaxRetries   int
	Timeout      time.Duration
	BaseURL      string       // Optional (tests)
	HTTPClient   *http.Client // Optional (tests)
}

// OpenAITTS renders one chunk of text to MP3 synchronously. SpeechRunner
// wraps it to provide the asynchronous job interface.
type OpenAITTS struct {
	model        string
	voice        string
	speed        float64
	instructions string
	client       openai.Client
}

// NewOpenAITTS creates a new speech client.
func NewOpenAITTS(cfg OpenAITTSConfig) *OpenAITTS {
	if cfg.Model == "" {
		cfg.Model = openAITTSDefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = openAITTSDefaultVoice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAITTS{
		model:        cfg.Model,
		voice:        cfg.Voice,
		speed:        cfg.Speed,
		instructions: cfg.Instructions,
		client:       openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAITTS) Name() string {
	return OpenAITTSName
}

// Synthesize converts text to MP3 bytes.
func (c *OpenAITTS) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &pipeline.ValidationError{Field: "text", Reason: "text is required"}
	}
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = c.voice
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(c.speed),
	}
	if instructions := strings.TrimSpace(c.instructions); instructions != "" && supportsInstructions(c.model) {
		params.Instructions = openai.String(instructions)
	}

	resp, err := c.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(OpenAITTSName, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pipeline.TransientProviderError{
			Provider: OpenAITTSName,
			Err:      fmt.Errorf("failed reading audio response: %w", err),
		}
	}
	if len(audio) == 0 {
		return nil, &pipeline.TransientProviderError{Provider: OpenAITTSName, Err: fmt.Errorf("empty audio response")}
	}
	return audio, nil
}

func supportsInstructions(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.HasPrefix(m, "gpt-4o-mini-tts")
}
