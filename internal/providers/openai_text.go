package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

const (
	OpenAITextName         = "openai"
	openAITextDefaultModel = "gpt-4o-mini"
	openAITextMaxTokens    = 4096
)

// OpenAITextConfig holds configuration for the OpenAI chat client.
type OpenAITextConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// MaxRetries is the SDK transport retry count. The invoker owns
	// pipeline-level retries, so this defaults to zero.
	MaxRetries int
	Timeout    time.Duration
	BaseURL    string       // Optional (tests)
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIText implements TextGenerator over Chat Completions.
type OpenAIText struct {
	model       string
	maxTokens   int
	temperature float64
	client      openai.Client
}

// NewOpenAIText creates a new chat client.
func NewOpenAIText(cfg OpenAITextConfig) *OpenAIText {
	if cfg.Model == "" {
		cfg.Model = openAITextDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = openAITextMaxTokens
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

	return &OpenAIText{
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIText) Name() string {
	return OpenAITextName
}

// Model returns the configured model.
func (c *OpenAIText) Model() string {
	return c.model
}

// Generate sends the whole conversation and returns the reply text.
func (c *OpenAIText) Generate(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", &pipeline.ValidationError{Field: "messages", Reason: "at least one message is required"}
	}

	params := openai.ChatCompletionNewParams{
		Messages:            make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
		Model:               openai.ChatModel(c.model),
		MaxCompletionTokens: openai.Int(int64(c.maxTokens)),
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		case RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		default:
			return "", &pipeline.ValidationError{Field: "messages", Reason: fmt.Sprintf("unknown role %q", m.Role)}
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", mapOpenAIError(OpenAITextName, err)
	}
	if len(resp.Choices) == 0 {
		return "", &pipeline.TransientProviderError{Provider: OpenAITextName, Err: fmt.Errorf("response had no choices")}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &pipeline.TransientProviderError{Provider: OpenAITextName, Err: fmt.Errorf("empty completion")}
	}
	return text, nil
}

var _ TextGenerator = (*OpenAIText)(nil)
