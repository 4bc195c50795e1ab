package providers

import (
	"context"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// TextGenerator produces long-form text from a conversation.
type TextGenerator interface {
	// Generate returns the assistant reply to msgs.
	Generate(ctx context.Context, msgs []Message) (string, error)

	// Name returns the client identifier (e.g., "openai").
	Name() string
}

// SynthesisRequest is one chunk of narration to render.
type SynthesisRequest struct {
	Text string
	// OutputKey is the artifact stem; the audio lands at OutputKey + ".mp3".
	OutputKey string
	Voice     string
}

// SpeechSynthesizer renders speech asynchronously. Submit returns a job handle
// immediately and Query reports its progress.
type SpeechSynthesizer interface {
	Submit(ctx context.Context, req SynthesisRequest) (string, error)
	Query(ctx context.Context, jobID string) (pipeline.JobStatus, error)
}

// JobErrorReporter is implemented by synthesizers that keep a failure message
// for jobs that ended FAILED.
type JobErrorReporter interface {
	JobError(jobID string) string
}

// AudioExt is the artifact extension for synthesized and stitched audio.
const AudioExt = ".mp3"
