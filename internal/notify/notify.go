// Package notify announces pipeline milestones to downstream consumers.
// Publishing is fire-and-forget: a failed publish is logged and never fails
// the pipeline step that triggered it.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

// Kind names an event; it is the last segment of the subject.
type Kind string

const (
	KindContentCompleted Kind = "content.completed"
	KindAudioGenerated   Kind = "audio.generated"
	KindAudioFinalized   Kind = "audio.finalized"
	KindPipelineFailed   Kind = "pipeline.failed"
)

// Messages sent with the success events.
const (
	MsgContentCompleted = "Content generation completed successfully"
	MsgAudioGenerated   = "Audio generation completed successfully"
	MsgAudioFinalized   = "Audio generation compressed successfully"
)

// DefaultSubjectPrefix is used when none is configured.
const DefaultSubjectPrefix = "castwright"

// Event is the payload published for every milestone.
type Event struct {
	TopicID string         `json:"topic_id"`
	Stage   pipeline.Stage `json:"stage"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, kind Kind, ev Event) error
	Close()
}

// Subject joins prefix and kind into a NATS-style subject.
func Subject(prefix string, kind Kind) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(kind)
}

// Notifier wraps a Publisher so callers never see its errors.
type Notifier struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewNotifier wraps pub. A nil pub logs events only.
func NewNotifier(pub Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = NewLogPublisher(logger)
	}
	return &Notifier{pub: pub, logger: logger.With("component", "notify"), now: time.Now}
}

// Notify publishes one event and logs any failure.
func (n *Notifier) Notify(ctx context.Context, kind Kind, topicID string, stage pipeline.Stage, message string) {
	if n == nil {
		return
	}
	ev := Event{TopicID: topicID, Stage: stage, Message: message, At: n.now().UTC()}
	if err := n.pub.Publish(ctx, kind, ev); err != nil {
		n.logger.Warn("failed to publish event", "kind", kind, "topic_id", topicID, "error", err)
	}
}

// Close closes the underlying publisher.
func (n *Notifier) Close() {
	if n != nil {
		n.pub.Close()
	}
}

// LogPublisher writes events to the log. It is the default when no broker is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, kind Kind, ev Event) error {
	p.logger.Info("pipeline event",
		"kind", kind,
		"topic_id", ev.TopicID,
		"stage", ev.Stage,
		"message", ev.Message)
	return nil
}

func (p *LogPublisher) Close() {}

// Recorder keeps published events in memory.
type Recorder struct {
	// Err, when set, is returned from every Publish.
	Err error

	mu     sync.Mutex
	events []Recorded
}

// Recorded is one event captured by a Recorder.
type Recorded struct {
	Kind  Kind
	Event Event
}

func (r *Recorder) Publish(ctx context.Context, kind Kind, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, Recorded{Kind: kind, Event: ev})
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds published so far, in order.
func (r *Recorder) Kinds() []Kind {
	var out []Kind
	for _, e := range r.Events() {
		out = append(out, e.Kind)
	}
	return out
}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*Recorder)(nil)
	_ Publisher = (*NATSPublisher)(nil)
)
