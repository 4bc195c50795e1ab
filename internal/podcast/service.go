// Package podcast is the operation surface of the pipeline. Each method is one
// bounded step a scheduler or HTTP client can call; progress lives in the
// ledger, so any step can be retried or resumed by calling it again.
package podcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jackzampolin/castwright/internal/content"
	"github.com/jackzampolin/castwright/internal/invoker"
	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/notify"
	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/prompts"
	"github.com/jackzampolin/castwright/internal/providers"
	"github.com/jackzampolin/castwright/internal/stitch"
	"github.com/jackzampolin/castwright/internal/synthesis"
	"github.com/jackzampolin/castwright/internal/telemetry"
)

// Config holds the service's dependencies.
type Config struct {
	Ledger  ledger.Store
	Content objstore.Store
	Audio   objstore.Store
	Text    providers.TextGenerator
	Speech  providers.SpeechSynthesizer
	Concat  stitch.Concatenator
	Prompts *prompts.Resolver
	Invoker *invoker.Invoker

	ChunkSize      int
	Voice          string
	PruneThreshold int
	ScratchDir     string
	LocksDir       string

	// Notifier, Instruments and Tracer are optional.
	Notifier    *notify.Notifier
	Instruments *telemetry.Instruments
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// StartResult is returned by StartTopic.
type StartResult struct {
	TopicID   string         `json:"topic_id"`
	RequestID string         `json:"request_id"`
	Status    pipeline.Stage `json:"status"`
}

// Service runs pipeline operations against one ledger.
type Service struct {
	ledger     ledger.Store
	content    objstore.Store
	generator  *content.Generator
	dispatcher *synthesis.Dispatcher
	poller     *synthesis.Poller
	stitcher   *stitch.Stitcher
	notifier   *notify.Notifier
	inst       *telemetry.Instruments
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New builds the pipeline components from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Ledger == nil || cfg.Content == nil || cfg.Audio == nil {
		return nil, fmt.Errorf("podcast service requires ledger, content store, and audio store")
	}
	if cfg.Text == nil || cfg.Speech == nil || cfg.Concat == nil {
		return nil, fmt.Errorf("podcast service requires text generator, speech synthesizer, and concatenator")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Invoker == nil {
		var obs invoker.Observer
		if cfg.Instruments != nil {
			obs = cfg.Instruments
		}
		cfg.Invoker = invoker.New(invoker.Config{Observer: obs, Logger: logger})
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewNotifier(nil, logger)
	}

	gen, err := content.NewGenerator(content.Config{
		Ledger:         cfg.Ledger,
		Text:           cfg.Text,
		Store:          cfg.Content,
		Prompts:        cfg.Prompts,
		Invoker:        cfg.Invoker,
		PruneThreshold: cfg.PruneThreshold,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	disp, err := synthesis.NewDispatcher(synthesis.DispatcherConfig{
		Ledger:    cfg.Ledger,
		Speech:    cfg.Speech,
		Content:   cfg.Content,
		Invoker:   cfg.Invoker,
		ChunkSize: cfg.ChunkSize,
		Voice:     cfg.Voice,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	st, err := stitch.New(stitch.Config{
		Ledger:     cfg.Ledger,
		Audio:      cfg.Audio,
		Concat:     cfg.Concat,
		ScratchDir: cfg.ScratchDir,
		LocksDir:   cfg.LocksDir,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		ledger:     cfg.Ledger,
		content:    cfg.Content,
		generator:  gen,
		dispatcher: disp,
		poller:     synthesis.NewPoller(cfg.Ledger, cfg.Speech, logger),
		stitcher:   st,
		notifier:   cfg.Notifier,
		inst:       cfg.Instruments,
		tracer:     cfg.Tracer,
		logger:     logger.With("component", "podcast"),
	}, nil
}

// StartTopic validates req and records a new topic at ACCEPTED.
func (s *Service) StartTopic(ctx context.Context, req TopicRequest) (_ *StartResult, err error) {
	ctx, span := s.tracer.Start(ctx, "podcast.StartTopic", trace.WithAttributes(
		attribute.String("category", req.Category),
		attribute.Int("chapters", req.Chapters),
	))
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	topic := pipeline.Topic{
		ID:          uuid.NewString(),
		RequestID:   uuid.NewString(),
		Category:    req.Category,
		Title:       req.Title,
		Description: req.Description,
		Difficulty:  req.Difficulty,
		Chapters:    req.Chapters,
		CreatedAt:   time.Now().UTC(),
	}
	st, err := s.ledger.Create(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	span.SetAttributes(attribute.String("topic_id", topic.ID))
	s.logger.Info("accepted topic", "topic_id", topic.ID, "request_id", topic.RequestID, "title", topic.Title, "chapters", topic.Chapters)
	return &StartResult{TopicID: topic.ID, RequestID: topic.RequestID, Status: st.Stage}, nil
}

// GenerateContent produces the intro and chapters for a topic.
func (s *Service) GenerateContent(ctx context.Context, topicID string) (_ *content.Result, err error) {
	ctx, span := s.start(ctx, "podcast.GenerateContent", topicID)
	defer func() { endSpan(span, err) }()

	res, err := s.generator.Generate(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if res.OK {
		s.notifier.Notify(ctx, notify.KindContentCompleted, topicID, pipeline.StageContentComplete, notify.MsgContentCompleted)
	} else {
		s.failed(ctx, span, topicID, res.Reason)
	}
	return res, nil
}

// ListContentUnits returns the persisted units of a topic in order.
func (s *Service) ListContentUnits(ctx context.Context, topicID string) (_ []string, err error) {
	ctx, span := s.start(ctx, "podcast.ListContentUnits", topicID)
	defer func() { endSpan(span, err) }()

	if _, err := s.ledger.Get(ctx, topicID); err != nil {
		return nil, err
	}
	return content.ListUnits(ctx, s.content, topicID)
}

// DispatchSynthesis submits synthesis jobs for one unit.
func (s *Service) DispatchSynthesis(ctx context.Context, topicID, unitKey string) (_ *synthesis.DispatchResult, err error) {
	ctx, span := s.start(ctx, "podcast.DispatchSynthesis", topicID, attribute.String("unit_key", unitKey))
	defer func() { endSpan(span, err) }()

	res, err := s.dispatcher.Dispatch(ctx, topicID, unitKey)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("jobs", len(res.Jobs)), attribute.Bool("skipped", res.Skipped))
	if !res.OK {
		s.failed(ctx, span, topicID, res.Reason)
	}
	return res, nil
}

// PollConvergence queries outstanding jobs once.
func (s *Service) PollConvergence(ctx context.Context, topicID string) (_ *synthesis.PollResult, err error) {
	ctx, span := s.start(ctx, "podcast.PollConvergence", topicID)
	defer func() { endSpan(span, err) }()

	res, err := s.poller.Poll(ctx, topicID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("converged", res.Converged), attribute.Int("pending", res.Pending))
	if res.FirstConvergence {
		s.notifier.Notify(ctx, notify.KindAudioGenerated, topicID, pipeline.StageAudioGenerated, notify.MsgAudioGenerated)
	}
	return res, nil
}

// StitchAudio joins one unit's parts.
func (s *Service) StitchAudio(ctx context.Context, topicID, unitKey string) (_ *stitch.Result, err error) {
	ctx, span := s.start(ctx, "podcast.StitchAudio", topicID, attribute.String("unit_key", unitKey))
	defer func() { endSpan(span, err) }()

	res, err := s.stitcher.Stitch(ctx, topicID, unitKey)
	if err != nil {
		s.inst.StitchResult(ctx, "ERROR")
		return nil, err
	}
	s.inst.StitchResult(ctx, string(res.Status))
	span.SetAttributes(attribute.String("status", string(res.Status)), attribute.Int("parts", res.Parts))
	if res.Completed {
		s.notifier.Notify(ctx, notify.KindAudioFinalized, topicID, pipeline.StageCompleted, notify.MsgAudioFinalized)
	}
	return res, nil
}

// Status returns the ledger record for a topic.
func (s *Service) Status(ctx context.Context, topicID string) (*pipeline.Status, error) {
	return s.ledger.Get(ctx, topicID)
}

// Topic returns the accepted request for a topic.
func (s *Service) Topic(ctx context.Context, topicID string) (*pipeline.Topic, error) {
	return s.ledger.Topic(ctx, topicID)
}

// Ping checks the ledger.
func (s *Service) Ping(ctx context.Context) error {
	return s.ledger.Ping(ctx)
}

func (s *Service) start(ctx context.Context, name, topicID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("topic_id", topicID))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) failed(ctx context.Context, span trace.Span, topicID, reason string) {
	span.SetStatus(codes.Error, reason)
	s.notifier.Notify(ctx, notify.KindPipelineFailed, topicID, pipeline.StageFailed, reason)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, context.Canceled) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
