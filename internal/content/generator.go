// Package content generates the podcast script: an introduction followed by
// chapters 1..N, each produced with the running conversation as context.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/castwright/internal/invoker"
	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/prompts"
	"github.com/jackzampolin/castwright/internal/prompts/podcast"
	"github.com/jackzampolin/castwright/internal/providers"
)

const (
	// DefaultPruneThreshold is the conversation length above which history is pruned.
	DefaultPruneThreshold = 10
	// DefaultClaimTTL is the generation lease, renewed before every chapter.
	DefaultClaimTTL = 15 * time.Minute
)

// Config configures a Generator.
type Config struct {
	Ledger  ledger.Store
	Text    providers.TextGenerator
	Store   objstore.Store
	Prompts *prompts.Resolver
	Invoker *invoker.Invoker

	PruneThreshold int
	ClaimTTL       time.Duration
	Logger         *slog.Logger
}

// Generator runs the sequential script generation for a topic.
type Generator struct {
	ledger  ledger.Store
	text    providers.TextGenerator
	store   objstore.Store
	prompts *prompts.Resolver
	inv     *invoker.Invoker
	prune   int
	ttl     time.Duration
	logger  *slog.Logger
}

// Result reports the outcome of a generation run.
type Result struct {
	TopicID string `json:"topic_id"`
	OK      bool   `json:"ok"`
	// Units lists every unit persisted so far, in order.
	Units      []string `json:"units"`
	FailedUnit string   `json:"failed_unit,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// NewGenerator validates cfg and builds a Generator.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Ledger == nil || cfg.Text == nil || cfg.Store == nil {
		return nil, fmt.Errorf("content generator requires ledger, text generator, and store")
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewResolver(cfg.Logger)
		podcast.RegisterPrompts(cfg.Prompts)
	}
	if cfg.Invoker == nil {
		cfg.Invoker = invoker.New(invoker.Config{Logger: cfg.Logger})
	}
	if cfg.PruneThreshold <= 0 {
		cfg.PruneThreshold = DefaultPruneThreshold
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		ledger:  cfg.Ledger,
		text:    cfg.Text,
		store:   cfg.Store,
		prompts: cfg.Prompts,
		inv:     cfg.Invoker,
		prune:   cfg.PruneThreshold,
		ttl:     cfg.ClaimTTL,
		logger:  logger.With("component", "content"),
	}, nil
}

// Generate produces the intro and every chapter for topicID. Units that are
// already complete in the ledger are reloaded from the store instead of being
// generated again. Provider failures mark the topic FAILED and are reported in
// the Result; only infrastructure errors are returned as errors. One run per
// topic holds the "content" claim in the ledger; a concurrent run gets a
// ConsistencyError wrapping ledger.ErrClaimed.
func (g *Generator) Generate(ctx context.Context, topicID string) (*Result, error) {
	topic, err := g.ledger.Topic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	st, err := g.ledger.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if st.Stage == pipeline.StageFailed {
		return nil, fmt.Errorf("topic %s: %w", topicID, pipeline.ErrTopicFailed)
	}

	res := &Result{TopicID: topicID}
	logger := g.logger.With("topic_id", topicID)

	if pipeline.Behind(st.Stage, pipeline.StageContentComplete) {
		units, err := ListUnits(ctx, g.store, topicID)
		if err != nil {
			return nil, err
		}
		res.OK, res.Units = true, units
		logger.Debug("content already complete", "stage", st.Stage)
		return res, nil
	}

	claim := &ledger.Claim{Name: "content", Owner: uuid.NewString(), TTL: g.ttl}
	st, err = g.ledger.Update(ctx, topicID, ledger.Update{Stage: pipeline.StageGeneratingIntroduction, Claim: claim})
	if err != nil {
		return nil, fmt.Errorf("claim content generation: %w", err)
	}
	defer func() {
		if err := ledger.ReleaseClaim(ctx, g.ledger, topicID, claim); err != nil {
			logger.Warn("failed to release content claim", "error", err)
		}
	}()

	introPrompt, _, err := g.prompts.Render(podcast.IntroKey, topic.Category, podcast.IntroData{
		Title:       topic.Title,
		Description: topic.Description,
		Category:    topic.Category,
		Difficulty:  string(topic.Difficulty),
		Chapters:    topic.Chapters,
	})
	if err != nil {
		return nil, err
	}

	var intro string
	if st.IntroComplete {
		if intro, err = Load(ctx, g.store, topicID, pipeline.IntroUnit); err != nil {
			return nil, err
		}
	} else {
		intro, err = g.call(ctx, pipeline.IntroUnit, []providers.Message{providers.UserMessage(introPrompt)})
		if err != nil {
			return g.fail(ctx, res, pipeline.IntroUnit, err)
		}
		if intro, err = g.record(ctx, topicID, pipeline.IntroUnit, intro, ledger.Update{IntroComplete: true}); err != nil {
			return nil, err
		}
		logger.Info("generated introduction", "chars", len(intro))
	}
	res.Units = append(res.Units, pipeline.IntroUnit)

	conversation := []providers.Message{
		providers.UserMessage(introPrompt),
		providers.AssistantMessage(intro),
	}

	for i := 1; i <= topic.Chapters; i++ {
		unit := pipeline.ChapterUnit(i)
		if _, err := g.ledger.Update(ctx, topicID, ledger.Update{Stage: pipeline.ChapterStage(i), Claim: claim}); err != nil {
			return nil, err
		}

		chapterPrompt, _, err := g.prompts.Render(podcast.ChapterKey, topic.Category, podcast.ChapterData{Number: i})
		if err != nil {
			return nil, err
		}
		conversation = append(conversation, providers.UserMessage(chapterPrompt))

		var text string
		if st.ChaptersComplete[i] {
			if text, err = Load(ctx, g.store, topicID, unit); err != nil {
				return nil, err
			}
		} else {
			text, err = g.call(ctx, unit, conversation)
			if err != nil {
				return g.fail(ctx, res, unit, err)
			}
			if text, err = g.record(ctx, topicID, unit, text, ledger.Update{ChaptersComplete: []int{i}}); err != nil {
				return nil, err
			}
			logger.Info("generated chapter", "chapter", i, "chars", len(text), "context_messages", len(conversation))
		}
		res.Units = append(res.Units, unit)

		conversation = append(conversation, providers.AssistantMessage(text))
		conversation = Prune(conversation, g.prune)
	}

	if _, err := g.ledger.Update(ctx, topicID, ledger.Advance(pipeline.StageContentComplete)); err != nil {
		return nil, err
	}
	res.OK = true
	logger.Info("content generation complete", "units", len(res.Units))
	return res, nil
}

// record saves a freshly generated unit and flags it complete. A unit already
// in the store wins over text: it was written by an earlier run that stopped
// before flagging it, and downstream audio must match what was stored. The
// stored text is returned.
func (g *Generator) record(ctx context.Context, topicID, unit, text string, flag ledger.Update) (string, error) {
	if err := Save(ctx, g.store, topicID, unit, text); err != nil {
		if !errors.Is(err, objstore.ErrExists) {
			return "", err
		}
		if text, err = Load(ctx, g.store, topicID, unit); err != nil {
			return "", err
		}
		g.logger.Warn("keeping previously stored unit", "topic_id", topicID, "unit", unit)
	}
	flag.AudioComplete = map[string]pipeline.AudioState{unit: pipeline.AudioPending}
	if _, err := g.ledger.Update(ctx, topicID, flag); err != nil {
		return "", err
	}
	return text, nil
}

func (g *Generator) call(ctx context.Context, unit string, conversation []providers.Message) (string, error) {
	msgs := slices.Clone(conversation)
	return invoker.Do(ctx, g.inv, "generate "+unit, func(ctx context.Context) (string, error) {
		return g.text.Generate(ctx, msgs)
	})
}

// fail records a provider failure against the topic. Cancellation is passed
// through untouched so a shutdown never marks work FAILED.
func (g *Generator) fail(ctx context.Context, res *Result, unit string, cause error) (*Result, error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return nil, cause
	}
	reason := fmt.Sprintf("%s: %v", unit, cause)
	if _, err := g.ledger.Update(ctx, res.TopicID, ledger.Fail(reason)); err != nil {
		return nil, fmt.Errorf("record failure for %s: %w", unit, err)
	}
	g.logger.Error("content generation failed", "topic_id", res.TopicID, "unit", unit, "error", cause)
	res.OK = false
	res.FailedUnit = unit
	res.Reason = reason
	return res, nil
}

// Prune bounds conversation length. Past threshold messages it keeps the first
// four (intro exchange plus first chapter), a continuation marker, and the
// last four.
func Prune(conversation []providers.Message, threshold int) []providers.Message {
	if len(conversation) <= threshold {
		return conversation
	}
	out := make([]providers.Message, 0, 9)
	out = append(out, conversation[:4]...)
	out = append(out, providers.UserMessage(podcast.ContinueMessage))
	out = append(out, conversation[len(conversation)-4:]...)
	return out
}
