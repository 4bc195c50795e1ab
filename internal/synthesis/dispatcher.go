// Package synthesis fans content units out into speech-synthesis jobs and
// polls those jobs until they converge.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/castwright/internal/chunker"
	"github.com/jackzampolin/castwright/internal/content"
	"github.com/jackzampolin/castwright/internal/invoker"
	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/providers"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Ledger  ledger.Store
	Speech  providers.SpeechSynthesizer
	Content objstore.Store
	Invoker *invoker.Invoker

	ChunkSize int
	Voice     string
	// ClaimTTL bounds how long a crashed dispatcher can block a unit.
	ClaimTTL time.Duration
	Logger   *slog.Logger
}

// DefaultClaimTTL is the dispatch lease when none is configured.
const DefaultClaimTTL = 10 * time.Minute

// Dispatcher submits one synthesis job per chunk of a content unit.
type Dispatcher struct {
	ledger    ledger.Store
	speech    providers.SpeechSynthesizer
	content   objstore.Store
	inv       *invoker.Invoker
	chunkSize int
	voice     string
	claimTTL  time.Duration
	logger    *slog.Logger
}

// DispatchResult reports the jobs created for a unit.
type DispatchResult struct {
	TopicID string                  `json:"topic_id"`
	UnitKey string                  `json:"unit_key"`
	OK      bool                    `json:"ok"`
	Jobs    []pipeline.SynthesisJob `json:"jobs"`
	// Skipped is set when the unit was already dispatched; Jobs then holds
	// the existing handles.
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// NewDispatcher validates cfg and builds a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Ledger == nil || cfg.Speech == nil || cfg.Content == nil {
		return nil, fmt.Errorf("dispatcher requires ledger, speech synthesizer, and content store")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultMaxChars
	}
	if cfg.Invoker == nil {
		cfg.Invoker = invoker.New(invoker.Config{Logger: cfg.Logger})
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		ledger:    cfg.Ledger,
		speech:    cfg.Speech,
		content:   cfg.Content,
		inv:       cfg.Invoker,
		chunkSize: cfg.ChunkSize,
		voice:     cfg.Voice,
		claimTTL:  cfg.ClaimTTL,
		logger:    logger.With("component", "dispatcher"),
	}, nil
}

// Dispatch chunks unitKey's text and submits every chunk. A unit that already
// has jobs in the ledger is never submitted again. Concurrent dispatchers,
// in this process or another sharing the ledger, serialize on a per-unit
// claim; the loser gets a ConsistencyError wrapping ledger.ErrClaimed.
func (d *Dispatcher) Dispatch(ctx context.Context, topicID, unitKey string) (*DispatchResult, error) {
	if !pipeline.ValidUnitKey(unitKey) {
		return nil, &pipeline.ValidationError{Field: "unit_key", Reason: fmt.Sprintf("invalid unit key %q", unitKey)}
	}

	st, err := d.ledger.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if st.Stage == pipeline.StageFailed {
		return nil, fmt.Errorf("topic %s: %w", topicID, pipeline.ErrTopicFailed)
	}
	if !pipeline.Behind(st.Stage, pipeline.StageContentComplete) {
		return nil, &pipeline.ConsistencyError{TopicID: topicID, Reason: fmt.Sprintf("content not complete (stage %s)", st.Stage)}
	}

	res := &DispatchResult{TopicID: topicID, UnitKey: unitKey}
	if dispatched(st, unitKey) {
		return d.skip(res, st), nil
	}

	claim := &ledger.Claim{Name: "dispatch/" + unitKey, Owner: uuid.NewString(), TTL: d.claimTTL}
	if st, err = d.ledger.Update(ctx, topicID, ledger.Update{Claim: claim}); err != nil {
		return nil, fmt.Errorf("claim %s: %w", unitKey, err)
	}
	defer func() {
		if err := ledger.ReleaseClaim(ctx, d.ledger, topicID, claim); err != nil {
			d.logger.Warn("failed to release dispatch claim", "topic_id", topicID, "unit", unitKey, "error", err)
		}
	}()
	// the previous holder may have finished between Get and the claim
	if dispatched(st, unitKey) {
		return d.skip(res, st), nil
	}

	text, err := content.Load(ctx, d.content, topicID, unitKey)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, &pipeline.ConsistencyError{TopicID: topicID, Reason: fmt.Sprintf("no content for %s", unitKey), Err: err}
		}
		return nil, err
	}
	chunks := chunker.Split(text, d.chunkSize)
	if len(chunks) == 0 {
		return nil, &pipeline.ValidationError{Field: "content", Reason: fmt.Sprintf("%s has no text to synthesize", unitKey)}
	}

	for k, chunk := range chunks {
		if k > 0 {
			if err := d.inv.Pace(ctx); err != nil {
				return nil, err
			}
		}
		outputKey := pipeline.PartKey(topicID, unitKey, k+1, len(chunks))
		req := providers.SynthesisRequest{Text: chunk, OutputKey: outputKey, Voice: d.voice}
		op := fmt.Sprintf("submit %s chunk %d", unitKey, k)
		jobID, err := invoker.Do(ctx, d.inv, op, func(ctx context.Context) (string, error) {
			return d.speech.Submit(ctx, req)
		})
		if err != nil {
			return d.fail(ctx, res, err)
		}
		res.Jobs = append(res.Jobs, pipeline.SynthesisJob{
			JobID:      jobID,
			UnitKey:    unitKey,
			ChunkIndex: k,
			OutputKey:  outputKey,
			Status:     pipeline.JobInProgress,
		})
	}

	st, err = d.ledger.Update(ctx, topicID, ledger.Update{
		Stage:         pipeline.StageAudioDispatched,
		AppendJobs:    res.Jobs,
		AudioComplete: map[string]pipeline.AudioState{unitKey: pipeline.AudioProcessing},
	})
	if errors.Is(err, ledger.ErrAlreadyRecorded) {
		// our claim expired and another dispatcher recorded first
		d.logger.Warn("unit recorded concurrently, abandoning submitted jobs",
			"topic_id", topicID, "unit", unitKey, "abandoned", jobIDs(res.Jobs))
		if st, err = d.ledger.Get(ctx, topicID); err != nil {
			return nil, err
		}
		return d.skip(res, st), nil
	}
	if err != nil {
		return nil, fmt.Errorf("record jobs for %s: %w", unitKey, err)
	}
	res.Jobs = pipeline.JobsForUnit(st.SynthesisJobs, unitKey)
	res.OK = true
	d.logger.Info("dispatched synthesis", "topic_id", topicID, "unit", unitKey, "jobs", len(res.Jobs))
	return res, nil
}

func dispatched(st *pipeline.Status, unitKey string) bool {
	return len(pipeline.JobsForUnit(st.SynthesisJobs, unitKey)) > 0 || st.AudioComplete[unitKey] == pipeline.AudioDone
}

// skip reports the jobs already recorded for the unit.
func (d *Dispatcher) skip(res *DispatchResult, st *pipeline.Status) *DispatchResult {
	res.OK, res.Skipped = true, true
	res.Jobs = pipeline.JobsForUnit(st.SynthesisJobs, res.UnitKey)
	d.logger.Debug("unit already dispatched", "topic_id", res.TopicID, "unit", res.UnitKey, "jobs", len(res.Jobs))
	return res
}

func jobIDs(jobs []pipeline.SynthesisJob) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return ids
}

// fail marks the topic FAILED, keeping handles for chunks that were accepted
// before the failure.
func (d *Dispatcher) fail(ctx context.Context, res *DispatchResult, cause error) (*DispatchResult, error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return nil, cause
	}
	reason := fmt.Sprintf("%s: %v", res.UnitKey, cause)
	if _, err := d.ledger.Update(ctx, res.TopicID, ledger.Update{
		Stage:         pipeline.StageFailed,
		FailureReason: reason,
		AppendJobs:    res.Jobs,
	}); err != nil {
		return nil, fmt.Errorf("record failure for %s: %w", res.UnitKey, err)
	}
	d.logger.Error("synthesis dispatch failed", "topic_id", res.TopicID, "unit", res.UnitKey, "submitted", len(res.Jobs), "error", cause)
	res.OK = false
	res.Reason = reason
	return res, nil
}
