// Package workflow drives a topic through every pipeline operation in order,
// standing in for an external scheduler.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/castwright/internal/content"
	"github.com/jackzampolin/castwright/internal/invoker"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/stitch"
	"github.com/jackzampolin/castwright/internal/synthesis"
)

// Defaults for the polling cadence.
const (
	DefaultInitialWait    = 60 * time.Second
	DefaultPollInterval   = 60 * time.Second
	DefaultMaxConcurrency = 4
)

// Pipeline is the set of operations the runner calls. *podcast.Service
// implements it.
type Pipeline interface {
	GenerateContent(ctx context.Context, topicID string) (*content.Result, error)
	ListContentUnits(ctx context.Context, topicID string) ([]string, error)
	DispatchSynthesis(ctx context.Context, topicID, unitKey string) (*synthesis.DispatchResult, error)
	PollConvergence(ctx context.Context, topicID string) (*synthesis.PollResult, error)
	StitchAudio(ctx context.Context, topicID, unitKey string) (*stitch.Result, error)
}

// Config configures a Runner.
type Config struct {
	Pipeline       Pipeline
	MaxConcurrency int
	InitialWait    time.Duration
	PollInterval   time.Duration
	Timer          invoker.Timer
	Logger         *slog.Logger
}

// Outcome summarizes one run.
type Outcome struct {
	TopicID string `json:"topic_id"`
	OK      bool   `json:"ok"`
	// Step names the operation that stopped the run, if any.
	Step        string                   `json:"step,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
	Units       []string                 `json:"units,omitempty"`
	Polls       int                      `json:"polls"`
	FailedUnits []string                 `json:"failed_units,omitempty"`
	Stitched    map[string]stitch.Status `json:"stitched,omitempty"`
	Completed   bool                     `json:"completed"`
}

// Runner executes whole-topic runs, at most one per topic at a time.
type Runner struct {
	pipeline    Pipeline
	limit       int
	initialWait time.Duration
	interval    time.Duration
	timer       invoker.Timer
	logger      *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewRunner builds a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	switch {
	case cfg.InitialWait == 0:
		cfg.InitialWait = DefaultInitialWait
	case cfg.InitialWait < 0:
		cfg.InitialWait = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timer == nil {
		cfg.Timer = realTimer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pipeline:    cfg.Pipeline,
		limit:       cfg.MaxConcurrency,
		initialWait: cfg.InitialWait,
		interval:    cfg.PollInterval,
		timer:       cfg.Timer,
		logger:      logger.With("component", "workflow"),
		running:     make(map[string]context.CancelFunc),
	}
}

// Start launches Run in the background. ctx bounds the run, not the caller's
// request. A topic that is already running is rejected.
func (r *Runner) Start(ctx context.Context, topicID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	if err := r.claim(topicID, cancel); err != nil {
		cancel()
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(topicID)
		defer cancel()
		out, err := r.run(runCtx, topicID)
		switch {
		case err != nil:
			r.logger.Error("workflow run stopped", "topic_id", topicID, "error", err)
		case !out.OK:
			r.logger.Warn("workflow run failed", "topic_id", topicID, "step", out.Step, "reason", out.Reason)
		default:
			r.logger.Info("workflow run finished", "topic_id", topicID, "completed", out.Completed, "polls", out.Polls)
		}
	}()
	return nil
}

// Run executes every step for topicID and waits for the result.
func (r *Runner) Run(ctx context.Context, topicID string) (*Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := r.claim(topicID, cancel); err != nil {
		return nil, err
	}
	defer r.release(topicID)
	return r.run(ctx, topicID)
}

// Running reports whether topicID has a run in flight.
func (r *Runner) Running(topicID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[topicID]
	return ok
}

// Stop cancels every background run and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	for _, cancel := range r.running {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) claim(topicID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[topicID]; ok {
		return &pipeline.ConsistencyError{TopicID: topicID, Reason: "a run is already in progress"}
	}
	r.running[topicID] = cancel
	return nil
}

func (r *Runner) release(topicID string) {
	r.mu.Lock()
	delete(r.running, topicID)
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context, topicID string) (*Outcome, error) {
	out := &Outcome{TopicID: topicID}
	logger := r.logger.With("topic_id", topicID)

	gen, err := r.pipeline.GenerateContent(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if !gen.OK {
		out.Step, out.Reason = "content", gen.Reason
		return out, nil
	}

	units, err := r.pipeline.ListContentUnits(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	out.Units = units
	logger.Info("content ready", "units", len(units))

	dispatched := make([]*synthesis.DispatchResult, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, u := range units {
		g.Go(func() error {
			res, err := r.pipeline.DispatchSynthesis(gctx, topicID, u)
			if err != nil {
				return fmt.Errorf("dispatch %s: %w", u, err)
			}
			dispatched[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, res := range dispatched {
		if !res.OK {
			out.Step, out.Reason = "dispatch", res.Reason
			return out, nil
		}
	}

	if err := r.wait(ctx, r.initialWait); err != nil {
		return nil, err
	}
	for {
		poll, err := r.pipeline.PollConvergence(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}
		out.Polls++
		if poll.Converged {
			out.FailedUnits = poll.Failed
			break
		}
		logger.Debug("waiting for synthesis", "pending", poll.Pending, "poll", out.Polls)
		if err := r.wait(ctx, r.interval); err != nil {
			return nil, err
		}
	}

	results := make([]*stitch.Result, len(units))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, u := range units {
		g.Go(func() error {
			res, err := r.pipeline.StitchAudio(gctx, topicID, u)
			if err != nil {
				return fmt.Errorf("stitch %s: %w", u, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.Stitched = make(map[string]stitch.Status, len(results))
	for _, res := range results {
		out.Stitched[res.UnitKey] = res.Status
		if res.Completed {
			out.Completed = true
		}
	}
	out.OK = len(out.FailedUnits) == 0
	if !out.OK {
		out.Step, out.Reason = "synthesis", fmt.Sprintf("units with failed synthesis: %v", out.FailedUnits)
	}
	return out, nil
}

func (r *Runner) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-r.timer.After(d):
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
