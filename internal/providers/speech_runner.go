package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jackzampolin/castwright/internal/invoker"
	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
)

// ErrUnknownJob is returned by Query for a job this runner never accepted,
// e.g. one submitted before a restart.
var ErrUnknownJob = errors.New("unknown synthesis job")

// SpeechBackend renders text to audio synchronously.
type SpeechBackend interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// SpeechRunnerConfig configures a SpeechRunner.
type SpeechRunnerConfig struct {
	Backend SpeechBackend
	Store   objstore.Store

	Workers           int // default 4
	QueueSize         int // default 256
	RequestsPerMinute int // default 150

	// Invoker retries throttled backend calls inside a job. Optional.
	Invoker *invoker.Invoker
	Logger  *slog.Logger
}

type speechJob struct {
	req    SynthesisRequest
	status pipeline.JobStatus
	err    string
}

// SpeechRunner turns a synchronous SpeechBackend into an asynchronous job
// service. Jobs are processed by a fixed worker pool and their audio is written
// to the artifact store under the request's OutputKey.
type SpeechRunner struct {
	backend SpeechBackend
	store   objstore.Store
	limiter *RateLimiter
	inv     *invoker.Invoker
	logger  *slog.Logger
	workers int

	queue chan string

	mu   sync.RWMutex
	jobs map[string]*speechJob

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSpeechRunner creates a runner. Call Start before submitting work.
func NewSpeechRunner(cfg SpeechRunnerConfig) (*SpeechRunner, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("speech backend is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeechRunner{
		backend: cfg.Backend,
		store:   cfg.Store,
		limiter: NewRateLimiter(cfg.RequestsPerMinute),
		inv:     cfg.Invoker,
		logger:  logger.With("component", "speech_runner"),
		workers: cfg.Workers,
		queue:   make(chan string, cfg.QueueSize),
		jobs:    make(map[string]*speechJob),
	}, nil
}

// Start launches the worker pool. It is safe to call more than once.
func (r *SpeechRunner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go r.worker(ctx)
		}
		r.logger.Info("speech runner started", "workers", r.workers)
	})
}

// Stop cancels in-flight work and waits for workers to exit. Jobs still
// running are left IN_PROGRESS.
func (r *SpeechRunner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Submit queues a synthesis job and returns its handle.
func (r *SpeechRunner) Submit(ctx context.Context, req SynthesisRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", &pipeline.ValidationError{Field: "text", Reason: "text is required"}
	}
	if req.OutputKey == "" {
		return "", &pipeline.ValidationError{Field: "output_key", Reason: "output key is required"}
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.jobs[id] = &speechJob{req: req, status: pipeline.JobInProgress}
	r.mu.Unlock()

	select {
	case r.queue <- id:
		return id, nil
	case <-ctx.Done():
		r.forget(id)
		return "", ctx.Err()
	default:
		r.forget(id)
		return "", &pipeline.ThrottlingError{Provider: OpenAITTSName, Err: errors.New("synthesis queue full")}
	}
}

// Query reports the job's status.
func (r *SpeechRunner) Query(ctx context.Context, jobID string) (pipeline.JobStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return "", fmt.Errorf("job %s: %w", jobID, ErrUnknownJob)
	}
	return job.status, nil
}

// JobError returns the failure message for a FAILED job, or "" when there is
// none.
func (r *SpeechRunner) JobError(jobID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if job, ok := r.jobs[jobID]; ok {
		return job.err
	}
	return ""
}

func (r *SpeechRunner) forget(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

func (r *SpeechRunner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.run(ctx, id)
		}
	}
}

func (r *SpeechRunner) run(ctx context.Context, id string) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	var req SynthesisRequest
	if ok {
		req = job.req
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	key := req.OutputKey + AudioExt
	audio, err := r.render(ctx, req)
	if err == nil {
		err = r.store.Put(ctx, key, audio)
	}
	if ctx.Err() != nil {
		// shutting down; leave the job in progress
		return
	}

	r.mu.Lock()
	if err != nil {
		job.status = pipeline.JobFailed
		job.err = err.Error()
	} else {
		job.status = pipeline.JobCompleted
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("synthesis job failed", "job_id", id, "output_key", key, "error", err)
		return
	}
	r.logger.Debug("synthesis job completed", "job_id", id, "output_key", key, "bytes", len(audio))
}

func (r *SpeechRunner) render(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	call := func(ctx context.Context) ([]byte, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		audio, err := r.backend.Synthesize(ctx, req.Text, req.Voice)
		var throttled *pipeline.ThrottlingError
		if errors.As(err, &throttled) {
			r.limiter.Record429(throttled.RetryAfter)
		}
		return audio, err
	}
	if r.inv == nil {
		return call(ctx)
	}
	return invoker.Do(ctx, r.inv, "synthesize", call)
}

var (
	_ SpeechSynthesizer = (*SpeechRunner)(nil)
	_ JobErrorReporter  = (*SpeechRunner)(nil)
)
