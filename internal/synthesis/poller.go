package synthesis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/providers"
)

// Poller queries outstanding synthesis jobs and records their status.
type Poller struct {
	ledger ledger.Store
	speech providers.SpeechSynthesizer
	logger *slog.Logger
}

// PollResult is the outcome of one poll.
type PollResult struct {
	TopicID   string                  `json:"topic_id"`
	Converged bool                    `json:"converged"`
	Jobs      []pipeline.SynthesisJob `json:"jobs"`
	// Failed lists units with at least one FAILED or ERROR job.
	Failed []string `json:"failed,omitempty"`
	// Pending counts jobs still in progress.
	Pending int `json:"pending"`
	// Errors maps job IDs that ended unsuccessfully in this poll to the
	// provider's failure message, when it reports one.
	Errors map[string]string `json:"errors,omitempty"`
	// FirstConvergence is set on the poll that moved the topic to AUDIO_GENERATED.
	FirstConvergence bool `json:"-"`
}

// NewPoller builds a Poller.
func NewPoller(store ledger.Store, speech providers.SpeechSynthesizer, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{ledger: store, speech: speech, logger: logger.With("component", "poller")}
}

// Poll queries every non-terminal job once. Statuses only ever move from
// IN_PROGRESS to a terminal value, so repeated polls are safe.
func (p *Poller) Poll(ctx context.Context, topicID string) (*PollResult, error) {
	st, err := p.ledger.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if st.Stage == pipeline.StageFailed {
		return nil, fmt.Errorf("topic %s: %w", topicID, pipeline.ErrTopicFailed)
	}
	if !pipeline.Behind(st.Stage, pipeline.StageAudioDispatched) {
		return nil, &pipeline.ConsistencyError{TopicID: topicID, Reason: fmt.Sprintf("no synthesis dispatched (stage %s)", st.Stage)}
	}

	reporter, _ := p.speech.(providers.JobErrorReporter)
	details := make(map[string]string)
	updates := make(map[string]pipeline.JobStatus)
	for _, job := range st.SynthesisJobs {
		if job.Status.IsTerminal() {
			continue
		}
		status, err := p.speech.Query(ctx, job.JobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("synthesis status query failed", "topic_id", topicID, "job_id", job.JobID, "error", err)
			updates[job.JobID] = pipeline.JobError
			continue
		}
		switch {
		case status.IsTerminal():
			updates[job.JobID] = status
			if status != pipeline.JobCompleted {
				jobErr := &pipeline.TerminalJobError{JobID: job.JobID, Status: status}
				if reporter != nil {
					jobErr.Detail = reporter.JobError(job.JobID)
				}
				if jobErr.Detail != "" {
					details[job.JobID] = jobErr.Detail
				}
				p.logger.Warn("synthesis job ended unsuccessfully",
					"topic_id", topicID,
					"unit", job.UnitKey,
					"error", jobErr)
			}
		case status != pipeline.JobInProgress:
			p.logger.Warn("unknown synthesis status", "topic_id", topicID, "job_id", job.JobID, "status", status)
			updates[job.JobID] = pipeline.JobError
		}
	}

	projected := make([]pipeline.SynthesisJob, len(st.SynthesisJobs))
	for i, j := range st.SynthesisJobs {
		if s, ok := updates[j.JobID]; ok {
			j.Status = s
		}
		projected[i] = j
	}
	converged := pipeline.Converged(projected)

	u := ledger.Update{Stage: pipeline.StageAudioPolling, JobStatuses: updates}
	if converged {
		u.AudioComplete = failedAudio(st, projected)
	}
	next, err := p.ledger.Update(ctx, topicID, u)
	if err != nil {
		return nil, fmt.Errorf("record job statuses: %w", err)
	}

	firstConvergence := false
	if pipeline.Converged(next.SynthesisJobs) {
		before := next.Stage
		next, err = p.ledger.Update(ctx, topicID, ledger.Advance(pipeline.StageAudioGenerated))
		switch {
		case pipeline.IsConsistency(err):
			// a concurrent dispatch added jobs; report the fresh record
			if next, err = p.ledger.Get(ctx, topicID); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			firstConvergence = before == pipeline.StageAudioPolling && next.Stage == pipeline.StageAudioGenerated
		}
	}

	res := &PollResult{
		TopicID:          topicID,
		Converged:        pipeline.Converged(next.SynthesisJobs),
		Jobs:             next.SynthesisJobs,
		Failed:           pipeline.FailedUnits(next.SynthesisJobs),
		FirstConvergence: firstConvergence,
	}
	if len(details) > 0 {
		res.Errors = details
	}
	for _, j := range next.SynthesisJobs {
		if !j.Status.IsTerminal() {
			res.Pending++
		}
	}
	p.logger.Info("polled synthesis jobs",
		"topic_id", topicID,
		"updated", len(updates),
		"pending", res.Pending,
		"converged", res.Converged,
		"failed_units", len(res.Failed))
	return res, nil
}

// failedAudio marks units owning a failed job, leaving finished units alone.
func failedAudio(st *pipeline.Status, jobs []pipeline.SynthesisJob) map[string]pipeline.AudioState {
	units := pipeline.FailedUnits(jobs)
	if len(units) == 0 {
		return nil
	}
	out := make(map[string]pipeline.AudioState, len(units))
	for _, u := range units {
		if st.AudioComplete[u] != pipeline.AudioDone {
			out[u] = pipeline.AudioFailed
		}
	}
	return out
}
