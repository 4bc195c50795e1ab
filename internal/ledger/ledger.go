// Package ledger persists per-topic pipeline progress. Every mutation is an
// atomic partial update: callers describe only the fields they touch, and the
// store merges them without rewriting the rest of the record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

var (
	// ErrClaimed is wrapped when another owner holds a live claim.
	ErrClaimed = errors.New("claim held by another owner")
	// ErrAlreadyRecorded is wrapped when an update would record a content unit
	// or a unit's synthesis jobs a second time.
	ErrAlreadyRecorded = errors.New("already recorded")
)

// Store is the ledger storage engine.
type Store interface {
	// Create records an accepted topic and its initial ACCEPTED status.
	Create(ctx context.Context, topic pipeline.Topic) (*pipeline.Status, error)
	// Topic returns the immutable topic request.
	Topic(ctx context.Context, topicID string) (*pipeline.Topic, error)
	// Get returns the current status record.
	Get(ctx context.Context, topicID string) (*pipeline.Status, error)
	// Update applies u atomically and returns the resulting record.
	Update(ctx context.Context, topicID string, u Update) (*pipeline.Status, error)
	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Update describes a partial change to a status record. Zero values leave the
// corresponding field untouched; nothing here can clear a field.
type Update struct {
	// Stage advances the pipeline. A stage at or behind the current one is a
	// no-op; an illegal jump is rejected.
	Stage pipeline.Stage
	// FailureReason is recorded when Stage is FAILED.
	FailureReason string

	IntroComplete    bool
	ChaptersComplete []int
	AudioComplete    map[string]pipeline.AudioState
	AppendJobs       []pipeline.SynthesisJob
	// JobStatuses moves existing non-terminal jobs to a new status.
	JobStatuses map[string]pipeline.JobStatus

	// Claim takes or renews a lease before anything else in the update is
	// applied. Another owner's live lease rejects the whole update.
	Claim *Claim
	// Release drops a lease held by Release.Owner. It is honoured on FAILED
	// topics too.
	Release *Claim
}

// Claim is an expiring lease on a named piece of work within one topic, such
// as "content" or "dispatch/chapter_2". Claiming again with the same Owner
// renews it; an expired lease can be taken by anyone.
type Claim struct {
	Name  string
	Owner string
	TTL   time.Duration
}

// ReleaseClaim drops c. It runs even after ctx is canceled so a shutdown does
// not strand the lease until it expires.
func ReleaseClaim(ctx context.Context, s Store, topicID string, c *Claim) error {
	_, err := s.Update(context.WithoutCancel(ctx), topicID, Update{Release: c})
	return err
}

// checkClaim rejects c while a different owner's lease is still live.
func checkClaim(topicID string, c *Claim, heldBy string, expires, now time.Time) error {
	if heldBy == "" || heldBy == c.Owner || !expires.After(now) {
		return nil
	}
	return claimConflict(topicID, c, heldBy)
}

func claimConflict(topicID string, c *Claim, owner string) error {
	return &pipeline.ConsistencyError{
		TopicID: topicID,
		Reason:  fmt.Sprintf("%s is claimed by %s", c.Name, owner),
		Err:     ErrClaimed,
	}
}

func alreadyRecorded(topicID, what string) error {
	return &pipeline.ConsistencyError{TopicID: topicID, Reason: what, Err: ErrAlreadyRecorded}
}

// Advance is an Update that only moves the stage forward.
func Advance(stage pipeline.Stage) Update {
	return Update{Stage: stage}
}

// Fail is an Update that moves the topic to FAILED with a reason.
func Fail(reason string) Update {
	return Update{Stage: pipeline.StageFailed, FailureReason: reason}
}

// IsEmpty reports whether u changes nothing.
func (u Update) IsEmpty() bool {
	return u.Stage == "" && !u.IntroComplete && len(u.ChaptersComplete) == 0 &&
		len(u.AudioComplete) == 0 && len(u.AppendJobs) == 0 && len(u.JobStatuses) == 0 &&
		u.Claim == nil && u.Release == nil
}

// releaseOnly reports whether u does nothing but drop a lease.
func (u Update) releaseOnly() bool {
	r := u.Release
	u.Release = nil
	return r != nil && u.IsEmpty()
}

func (u Update) validate() error {
	if u.Stage != "" && !u.Stage.Valid() {
		return &pipeline.ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", u.Stage)}
	}
	for _, n := range u.ChaptersComplete {
		if n < 1 {
			return &pipeline.ValidationError{Field: "chapters_complete", Reason: fmt.Sprintf("chapter %d out of range", n)}
		}
	}
	for unit, st := range u.AudioComplete {
		if !pipeline.ValidUnitKey(unit) {
			return &pipeline.ValidationError{Field: "audio_complete", Reason: fmt.Sprintf("invalid unit key %q", unit)}
		}
		switch st {
		case pipeline.AudioPending, pipeline.AudioProcessing, pipeline.AudioDone, pipeline.AudioFailed:
		default:
			return &pipeline.ValidationError{Field: "audio_complete", Reason: fmt.Sprintf("invalid state %q", st)}
		}
	}
	for _, j := range u.AppendJobs {
		if j.JobID == "" || !pipeline.ValidUnitKey(j.UnitKey) || j.ChunkIndex < 0 {
			return &pipeline.ValidationError{Field: "synthesis_jobs", Reason: fmt.Sprintf("malformed job %+v", j)}
		}
	}
	for id, st := range u.JobStatuses {
		if id == "" || (st != pipeline.JobInProgress && !st.IsTerminal()) {
			return &pipeline.ValidationError{Field: "job_statuses", Reason: fmt.Sprintf("invalid status %q for job %q", st, id)}
		}
	}
	if c := u.Claim; c != nil && (c.Name == "" || c.Owner == "" || c.TTL <= 0) {
		return &pipeline.ValidationError{Field: "claim", Reason: "name, owner, and a positive ttl are required"}
	}
	if r := u.Release; r != nil && (r.Name == "" || r.Owner == "") {
		return &pipeline.ValidationError{Field: "release", Reason: "name and owner are required"}
	}
	return nil
}

// checkStage decides whether the stage in u applies to cur. It returns false
// with a nil error when the advance is a no-op. cur must already reflect the
// field merges from the same update.
func checkStage(cur *pipeline.Status, chapters int, target pipeline.Stage) (bool, error) {
	if target == "" {
		return false, nil
	}
	if pipeline.Behind(cur.Stage, target) {
		return false, nil
	}
	if err := pipeline.ValidateTransition(cur.Stage, target); err != nil {
		return false, &pipeline.ConsistencyError{TopicID: cur.TopicID, Reason: "rejected stage change", Err: err}
	}
	if err := checkGuards(cur, chapters, target); err != nil {
		return false, &pipeline.ConsistencyError{TopicID: cur.TopicID, Reason: err.Error(), Err: pipeline.ErrIllegalTransition}
	}
	return true, nil
}

func checkGuards(cur *pipeline.Status, chapters int, target pipeline.Stage) error {
	if n, ok := target.Chapter(); ok {
		if n > chapters {
			return fmt.Errorf("chapter %d exceeds requested %d", n, chapters)
		}
		if n == 1 && !cur.IntroComplete {
			return fmt.Errorf("introduction not complete")
		}
		if n > 1 && !cur.ChaptersComplete[n-1] {
			return fmt.Errorf("chapter %d not complete", n-1)
		}
		return nil
	}
	switch target {
	case pipeline.StageContentComplete:
		for i := 1; i <= chapters; i++ {
			if !cur.ChaptersComplete[i] {
				return fmt.Errorf("chapter %d not complete", i)
			}
		}
	case pipeline.StageAudioGenerated:
		if !pipeline.Converged(cur.SynthesisJobs) {
			return fmt.Errorf("synthesis jobs still in progress")
		}
	case pipeline.StageCompleted:
		if !cur.AllAudioDone() {
			return fmt.Errorf("audio not finalized for every unit")
		}
	}
	return nil
}

// newStatus builds the initial record for a freshly accepted topic.
func newStatus(topicID string, now time.Time) *pipeline.Status {
	return &pipeline.Status{
		TopicID:          topicID,
		Stage:            pipeline.StageAccepted,
		ChaptersComplete: map[int]bool{},
		AudioComplete:    map[string]pipeline.AudioState{},
		SynthesisJobs:    []pipeline.SynthesisJob{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func validateTopic(t pipeline.Topic) error {
	if t.ID == "" {
		return &pipeline.ValidationError{Field: "topic_id", Reason: "required"}
	}
	if t.Chapters < 1 {
		return &pipeline.ValidationError{Field: "chapters", Reason: "must be at least 1"}
	}
	return nil
}
