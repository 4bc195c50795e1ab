package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

// MemoryStore is an in-process Store. It serializes updates with a mutex and
// is used in tests and single-process development runs.
type MemoryStore struct {
	mu     sync.Mutex
	topics map[string]pipeline.Topic
	status map[string]*pipeline.Status
	claims map[string]map[string]lease
	clock  func() time.Time
}

type lease struct {
	owner   string
	expires time.Time
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		topics: make(map[string]pipeline.Topic),
		status: make(map[string]*pipeline.Status),
		claims: make(map[string]map[string]lease),
		clock:  time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, topic pipeline.Topic) (*pipeline.Status, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.topics[topic.ID]; exists {
		return nil, &pipeline.ConsistencyError{TopicID: topic.ID, Reason: "topic already exists"}
	}
	now := m.clock().UTC()
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = now
	}
	m.topics[topic.ID] = topic
	st := newStatus(topic.ID, now)
	m.status[topic.ID] = st
	return cloneStatus(st), nil
}

func (m *MemoryStore) Topic(ctx context.Context, topicID string) (*pipeline.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[topicID]
	if !ok {
		return nil, pipeline.NotFound(topicID)
	}
	return &t, nil
}

func (m *MemoryStore) Get(ctx context.Context, topicID string) (*pipeline.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[topicID]
	if !ok {
		return nil, pipeline.NotFound(topicID)
	}
	return cloneStatus(st), nil
}

func (m *MemoryStore) Update(ctx context.Context, topicID string, u Update) (*pipeline.Status, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.status[topicID]
	if !ok {
		return nil, pipeline.NotFound(topicID)
	}
	now := m.clock().UTC()
	if cur.Stage == pipeline.StageFailed {
		if u.Stage == pipeline.StageFailed || u.releaseOnly() {
			m.release(topicID, u.Release)
			return cloneStatus(cur), nil
		}
		return nil, fmt.Errorf("topic %s: %w", topicID, pipeline.ErrTopicFailed)
	}
	if c := u.Claim; c != nil {
		held := m.claims[topicID][c.Name]
		if err := checkClaim(topicID, c, held.owner, held.expires, now); err != nil {
			return nil, err
		}
	}

	next := cloneStatus(cur)
	if err := mergeFields(next, u, now); err != nil {
		return nil, err
	}
	apply, err := checkStage(next, m.topics[topicID].Chapters, u.Stage)
	if err != nil {
		return nil, err
	}
	if apply {
		next.Stage = u.Stage
		if u.Stage == pipeline.StageFailed {
			next.FailureReason = u.FailureReason
		}
	}
	if c := u.Claim; c != nil {
		if m.claims[topicID] == nil {
			m.claims[topicID] = make(map[string]lease)
		}
		m.claims[topicID][c.Name] = lease{owner: c.Owner, expires: now.Add(c.TTL)}
	}
	m.release(topicID, u.Release)
	next.UpdatedAt = now
	m.status[topicID] = next
	return cloneStatus(next), nil
}

func (m *MemoryStore) release(topicID string, c *Claim) {
	if c != nil && m.claims[topicID][c.Name].owner == c.Owner {
		delete(m.claims[topicID], c.Name)
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// mergeFields applies the additive parts of u to st in place. Content flags
// and a unit's jobs are recorded once; a repeat is a ConsistencyError.
func mergeFields(st *pipeline.Status, u Update, now time.Time) error {
	if u.IntroComplete {
		if st.IntroComplete {
			return alreadyRecorded(st.TopicID, "introduction already recorded")
		}
		st.IntroComplete = true
	}
	for _, n := range u.ChaptersComplete {
		if st.ChaptersComplete[n] {
			return alreadyRecorded(st.TopicID, fmt.Sprintf("chapter %d already recorded", n))
		}
		st.ChaptersComplete[n] = true
	}
	for unit, state := range u.AudioComplete {
		st.AudioComplete[unit] = state
	}
	dispatched := make(map[string]bool)
	for _, j := range st.SynthesisJobs {
		dispatched[j.UnitKey] = true
	}
	for _, j := range u.AppendJobs {
		if dispatched[j.UnitKey] {
			return alreadyRecorded(st.TopicID, fmt.Sprintf("%s already has synthesis jobs", j.UnitKey))
		}
		if slices.ContainsFunc(st.SynthesisJobs, func(e pipeline.SynthesisJob) bool { return e.JobID == j.JobID }) {
			return &pipeline.ConsistencyError{TopicID: st.TopicID, Reason: fmt.Sprintf("job %s already recorded", j.JobID)}
		}
		if j.Status == "" {
			j.Status = pipeline.JobInProgress
		}
		if j.SubmittedAt.IsZero() {
			j.SubmittedAt = now
		}
		j.UpdatedAt = j.SubmittedAt
		st.SynthesisJobs = append(st.SynthesisJobs, j)
	}
	for id, status := range u.JobStatuses {
		idx := slices.IndexFunc(st.SynthesisJobs, func(e pipeline.SynthesisJob) bool { return e.JobID == id })
		if idx < 0 {
			return &pipeline.ConsistencyError{TopicID: st.TopicID, Reason: fmt.Sprintf("unknown job %s", id)}
		}
		if st.SynthesisJobs[idx].Status.IsTerminal() {
			continue
		}
		st.SynthesisJobs[idx].Status = status
		st.SynthesisJobs[idx].UpdatedAt = now
	}
	return nil
}

func cloneStatus(st *pipeline.Status) *pipeline.Status {
	c := *st
	c.ChaptersComplete = maps.Clone(st.ChaptersComplete)
	c.AudioComplete = maps.Clone(st.AudioComplete)
	c.SynthesisJobs = slices.Clone(st.SynthesisJobs)
	if c.ChaptersComplete == nil {
		c.ChaptersComplete = map[int]bool{}
	}
	if c.AudioComplete == nil {
		c.AudioComplete = map[string]pipeline.AudioState{}
	}
	if c.SynthesisJobs == nil {
		c.SynthesisJobs = []pipeline.SynthesisJob{}
	}
	return &c
}
