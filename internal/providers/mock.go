package providers

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
)

const MockClientName = "mock"

// MockTextGenerator is a TextGenerator for testing.
type MockTextGenerator struct {
	// Respond overrides the default reply. call is 1-based.
	Respond func(call int, msgs []Message) (string, error)

	mu    sync.Mutex
	calls [][]Message
}

// NewMockTextGenerator creates a mock that answers every call.
func NewMockTextGenerator() *MockTextGenerator {
	return &MockTextGenerator{}
}

func (m *MockTextGenerator) Name() string {
	return MockClientName
}

func (m *MockTextGenerator) Generate(ctx context.Context, msgs []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls = append(m.calls, slices.Clone(msgs))
	n := len(m.calls)
	m.mu.Unlock()

	if m.Respond != nil {
		return m.Respond(n, msgs)
	}
	return fmt.Sprintf("Mock response %d. It has two sentences.", n), nil
}

// Calls returns a copy of every conversation passed to Generate.
func (m *MockTextGenerator) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// MockSynthesizer is a SpeechSynthesizer for testing. Jobs stay IN_PROGRESS
// until the test moves them with SetStatus or CompleteAll.
type MockSynthesizer struct {
	// SubmitErr, when set, is consulted before each submission. n is 1-based.
	SubmitErr func(n int, req SynthesisRequest) error
	// Store receives fake audio for jobs finished with CompleteAll.
	Store objstore.Store

	mu        sync.Mutex
	submits   int
	submitted []SynthesisRequest
	ids       []string
	status    map[string]pipeline.JobStatus
	queryErr  map[string]error
	queries   int
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{
		status:   make(map[string]pipeline.JobStatus),
		queryErr: make(map[string]error),
	}
}

func (m *MockSynthesizer) Submit(ctx context.Context, req SynthesisRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	if m.SubmitErr != nil {
		if err := m.SubmitErr(m.submits, req); err != nil {
			return "", err
		}
	}
	id := fmt.Sprintf("mock-job-%d", m.submits)
	m.submitted = append(m.submitted, req)
	m.ids = append(m.ids, id)
	m.status[id] = pipeline.JobInProgress
	return id, nil
}

func (m *MockSynthesizer) Query(ctx context.Context, jobID string) (pipeline.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if err, ok := m.queryErr[jobID]; ok {
		return "", err
	}
	st, ok := m.status[jobID]
	if !ok {
		return "", fmt.Errorf("job %s: %w", jobID, ErrUnknownJob)
	}
	return st, nil
}

// SetStatus moves a job to status.
func (m *MockSynthesizer) SetStatus(jobID string, status pipeline.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[jobID] = status
}

// FailQuery makes every Query for jobID return err.
func (m *MockSynthesizer) FailQuery(jobID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr[jobID] = err
}

// CompleteAll marks every in-progress job COMPLETED and, when Store is set,
// writes placeholder audio for it.
func (m *MockSynthesizer) CompleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.ids {
		if m.status[id] != pipeline.JobInProgress {
			continue
		}
		m.status[id] = pipeline.JobCompleted
		if m.Store != nil {
			key := m.submitted[i].OutputKey + AudioExt
			if err := m.Store.Put(ctx, key, []byte(key+"|")); err != nil {
				return err
			}
		}
	}
	return nil
}

// Submitted returns every accepted request in submission order.
func (m *MockSynthesizer) Submitted() []SynthesisRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.submitted)
}

// JobIDs returns every issued job id in submission order.
func (m *MockSynthesizer) JobIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ids)
}

// Queries returns how many times Query was called.
func (m *MockSynthesizer) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

var (
	_ TextGenerator     = (*MockTextGenerator)(nil)
	_ SpeechSynthesizer = (*MockSynthesizer)(nil)
)
