package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/podcast"
	"github.com/jackzampolin/castwright/internal/providers"
	"github.com/jackzampolin/castwright/internal/stitch"
	"github.com/jackzampolin/castwright/internal/testutil"
)

// hookTimer fires immediately and calls onWait with the 1-based wait number.
type hookTimer struct {
	onWait func(n int, d time.Duration)

	mu sync.Mutex
	n  int
}

func (h *hookTimer) After(d time.Duration) <-chan time.Time {
	h.mu.Lock()
	h.n++
	n := h.n
	h.mu.Unlock()
	if h.onWait != nil {
		h.onWait(n, d)
	}
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

type harness struct {
	svc    *podcast.Service
	ledger *ledger.MemoryStore
	speech *providers.MockSynthesizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	audio := objstore.NewMemoryStore()
	h := &harness{ledger: ledger.NewMemoryStore(), speech: providers.NewMockSynthesizer()}
	h.speech.Store = audio
	inv, _ := testutil.NewInvoker(t)
	svc, err := podcast.New(podcast.Config{
		Ledger:     h.ledger,
		Content:    objstore.NewMemoryStore(),
		Audio:      audio,
		Text:       providers.NewMockTextGenerator(),
		Speech:     h.speech,
		Concat:     stitch.ByteConcat{},
		Invoker:    inv,
		ChunkSize:  25,
		ScratchDir: filepath.Join(dir, "scratch"),
		LocksDir:   filepath.Join(dir, "locks"),
		Logger:     testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	h.svc = svc
	return h
}

func (h *harness) startTopic(t *testing.T, chapters int) string {
	t.Helper()
	res, err := h.svc.StartTopic(context.Background(), podcast.TopicRequest{
		Category:    "History & Social Studies",
		Title:       "The Silk Road",
		Description: "Trade routes across Asia",
		Difficulty:  pipeline.DifficultyIntermediate,
		Chapters:    chapters,
	})
	if err != nil {
		t.Fatal(err)
	}
	return res.TopicID
}

func TestRunner_RunToCompletion(t *testing.T) {
	h := newHarness(t)
	id := h.startTopic(t, 2)

	var waits []time.Duration
	timer := &hookTimer{onWait: func(n int, d time.Duration) {
		waits = append(waits, d)
		// jobs finish while the runner sleeps between polls
		if n == 2 {
			if err := h.speech.CompleteAll(context.Background()); err != nil {
				t.Error(err)
			}
		}
	}}
	r := NewRunner(Config{
		Pipeline:       h.svc,
		MaxConcurrency: 2,
		InitialWait:    5 * time.Second,
		PollInterval:   time.Second,
		Timer:          timer,
		Logger:         testutil.Logger(t),
	})

	out, err := r.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.OK || !out.Completed || len(out.Units) != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Polls != 2 {
		t.Errorf("expected 2 polls, got %d", out.Polls)
	}
	if len(waits) != 2 || waits[0] != 5*time.Second || waits[1] != time.Second {
		t.Errorf("unexpected waits %v", waits)
	}
	for u, s := range out.Stitched {
		if s != stitch.StatusDone {
			t.Errorf("unit %s stitched as %s", u, s)
		}
	}
	st, _ := h.ledger.Get(context.Background(), id)
	if st.Stage != pipeline.StageCompleted {
		t.Errorf("expected COMPLETED, got %s", st.Stage)
	}
	if r.Running(id) {
		t.Error("run should be released")
	}
}

func TestRunner_ReportsFailedUnits(t *testing.T) {
	h := newHarness(t)
	id := h.startTopic(t, 1)

	timer := &hookTimer{onWait: func(n int, d time.Duration) {
		if err := h.speech.CompleteAll(context.Background()); err != nil {
			t.Error(err)
		}
		ids := h.speech.JobIDs()
		h.speech.SetStatus(ids[len(ids)-1], pipeline.JobFailed)
	}}
	// one at a time so chapter_1 owns the last job
	r := NewRunner(Config{Pipeline: h.svc, MaxConcurrency: 1, Timer: timer, Logger: testutil.Logger(t)})

	out, err := r.Run(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if out.OK || out.Step != "synthesis" || len(out.FailedUnits) != 1 || out.FailedUnits[0] != "chapter_1" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Stitched["chapter_1"] != stitch.StatusFailed {
		t.Errorf("chapter_1 stitched as %s", out.Stitched["chapter_1"])
	}
	if out.Completed {
		t.Error("topic must not complete with a failed unit")
	}
}

func TestRunner_OneRunPerTopic(t *testing.T) {
	h := newHarness(t)
	id := h.startTopic(t, 1)

	release := make(chan struct{})
	blocking := &hookTimer{onWait: func(n int, d time.Duration) {
		if n == 1 {
			<-release
		}
		for _, j := range h.speech.JobIDs() {
			h.speech.SetStatus(j, pipeline.JobCompleted)
		}
	}}
	r := NewRunner(Config{Pipeline: h.svc, Timer: blocking, Logger: testutil.Logger(t)})

	if err := r.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !r.Running(id) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Start(context.Background(), id); !pipeline.IsConsistency(err) {
		t.Errorf("expected second start to be rejected, got %v", err)
	}
	if _, err := r.Run(context.Background(), id); !pipeline.IsConsistency(err) {
		t.Errorf("expected Run to be rejected too, got %v", err)
	}

	close(release)
	r.Stop()
	if r.Running(id) {
		t.Error("run should be released after Stop")
	}
}

func TestRunner_CancelStopsPolling(t *testing.T) {
	h := newHarness(t)
	id := h.startTopic(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	timer := &hookTimer{onWait: func(n int, d time.Duration) {
		if n == 3 {
			cancel()
		}
	}}
	r := NewRunner(Config{Pipeline: h.svc, Timer: timer, Logger: testutil.Logger(t)})

	if _, err := r.Run(ctx, id); err == nil {
		t.Fatal("expected cancellation error")
	}
	st, _ := h.ledger.Get(context.Background(), id)
	if st.Stage == pipeline.StageFailed {
		t.Error("cancellation must not fail the topic")
	}
}
