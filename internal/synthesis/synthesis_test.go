package synthesis

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/castwright/internal/content"
	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/providers"
	"github.com/jackzampolin/castwright/internal/testutil"
)

const longChapter = "Goroutines are cheap. Channels connect them. Select waits on many channels. " +
	"Mutexes guard shared state. The scheduler multiplexes goroutines onto threads."

type harness struct {
	ledger  *ledger.MemoryStore
	content *objstore.MemoryStore
	speech  *providers.MockSynthesizer
	disp    *Dispatcher
	poller  *Poller
}

// newHarness seeds topic t1 at CONTENT_COMPLETE with an intro and one chapter.
func newHarness(t *testing.T, chunkSize int) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		ledger:  ledger.NewMemoryStore(),
		content: objstore.NewMemoryStore(),
		speech:  providers.NewMockSynthesizer(),
	}
	inv, _ := testutil.NewInvoker(t)
	disp, err := NewDispatcher(DispatcherConfig{
		Ledger:    h.ledger,
		Speech:    h.speech,
		Content:   h.content,
		Invoker:   inv,
		ChunkSize: chunkSize,
		Logger:    testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	h.disp = disp
	h.poller = NewPoller(h.ledger, h.speech, testutil.Logger(t))

	if _, err := h.ledger.Create(ctx, pipeline.Topic{
		ID: "t1", RequestID: "r1", Category: "Technical & Programming", Title: "Go",
		Description: "Go", Difficulty: pipeline.DifficultyBeginner, Chapters: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := content.Save(ctx, h.content, "t1", "intro", "Welcome to the show."); err != nil {
		t.Fatal(err)
	}
	if err := content.Save(ctx, h.content, "t1", "chapter_1", longChapter); err != nil {
		t.Fatal(err)
	}
	for _, u := range []ledger.Update{
		ledger.Advance(pipeline.StageGeneratingIntroduction),
		{IntroComplete: true, Stage: pipeline.ChapterStage(1)},
		{ChaptersComplete: []int{1}, Stage: pipeline.StageContentComplete},
	} {
		if _, err := h.ledger.Update(ctx, "t1", u); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func TestDispatch_FansOutChunks(t *testing.T) {
	h := newHarness(t, 60)
	ctx := context.Background()

	res, err := h.disp.Dispatch(ctx, "t1", "chapter_1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !res.OK || len(res.Jobs) < 2 {
		t.Fatalf("expected several jobs, got %+v", res)
	}
	for k, job := range res.Jobs {
		if job.ChunkIndex != k || job.UnitKey != "chapter_1" || job.Status != pipeline.JobInProgress {
			t.Errorf("unexpected job %d: %+v", k, job)
		}
		want := pipeline.PartKey("t1", "chapter_1", k+1, len(res.Jobs))
		if job.OutputKey != want || !strings.Contains(want, "_part") {
			t.Errorf("job %d output key = %q, want %q", k, job.OutputKey, want)
		}
	}

	st, _ := h.ledger.Get(ctx, "t1")
	if st.Stage != pipeline.StageAudioDispatched {
		t.Errorf("expected AUDIO_DISPATCHED, got %s", st.Stage)
	}
	if st.AudioComplete["chapter_1"] != pipeline.AudioProcessing {
		t.Errorf("expected chapter_1 PROCESSING, got %q", st.AudioComplete["chapter_1"])
	}

	// submitted text reproduces the chapter's sentences
	var texts []string
	for _, req := range h.speech.Submitted() {
		texts = append(texts, req.Text)
	}
	if strings.Join(texts, " ") != longChapter {
		t.Errorf("chunks do not reproduce the chapter: %q", texts)
	}

	again, err := h.disp.Dispatch(ctx, "t1", "chapter_1")
	if err != nil {
		t.Fatal(err)
	}
	if !again.Skipped || len(again.Jobs) != len(res.Jobs) {
		t.Errorf("expected re-dispatch to be skipped, got %+v", again)
	}
	if len(h.speech.Submitted()) != len(res.Jobs) {
		t.Errorf("re-dispatch submitted more work: %d", len(h.speech.Submitted()))
	}
}

func TestDispatch_ConcurrentDispatchersSubmitOnce(t *testing.T) {
	h := newHarness(t, 0)
	h.speech.SubmitErr = func(n int, req providers.SynthesisRequest) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	other, err := NewDispatcher(DispatcherConfig{
		Ledger:  h.ledger,
		Speech:  h.speech,
		Content: h.content,
		Logger:  testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]*DispatchResult, 2)
	errs := make([]error, 2)
	for i, d := range []*Dispatcher{h.disp, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = d.Dispatch(ctx, "t1", "intro")
		}()
	}
	wg.Wait()

	if n := len(h.speech.Submitted()); n != 1 {
		t.Fatalf("expected one submission, got %d", n)
	}
	st, _ := h.ledger.Get(ctx, "t1")
	if jobs := pipeline.JobsForUnit(st.SynthesisJobs, "intro"); len(jobs) != 1 {
		t.Errorf("expected one recorded job, got %+v", jobs)
	}
	var dispatched int
	for i := range results {
		switch {
		case errs[i] == nil && results[i].OK && !results[i].Skipped:
			dispatched++
		case errs[i] == nil && results[i].Skipped:
		case errors.Is(errs[i], ledger.ErrClaimed) && pipeline.IsConsistency(errs[i]):
		default:
			t.Errorf("dispatcher %d: result %+v, error %v", i, results[i], errs[i])
		}
	}
	if dispatched != 1 {
		t.Errorf("expected exactly one dispatcher to submit, got %d", dispatched)
	}

	// the claim is gone once the winner returns
	again, err := other.Dispatch(ctx, "t1", "intro")
	if err != nil || !again.Skipped {
		t.Errorf("expected follow-up dispatch to be skipped, got %+v, %v", again, err)
	}
}

func TestDispatch_ExpiredClaimLosesRecord(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	// another dispatcher recorded intro while this one still believed it held the claim
	h.speech.SubmitErr = func(n int, req providers.SynthesisRequest) error {
		if n == 1 {
			_, err := h.ledger.Update(ctx, "t1", ledger.Update{
				AppendJobs: []pipeline.SynthesisJob{{JobID: "winner", UnitKey: "intro", OutputKey: "t1/intro"}},
			})
			return err
		}
		return nil
	}

	res, err := h.disp.Dispatch(ctx, "t1", "intro")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || len(res.Jobs) != 1 || res.Jobs[0].JobID != "winner" {
		t.Errorf("expected the recorded jobs to win, got %+v", res)
	}
}

func TestDispatch_SingleChunkUsesBareKey(t *testing.T) {
	h := newHarness(t, 0)
	res, err := h.disp.Dispatch(context.Background(), "t1", "intro")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].OutputKey != "t1/intro" {
		t.Fatalf("unexpected jobs %+v", res.Jobs)
	}
}

func TestDispatch_Rejections(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	if _, err := h.disp.Dispatch(ctx, "t1", "outro"); !pipeline.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := h.disp.Dispatch(ctx, "t1", "chapter_2"); !pipeline.IsConsistency(err) {
		t.Errorf("expected consistency error for missing content, got %v", err)
	}
	if _, err := h.disp.Dispatch(ctx, "nope", "intro"); !errors.Is(err, pipeline.ErrTopicNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := h.ledger.Create(ctx, pipeline.Topic{ID: "t2", Chapters: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.disp.Dispatch(ctx, "t2", "intro"); !pipeline.IsConsistency(err) {
		t.Errorf("expected dispatch before CONTENT_COMPLETE to be rejected, got %v", err)
	}
}

func TestDispatch_SubmitExhaustedFailsTopic(t *testing.T) {
	h := newHarness(t, 60)
	h.speech.SubmitErr = func(n int, req providers.SynthesisRequest) error {
		if n == 1 {
			return nil
		}
		return &pipeline.ThrottlingError{Provider: "mock"}
	}
	ctx := context.Background()

	res, err := h.disp.Dispatch(ctx, "t1", "chapter_1")
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || !strings.Contains(res.Reason, "gave up after 8 attempts") {
		t.Fatalf("expected exhausted failure, got %+v", res)
	}
	st, _ := h.ledger.Get(ctx, "t1")
	if st.Stage != pipeline.StageFailed {
		t.Errorf("expected FAILED, got %s", st.Stage)
	}
	if len(st.SynthesisJobs) != 1 {
		t.Errorf("accepted chunk should stay recorded, got %d jobs", len(st.SynthesisJobs))
	}

	if _, err := h.disp.Dispatch(ctx, "t1", "intro"); !errors.Is(err, pipeline.ErrTopicFailed) {
		t.Errorf("expected ErrTopicFailed, got %v", err)
	}
}

func TestPoll_FailedJobStillConverges(t *testing.T) {
	h := newHarness(t, 60)
	ctx := context.Background()
	if _, err := h.disp.Dispatch(ctx, "t1", "intro"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.disp.Dispatch(ctx, "t1", "chapter_1"); err != nil {
		t.Fatal(err)
	}
	ids := h.speech.JobIDs()

	res, err := h.poller.Poll(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Converged || res.Pending != len(ids) {
		t.Fatalf("expected nothing converged yet, got %+v", res)
	}
	st, _ := h.ledger.Get(ctx, "t1")
	if st.Stage != pipeline.StageAudioPolling {
		t.Errorf("expected AUDIO_POLLING, got %s", st.Stage)
	}

	for _, id := range ids {
		h.speech.SetStatus(id, pipeline.JobCompleted)
	}
	h.speech.SetStatus(ids[2], pipeline.JobFailed)

	res, err = h.poller.Poll(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged || !res.FirstConvergence {
		t.Fatalf("expected convergence, got %+v", res)
	}
	if !slices.Equal(res.Failed, []string{"chapter_1"}) {
		t.Errorf("expected chapter_1 to be reported failed, got %v", res.Failed)
	}
	st, _ = h.ledger.Get(ctx, "t1")
	if st.Stage != pipeline.StageAudioGenerated {
		t.Errorf("expected AUDIO_GENERATED, got %s", st.Stage)
	}
	if st.AudioComplete["chapter_1"] != pipeline.AudioFailed || st.AudioComplete["intro"] != pipeline.AudioProcessing {
		t.Errorf("unexpected audio states %v", st.AudioComplete)
	}

	// converged jobs are never queried again and repeat polls change nothing
	queries := h.speech.Queries()
	res, err = h.poller.Poll(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if h.speech.Queries() != queries || !res.Converged || res.FirstConvergence {
		t.Errorf("repeat poll was not a no-op: %+v", res)
	}
}

// reportingSynth keeps a failure message per job like SpeechRunner does.
type reportingSynth struct {
	*providers.MockSynthesizer
	messages map[string]string
}

func (r reportingSynth) JobError(jobID string) string { return r.messages[jobID] }

func TestPoll_ReportsProviderFailureDetail(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.disp.Dispatch(ctx, "t1", "intro"); err != nil {
		t.Fatal(err)
	}
	id := h.speech.JobIDs()[0]
	h.speech.SetStatus(id, pipeline.JobFailed)

	speech := reportingSynth{MockSynthesizer: h.speech, messages: map[string]string{id: "voice not available"}}
	res, err := NewPoller(h.ledger, speech, testutil.Logger(t)).Poll(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors[id] != "voice not available" {
		t.Errorf("Errors = %v, want detail for %s", res.Errors, id)
	}

	// a terminal job is not reported again
	res, err = NewPoller(h.ledger, speech, testutil.Logger(t)).Poll(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("repeat poll reported %v", res.Errors)
	}
}

func TestTerminalJobError(t *testing.T) {
	err := &pipeline.TerminalJobError{JobID: "j1", Status: pipeline.JobFailed, Detail: "quota"}
	if got := err.Error(); got != "synthesis job j1 ended FAILED: quota" {
		t.Errorf("Error() = %q", got)
	}
}

func TestPoll_Monotonic(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.disp.Dispatch(ctx, "t1", "intro"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.disp.Dispatch(ctx, "t1", "chapter_1"); err != nil {
		t.Fatal(err)
	}
	ids := h.speech.JobIDs()

	h.speech.SetStatus(ids[0], pipeline.JobCompleted)
	h.speech.FailQuery(ids[1], errors.New("service unavailable"))
	res, err := h.poller.Poll(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("query error should mark the job ERROR and converge, got %+v", res)
	}
	if res.Jobs[1].Status != pipeline.JobError {
		t.Errorf("expected ERROR, got %s", res.Jobs[1].Status)
	}

	// the provider changing its mind cannot move a terminal job
	h.speech.SetStatus(ids[0], pipeline.JobInProgress)
	res, err = h.poller.Poll(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Jobs[0].Status != pipeline.JobCompleted {
		t.Errorf("terminal status regressed to %s", res.Jobs[0].Status)
	}
}

func TestPoll_BeforeDispatch(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.poller.Poll(context.Background(), "t1"); !pipeline.IsConsistency(err) {
		t.Errorf("expected consistency error, got %v", err)
	}
}
