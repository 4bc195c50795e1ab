package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/testutil"
)

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestSetup_ExportsPipelineCounters(t *testing.T) {
	ctx := context.Background()
	tel, err := Setup(ctx, Config{ServiceName: "castwright-test"}, testutil.Logger(t))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer tel.Shutdown(ctx)

	store := WrapLedger(ledger.NewMemoryStore(), tel.Instruments())
	if _, err := store.Create(ctx, pipeline.Topic{ID: "t1", Chapters: 1}); err != nil {
		t.Fatal(err)
	}
	for _, u := range []ledger.Update{
		ledger.Advance(pipeline.StageGeneratingIntroduction),
		ledger.Advance(pipeline.StageGeneratingIntroduction), // no-op, not counted
		{IntroComplete: true, Stage: pipeline.ChapterStage(1)},
		{ChaptersComplete: []int{1}, Stage: pipeline.StageContentComplete},
		{Stage: pipeline.StageAudioDispatched, AppendJobs: []pipeline.SynthesisJob{
			{JobID: "j1", UnitKey: "intro"},
			{JobID: "j2", UnitKey: "intro", ChunkIndex: 1},
		}},
		{Stage: pipeline.StageAudioPolling, JobStatuses: map[string]pipeline.JobStatus{"j1": pipeline.JobCompleted}},
		{JobStatuses: map[string]pipeline.JobStatus{"j1": pipeline.JobFailed}}, // already terminal
	} {
		if _, err := store.Update(ctx, "t1", u); err != nil {
			t.Fatal(err)
		}
	}
	tel.Instruments().Retry("throttled")
	tel.Instruments().StitchResult(ctx, "SKIPPED")

	body := scrape(t, tel)
	for _, want := range []string{
		`castwright_stage_transitions_total{`,
		`stage="GENERATING_INTRODUCTION"`,
		`stage="GENERATING_CHAPTER"`,
		`castwright_synthesis_jobs_submitted_total{`,
		`castwright_synthesis_jobs_terminal_total{`,
		`status="COMPLETED"`,
		`kind="throttled"`,
		`castwright_stitch_results_total{`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, `status="FAILED"`) {
		t.Error("a terminal job moving again must not be counted")
	}
}

func TestSetup_IndependentRegistries(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		tel, err := Setup(ctx, Config{}, testutil.Logger(t))
		if err != nil {
			t.Fatalf("Setup() #%d error = %v", i, err)
		}
		if tel.Tracer() == nil {
			t.Fatal("expected a tracer")
		}
		_, span := tel.Tracer().Start(ctx, "test")
		span.End()
		if err := tel.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	}
}

func TestWrapLedger_NilInstruments(t *testing.T) {
	store := ledger.NewMemoryStore()
	if WrapLedger(store, nil) != ledger.Store(store) {
		t.Error("expected the store back unchanged")
	}
	var inst *Instruments
	inst.Retry("error")
	inst.StageTransition(context.Background(), pipeline.StageCompleted)
}
