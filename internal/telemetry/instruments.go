package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/pipeline"
)

// Instruments are the pipeline counters.
type Instruments struct {
	stageTransitions metric.Int64Counter
	jobsSubmitted    metric.Int64Counter
	jobsTerminal     metric.Int64Counter
	retries          metric.Int64Counter
	stitchResults    metric.Int64Counter
}

// NewInstruments registers every counter on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		inst Instruments
		err  error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&inst.stageTransitions, "castwright.stage.transitions", "Pipeline stage changes by target stage"},
		{&inst.jobsSubmitted, "castwright.synthesis.jobs.submitted", "Synthesis jobs recorded in the ledger"},
		{&inst.jobsTerminal, "castwright.synthesis.jobs.terminal", "Synthesis jobs reaching a terminal status"},
		{&inst.retries, "castwright.invoker.retries", "Retried provider calls by failure kind"},
		{&inst.stitchResults, "castwright.stitch.results", "Stitch outcomes by status"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
	}
	return &inst, nil
}

func (i *Instruments) StageTransition(ctx context.Context, stage pipeline.Stage) {
	if i == nil {
		return
	}
	// chapter sub-states share one series
	label := string(stage)
	if _, ok := stage.Chapter(); ok {
		label = "GENERATING_CHAPTER"
	}
	i.stageTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", label)))
}

func (i *Instruments) JobsSubmitted(ctx context.Context, n int) {
	if i == nil || n == 0 {
		return
	}
	i.jobsSubmitted.Add(ctx, int64(n))
}

func (i *Instruments) JobTerminal(ctx context.Context, status pipeline.JobStatus) {
	if i == nil {
		return
	}
	i.jobsTerminal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (i *Instruments) StitchResult(ctx context.Context, status string) {
	if i == nil {
		return
	}
	i.stitchResults.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// Retry implements invoker.Observer.
func (i *Instruments) Retry(kind string) {
	if i == nil {
		return
	}
	i.retries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// InstrumentedLedger counts stage changes and job activity flowing through a
// ledger.Store.
type InstrumentedLedger struct {
	ledger.Store
	inst *Instruments
}

// WrapLedger decorates store with counters. A nil inst returns store as is.
func WrapLedger(store ledger.Store, inst *Instruments) ledger.Store {
	if inst == nil {
		return store
	}
	return &InstrumentedLedger{Store: store, inst: inst}
}

func (l *InstrumentedLedger) Update(ctx context.Context, topicID string, u ledger.Update) (*pipeline.Status, error) {
	var before *pipeline.Status
	if u.Stage != "" || len(u.JobStatuses) > 0 {
		before, _ = l.Store.Get(ctx, topicID)
	}
	st, err := l.Store.Update(ctx, topicID, u)
	if err != nil {
		return nil, err
	}
	if before != nil && st.Stage != before.Stage {
		l.inst.StageTransition(ctx, st.Stage)
	}
	l.inst.JobsSubmitted(ctx, len(u.AppendJobs))
	if before != nil {
		for _, j := range before.SynthesisJobs {
			if s, ok := u.JobStatuses[j.JobID]; ok && !j.Status.IsTerminal() && s.IsTerminal() {
				l.inst.JobTerminal(ctx, s)
			}
		}
	}
	return st, nil
}
