// Package stitch reassembles a unit's synthesized parts into one audio file
// and retires the parts.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/providers"
)

// Status is the outcome of one stitch call.
type Status string

const (
	StatusDone    Status = "DONE"
	StatusSkipped Status = "SKIPPED"
	StatusFailed  Status = "FAILED"
)

// Config configures a Stitcher.
type Config struct {
	Ledger ledger.Store
	Audio  objstore.Store
	Concat Concatenator

	// ScratchDir receives downloaded parts while they are joined.
	ScratchDir string
	// LocksDir holds one lock file per unit being stitched.
	LocksDir string
	Logger   *slog.Logger
}

// Stitcher joins part artifacts for one unit at a time.
type Stitcher struct {
	ledger   ledger.Store
	audio    objstore.Store
	concat   Concatenator
	scratch  string
	locksDir string
	logger   *slog.Logger
}

// Result reports what a stitch call did.
type Result struct {
	TopicID   string `json:"topic_id"`
	UnitKey   string `json:"unit_key"`
	Status    Status `json:"status"`
	OutputKey string `json:"output_key,omitempty"`
	Parts     int    `json:"parts"`
	Reason    string `json:"reason,omitempty"`
	// Completed is set on the call that moved the topic to COMPLETED.
	Completed bool `json:"-"`
}

type part struct {
	key   string
	index int
}

// New validates cfg and builds a Stitcher.
func New(cfg Config) (*Stitcher, error) {
	if cfg.Ledger == nil || cfg.Audio == nil || cfg.Concat == nil {
		return nil, fmt.Errorf("stitcher requires ledger, audio store, and concatenator")
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "castwright-scratch")
	}
	if cfg.LocksDir == "" {
		cfg.LocksDir = filepath.Join(os.TempDir(), "castwright-locks")
	}
	// the ffmpeg concat list resolves relative entries against its own directory
	scratch, err := filepath.Abs(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch dir: %w", err)
	}
	cfg.ScratchDir = scratch
	for _, dir := range []string{cfg.ScratchDir, cfg.LocksDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stitcher{
		ledger:   cfg.Ledger,
		audio:    cfg.Audio,
		concat:   cfg.Concat,
		scratch:  cfg.ScratchDir,
		locksDir: cfg.LocksDir,
		logger:   logger.With("component", "stitcher", "concat", cfg.Concat.Name()),
	}, nil
}

// Stitch joins the parts of unitKey into {topic}/{unit}.mp3. Units with zero
// or one part are SKIPPED and the store is left alone.
func (s *Stitcher) Stitch(ctx context.Context, topicID, unitKey string) (*Result, error) {
	if !pipeline.ValidUnitKey(unitKey) {
		return nil, &pipeline.ValidationError{Field: "unit_key", Reason: fmt.Sprintf("invalid unit key %q", unitKey)}
	}
	st, err := s.ledger.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if st.Stage == pipeline.StageFailed {
		return nil, fmt.Errorf("topic %s: %w", topicID, pipeline.ErrTopicFailed)
	}
	if !pipeline.Behind(st.Stage, pipeline.StageAudioGenerated) {
		return nil, &pipeline.ConsistencyError{TopicID: topicID, Reason: fmt.Sprintf("audio not generated (stage %s)", st.Stage)}
	}
	if st, err = s.ledger.Update(ctx, topicID, ledger.Advance(pipeline.StageFinalizingAudio)); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(s.locksDir, topicID+"."+unitKey+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire stitch lock: %w", err)
	}
	if !locked {
		return nil, &pipeline.ConsistencyError{TopicID: topicID, Reason: fmt.Sprintf("%s is already being stitched", unitKey)}
	}
	defer lock.Unlock()

	logger := s.logger.With("topic_id", topicID, "unit", unitKey)
	res := &Result{TopicID: topicID, UnitKey: unitKey}
	finalKey := pipeline.PartKey(topicID, unitKey, 1, 1) + providers.AudioExt

	parts, hasFinal, err := s.listParts(ctx, topicID, unitKey)
	if err != nil {
		return nil, err
	}
	res.Parts = len(parts)
	jobs := pipeline.JobsForUnit(st.SynthesisJobs, unitKey)

	if hasFinal && (len(parts) == 0 || len(jobs) > 1) {
		// the final artifact is only written after a successful join, so any
		// parts still present were left by an interrupted cleanup
		if err := s.deleteParts(ctx, parts); err != nil {
			return nil, err
		}
		res.Status, res.OutputKey = StatusSkipped, finalKey
		if err := s.markDone(ctx, res); err != nil {
			return nil, err
		}
		logger.Debug("unit already stitched", "leftover_parts", len(parts))
		return res, nil
	}
	if len(parts) <= 1 {
		res.Status = StatusSkipped
		logger.Info("skipping stitch", "parts", len(parts))
		return res, nil
	}

	if failed := failedJobs(jobs); failed > 0 {
		res.Status = StatusFailed
		res.Reason = fmt.Sprintf("%d synthesis job(s) failed", failed)
		logger.Warn("not stitching unit with failed jobs", "failed_jobs", failed)
		return res, nil
	}
	if len(jobs) > 0 && len(parts) != len(jobs) {
		return nil, &pipeline.ConsistencyError{
			TopicID: topicID,
			Reason:  fmt.Sprintf("%s has %d parts for %d jobs", unitKey, len(parts), len(jobs)),
		}
	}

	if err := s.join(ctx, parts, finalKey); err != nil {
		return nil, err
	}
	// parts are the only copy of the audio until the joined file is readable back
	ok, err := s.audio.Exists(ctx, finalKey)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", finalKey, err)
	}
	if !ok {
		return nil, &pipeline.ConsistencyError{TopicID: topicID, Reason: fmt.Sprintf("%s missing after upload, parts kept", finalKey)}
	}
	if err := s.deleteParts(ctx, parts); err != nil {
		return nil, err
	}

	res.Status, res.OutputKey = StatusDone, finalKey
	if err := s.markDone(ctx, res); err != nil {
		return nil, err
	}
	logger.Info("stitched unit", "parts", len(parts), "output_key", finalKey, "completed", res.Completed)
	return res, nil
}

// join downloads parts to scratch, concatenates them, and stores the result.
func (s *Stitcher) join(ctx context.Context, parts []part, finalKey string) error {
	dir, err := os.MkdirTemp(s.scratch, "stitch-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to clean scratch dir", "dir", dir, "error", err)
		}
	}()

	inputs := make([]string, 0, len(parts))
	for _, p := range parts {
		data, err := s.audio.Get(ctx, p.key)
		if err != nil {
			return fmt.Errorf("download %s: %w", p.key, err)
		}
		local := filepath.Join(dir, path.Base(p.key))
		if err := os.WriteFile(local, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", local, err)
		}
		inputs = append(inputs, local)
	}

	out := filepath.Join(dir, "combined"+providers.AudioExt)
	if err := s.concat.Concat(ctx, inputs, out); err != nil {
		return fmt.Errorf("concatenate: %w", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return fmt.Errorf("read combined audio: %w", err)
	}
	if err := s.audio.Put(ctx, finalKey, data); err != nil {
		return fmt.Errorf("upload %s: %w", finalKey, err)
	}
	return nil
}

func (s *Stitcher) deleteParts(ctx context.Context, parts []part) error {
	for _, p := range parts {
		if err := s.audio.Delete(ctx, p.key); err != nil && !errors.Is(err, objstore.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", p.key, err)
		}
	}
	return nil
}

// markDone records the unit as DONE and completes the topic once every unit is.
func (s *Stitcher) markDone(ctx context.Context, res *Result) error {
	st, err := s.ledger.Update(ctx, res.TopicID, ledger.Update{
		AudioComplete: map[string]pipeline.AudioState{res.UnitKey: pipeline.AudioDone},
	})
	if err != nil {
		return fmt.Errorf("record %s done: %w", res.UnitKey, err)
	}
	if st.Stage == pipeline.StageCompleted || !st.AllAudioDone() {
		return nil
	}
	st, err = s.ledger.Update(ctx, res.TopicID, ledger.Advance(pipeline.StageCompleted))
	if err != nil {
		return fmt.Errorf("complete topic: %w", err)
	}
	res.Completed = st.Stage == pipeline.StageCompleted
	return nil
}

// listParts returns the unit's part artifacts in part order and whether the
// final artifact exists. chapter_1 never matches chapter_10.
func (s *Stitcher) listParts(ctx context.Context, topicID, unitKey string) ([]part, bool, error) {
	keys, err := s.audio.List(ctx, topicID+"/"+unitKey)
	if err != nil {
		return nil, false, fmt.Errorf("list audio for %s: %w", unitKey, err)
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(unitKey) + `(?:_part(\d+))?` + regexp.QuoteMeta(providers.AudioExt) + `$`)

	var (
		parts    []part
		hasFinal bool
	)
	for _, k := range keys {
		if path.Dir(k) != topicID {
			continue
		}
		m := re.FindStringSubmatch(path.Base(k))
		if m == nil {
			continue
		}
		if m[1] == "" {
			hasFinal = true
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		parts = append(parts, part{key: k, index: n})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })
	return parts, hasFinal, nil
}

func failedJobs(jobs []pipeline.SynthesisJob) int {
	n := 0
	for _, j := range jobs {
		if j.Status == pipeline.JobFailed || j.Status == pipeline.JobError {
			n++
		}
	}
	return n
}
