package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Difficulty is the tier a topic is written for.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "BEGINNER"
	DifficultyIntermediate Difficulty = "INTERMEDIATE"
	DifficultyAdvanced     Difficulty = "ADVANCED"
)

// Topic is an accepted podcast request. It is immutable once stored.
type Topic struct {
	ID          string     `json:"topic_id"`
	RequestID   string     `json:"request_id"`
	Category    string     `json:"category"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Difficulty  Difficulty `json:"difficulty"`
	Chapters    int        `json:"chapters"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AudioState tracks a content unit's audio through dispatch and stitching.
type AudioState string

const (
	AudioPending    AudioState = "PENDING"
	AudioProcessing AudioState = "PROCESSING"
	AudioDone       AudioState = "DONE"
	AudioFailed     AudioState = "FAILED"
)

// JobStatus is the state of one synthesis job.
type JobStatus string

const (
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobError      JobStatus = "ERROR"
)

// IsTerminal reports whether the poller should stop querying a job.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobError
}

// SynthesisJob is one submitted chunk of one content unit.
type SynthesisJob struct {
	JobID       string    `json:"job_id"`
	UnitKey     string    `json:"unit_key"`
	ChunkIndex  int       `json:"chunk_index"`
	OutputKey   string    `json:"output_key"`
	Status      JobStatus `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status is the per-topic ledger record.
type Status struct {
	TopicID          string                `json:"topic_id"`
	Stage            Stage                 `json:"status"`
	IntroComplete    bool                  `json:"intro_complete"`
	ChaptersComplete map[int]bool          `json:"chapters_complete"`
	AudioComplete    map[string]AudioState `json:"audio_complete"`
	SynthesisJobs    []SynthesisJob        `json:"synthesis_jobs"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// Converged folds the job list: true when every job is terminal.
// An empty list is trivially converged.
func Converged(jobs []SynthesisJob) bool {
	for _, j := range jobs {
		if !j.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// FailedUnits returns the units owning at least one FAILED or ERROR job, sorted.
func FailedUnits(jobs []SynthesisJob) []string {
	seen := make(map[string]bool)
	for _, j := range jobs {
		if j.Status == JobFailed || j.Status == JobError {
			seen[j.UnitKey] = true
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// JobsForUnit filters the job list down to one unit, keeping ledger order.
func JobsForUnit(jobs []SynthesisJob, unitKey string) []SynthesisJob {
	var out []SynthesisJob
	for _, j := range jobs {
		if j.UnitKey == unitKey {
			out = append(out, j)
		}
	}
	return out
}

// AllAudioDone reports whether every tracked unit reached DONE.
func (s *Status) AllAudioDone() bool {
	if len(s.AudioComplete) == 0 {
		return false
	}
	for _, st := range s.AudioComplete {
		if st != AudioDone {
			return false
		}
	}
	return true
}

// Unit keys.
const (
	IntroUnit         = "intro"
	chapterUnitPrefix = "chapter_"
)

// ChapterUnit returns the content unit key for chapter n.
func ChapterUnit(n int) string {
	return chapterUnitPrefix + strconv.Itoa(n)
}

// ValidUnitKey reports whether key names the intro or a chapter.
func ValidUnitKey(key string) bool {
	if key == IntroUnit {
		return true
	}
	rest, ok := strings.CutPrefix(key, chapterUnitPrefix)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(rest)
	return err == nil && n >= 1 && strconv.Itoa(n) == rest
}

// SortUnitKeys orders unit keys intro first, then chapters numerically.
func SortUnitKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		return unitOrder(keys[i]) < unitOrder(keys[j])
	})
}

func unitOrder(key string) int {
	if key == IntroUnit {
		return 0
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(key, chapterUnitPrefix)); err == nil {
		return n
	}
	return int(^uint(0) >> 1)
}

// PartKey returns the artifact key stem for chunk k (1-based) of a unit.
// Units with a single chunk use the bare unit key.
func PartKey(topicID, unitKey string, k, total int) string {
	if total <= 1 {
		return fmt.Sprintf("%s/%s", topicID, unitKey)
	}
	return fmt.Sprintf("%s/%s_part%d", topicID, unitKey, k)
}
