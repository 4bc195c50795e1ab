// Package pipeline defines the podcast pipeline's stages, ledger record shape,
// and error taxonomy. Every other package reads and writes progress in these
// terms.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is a position in the pipeline state machine.
type Stage string

const (
	StageAccepted               Stage = "ACCEPTED"
	StageGeneratingIntroduction Stage = "GENERATING_INTRODUCTION"
	StageContentComplete        Stage = "CONTENT_COMPLETE"
	StageAudioDispatched        Stage = "AUDIO_DISPATCHED"
	StageAudioPolling           Stage = "AUDIO_POLLING"
	StageAudioGenerated         Stage = "AUDIO_GENERATED"
	StageFinalizingAudio        Stage = "FINALIZING_AUDIO"
	StageCompleted              Stage = "COMPLETED"
	StageFailed                 Stage = "FAILED"

	chapterStagePrefix = "GENERATING_CHAPTER_"
)

// ChapterStage returns the GENERATING_CHAPTER_<n> sub-state for chapter n (1-based).
func ChapterStage(n int) Stage {
	return Stage(chapterStagePrefix + strconv.Itoa(n))
}

// Chapter returns the chapter index of a GENERATING_CHAPTER_<n> stage.
func (s Stage) Chapter() (int, bool) {
	rest, ok := strings.CutPrefix(string(s), chapterStagePrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// IsTerminal reports whether no further work happens in this stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := rank(s)
	return ok
}

// kind collapses the chapter sub-states into one row of the transition table.
type kind int

const (
	kindAccepted kind = iota
	kindIntro
	kindChapter
	kindContentComplete
	kindDispatched
	kindPolling
	kindGenerated
	kindFinalizing
	kindCompleted
	kindFailed
)

var stageKinds = map[Stage]kind{
	StageAccepted:               kindAccepted,
	StageGeneratingIntroduction: kindIntro,
	StageContentComplete:        kindContentComplete,
	StageAudioDispatched:        kindDispatched,
	StageAudioPolling:           kindPolling,
	StageAudioGenerated:         kindGenerated,
	StageFinalizingAudio:        kindFinalizing,
	StageCompleted:              kindCompleted,
	StageFailed:                 kindFailed,
}

// transitions lists the legal successors of each stage kind, excluding FAILED
// which every non-terminal stage may enter.
var transitions = map[kind][]kind{
	kindAccepted:        {kindIntro},
	kindIntro:           {kindChapter},
	kindChapter:         {kindChapter, kindContentComplete},
	kindContentComplete: {kindDispatched},
	kindDispatched:      {kindDispatched, kindPolling},
	kindPolling:         {kindPolling, kindGenerated},
	kindGenerated:       {kindFinalizing},
	kindFinalizing:      {kindFinalizing, kindCompleted},
}

func kindOf(s Stage) (kind, bool) {
	if k, ok := stageKinds[s]; ok {
		return k, true
	}
	if _, ok := s.Chapter(); ok {
		return kindChapter, true
	}
	return 0, false
}

// rank orders stages along the forward path. Chapter sub-states sort by index
// between the introduction and CONTENT_COMPLETE.
func rank(s Stage) (int, bool) {
	k, ok := kindOf(s)
	if !ok {
		return 0, false
	}
	r := int(k) * 1_000_000
	if k == kindChapter {
		n, _ := s.Chapter()
		r += n
	}
	return r, true
}

// ValidateTransition checks that moving from one stage to another is legal.
// Self-loops are only legal for the stages that are revisited.
func ValidateTransition(from, to Stage) error {
	fk, ok := kindOf(from)
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, from)
	}
	tk, ok := kindOf(to)
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, to)
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, from)
	}
	if tk == kindFailed {
		return nil
	}
	for _, next := range transitions[fk] {
		if next != tk {
			continue
		}
		if tk == kindChapter {
			return validateChapterStep(from, to)
		}
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

func validateChapterStep(from, to Stage) error {
	n, _ := to.Chapter()
	if m, ok := from.Chapter(); ok {
		if n != m+1 {
			return fmt.Errorf("%w: %s -> %s skips chapters", ErrIllegalTransition, from, to)
		}
		return nil
	}
	if n != 1 {
		return fmt.Errorf("%w: %s -> %s must start at chapter 1", ErrIllegalTransition, from, to)
	}
	return nil
}

// Behind reports whether target is at or before current on the forward path,
// meaning an advance to target would be a no-op.
func Behind(current, target Stage) bool {
	if target == StageFailed {
		return current == StageFailed
	}
	cr, ok1 := rank(current)
	tr, ok2 := rank(target)
	if !ok1 || !ok2 {
		return false
	}
	return tr < cr || (tr == cr && !selfLoop(current))
}

func selfLoop(s Stage) bool {
	switch s {
	case StageAudioDispatched, StageAudioPolling, StageFinalizingAudio:
		return true
	}
	return false
}
