// Package podcast holds the embedded prompts for podcast script generation.
package podcast

import (
	_ "embed"

	"github.com/jackzampolin/castwright/internal/prompts"
)

//go:embed intro.tmpl
var introPrompt string

//go:embed chapter.tmpl
var chapterPrompt string

// Prompt keys.
const (
	IntroKey   = "podcast.intro"
	ChapterKey = "podcast.chapter"
)

// ContinueMessage replaces pruned history in long conversations.
const ContinueMessage = "Please continue with the next chapter in the same style."

// IntroData is the template input for the introduction prompt.
type IntroData struct {
	Title       string
	Description string
	Category    string
	Difficulty  string
	Chapters    int
}

// ChapterData is the template input for a chapter prompt.
type ChapterData struct {
	Number int
}

// RegisterPrompts registers the podcast prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         IntroKey,
		Text:        introPrompt,
		Description: "Introduction and chapter outline for a podcast topic",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         ChapterKey,
		Text:        chapterPrompt,
		Description: "Single chapter request, sent with the running conversation",
	})
}
