// Package prompts keeps the generation prompts: templates embedded in the
// binary, plus per-category replacements loaded from config. A category
// override wins over the embedded text for topics in that category only.
//
// Resolved prompts carry a fingerprint of their text so a generated script
// can be tied to the prompt revision that produced it.
package prompts

// EmbeddedPrompt is a template compiled into the binary.
type EmbeddedPrompt struct {
	Key         string // e.g. podcast.intro
	Text        string
	Description string
	// Fields and Hash are filled in by Register.
	Fields []string
	Hash   string
}

// ResolvedPrompt is the text chosen for one category.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Fields     []string `json:"fields,omitempty"`
	IsOverride bool     `json:"is_override"`
	Category   string   `json:"category,omitempty"`
	Hash       string   `json:"hash"`
}
