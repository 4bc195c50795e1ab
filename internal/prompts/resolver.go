package prompts

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Resolver resolves prompts with category-level overrides.
// Resolution order: category override > embedded default
type Resolver struct {
	embedded  map[string]EmbeddedPrompt
	overrides map[string]map[string]string // category -> key -> text
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewResolver creates a new prompt resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		embedded:  make(map[string]EmbeddedPrompt),
		overrides: make(map[string]map[string]string),
		logger:    logger,
	}
}

// Register adds an embedded prompt. Embedded templates ship with the binary,
// so a parse failure is a programming error and panics.
func (r *Resolver) Register(prompt EmbeddedPrompt) {
	fields, err := Fields(prompt.Key, prompt.Text)
	if err != nil {
		panic(err)
	}
	prompt.Fields = fields
	prompt.Hash = Fingerprint(prompt.Text)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedded[prompt.Key] = prompt
	r.logger.Debug("registered embedded prompt", "key", prompt.Key, "fields", prompt.Fields)
}

// SetOverride replaces the prompt text for one category. The override must
// parse and may only read fields the embedded prompt reads.
func (r *Resolver) SetOverride(category, key, text string) error {
	fields, err := Fields(key, text)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	base, ok := r.embedded[key]
	if !ok {
		return fmt.Errorf("prompt not found: %s", key)
	}
	for _, f := range fields {
		if !slices.Contains(base.Fields, f) {
			return fmt.Errorf("prompt %s override for %q reads unknown field %s (have %v)", key, category, f, base.Fields)
		}
	}
	if r.overrides[category] == nil {
		r.overrides[category] = make(map[string]string)
	}
	r.overrides[category][key] = text
	r.logger.Info("registered prompt override", "key", key, "category", category, "hash", Fingerprint(text)[:12])
	return nil
}

// Resolve resolves a prompt for a category. Returns the category override if
// it exists, otherwise the embedded default.
func (r *Resolver) Resolve(key, category string) (*ResolvedPrompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if text, ok := r.overrides[category][key]; ok {
		return &ResolvedPrompt{
			Key:        key,
			Text:       text,
			Fields:     r.embedded[key].Fields,
			IsOverride: true,
			Category:   category,
			Hash:       Fingerprint(text),
		}, nil
	}

	embedded, ok := r.embedded[key]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", key)
	}
	return &ResolvedPrompt{
		Key:       key,
		Text:      embedded.Text,
		Fields:    embedded.Fields,
		Hash:      embedded.Hash,
	}, nil
}

// Render resolves key for category and executes it against data.
func (r *Resolver) Render(key, category string, data any) (string, *ResolvedPrompt, error) {
	p, err := r.Resolve(key, category)
	if err != nil {
		return "", nil, err
	}
	text, err := Render(key, p.Text, data)
	if err != nil {
		return "", nil, err
	}
	return text, p, nil
}
