// Package chunker splits generated text into synthesis-sized pieces along
// sentence boundaries.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the largest chunk handed to a single synthesis job.
const DefaultMaxChars = 3000

const sentenceSep = ". "

// Split packs the sentences of text greedily into chunks of at most maxChars
// characters. Text that already fits is returned unchanged as one chunk. A
// sentence longer than maxChars becomes a chunk of its own.
//
// Sentences are found by splitting on ". ", so abbreviations like "U.S." are
// split too. Chunk counts drive part-key naming, so this stays as is.
func Split(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if runeLen(text) <= maxChars {
		return []string{text}
	}

	text = strings.ReplaceAll(text, "\n", " ")

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, s := range Sentences(text) {
		n := runeLen(s)
		if curLen > 0 && curLen+n+1 > maxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(s)
		curLen += n
	}
	flush()
	return chunks
}

// Sentences splits text on ". " and restores the trailing period on each piece.
// Whitespace-only pieces are dropped.
func Sentences(text string) []string {
	raw := strings.Split(text, sentenceSep)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, ".") {
			s += "."
		}
		out = append(out, s)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
