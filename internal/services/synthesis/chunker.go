package synthesis

import (
	"strings"

	"github.com/podwave/digest-api/internal/models"
)

// SplitScript breaks a digest script into synthesis-sized pieces. Splits
// happen at paragraph boundaries only; a narrative paragraph that alone
// exceeds the budget is split at sentence boundaries, while a dialogue turn
// is never split so a voice never changes mid-turn.
func SplitScript(script string, mode models.ScriptMode, maxChars int) []string {
	paragraphs := splitParagraphs(script)
	if len(paragraphs) == 0 {
		return nil
	}

	var units []string
	for _, paragraph := range paragraphs {
		if len(paragraph) > maxChars && mode != models.ScriptModeDialogue {
			units = append(units, splitSentences(paragraph, maxChars)...)
			continue
		}
		units = append(units, paragraph)
	}

	// Pack units greedily without crossing the budget. An oversized dialogue
	// turn travels alone.
	var chunks []string
	var current strings.Builder
	for _, unit := range units {
		if current.Len() > 0 && current.Len()+len(unit)+2 > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(unit)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitParagraphs returns the non-empty blank-line separated blocks of text
func splitParagraphs(script string) []string {
	var paragraphs []string
	for _, block := range strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paragraphs = append(paragraphs, block)
		}
	}
	return paragraphs
}

// splitSentences packs the sentences of one oversized paragraph into pieces
// under maxChars, never breaking inside a sentence.
func splitSentences(paragraph string, maxChars int) []string {
	var pieces []string
	var current strings.Builder

	for _, sentence := range sentences(paragraph) {
		if current.Len() > 0 && current.Len()+len(sentence)+1 > maxChars {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// sentences splits text after terminal punctuation followed by whitespace
func sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Consume trailing closers like quotes before the boundary
			j := i + 1
			for j < len(runes) && (runes[j] == '"' || runes[j] == '\'' || runes[j] == ')') {
				j++
			}
			if j >= len(runes) || runes[j] == ' ' || runes[j] == '\n' {
				sentence := strings.TrimSpace(string(runes[start:j]))
				if sentence != "" {
					out = append(out, sentence)
				}
				start = j
				i = j
			}
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}
