package memory

import (
	"regexp"
	"strings"
)

// Defaults grounded on
// original_source/bartholomew/kernel/summarization_engine.py.
const (
	SummaryLengthThreshold = 1000
	TargetSummaryLength    = 900
	DefaultSummaryMode     = "summary_also"
)

// autoSummarizeKinds mirrors AUTO_SUMMARIZE_KINDS.
var autoSummarizeKinds = map[string]bool{
	"conversation.transcript": true,
	"recording.transcript":    true,
	"article.ingested":        true,
	"code.diff":                true,
	"chat":                     true,
}

var sentenceBoundary = regexp.MustCompile(`(?s)(?:[.!?])\s+`)

// ShouldSummarize decides whether to summarize a value: never under
// full_always, yes on explicit summarize=true, yes when kind is one of
// the auto-summarize kinds and the value exceeds the length threshold.
func ShouldSummarize(evaluated EvaluatedMetadata, value, kind string) bool {
	mode := evaluated.SummaryMode
	if mode == "" {
		mode = DefaultSummaryMode
	}
	if mode == "full_always" {
		return false
	}
	if evaluated.Summarize {
		return true
	}
	if autoSummarizeKinds[kind] && len(value) > SummaryLengthThreshold {
		return true
	}
	return false
}

// Summarize produces a deterministic extractive summary of value,
// targeting targetLength characters (default TargetSummaryLength).
// Splits on sentence boundaries, greedily accumulates sentences under
// the target, and falls back to word-boundary truncation with a "..."
// suffix when the extractive result is too short (<100 chars) or the
// input is effectively one giant sentence.
func Summarize(value string, targetLength int) string {
	if targetLength <= 0 {
		targetLength = TargetSummaryLength
	}

	sentences := splitSentences(value)

	var b strings.Builder
	for _, sentence := range sentences {
		if b.Len()+len(sentence)+1 > targetLength {
			break
		}
		b.WriteString(sentence)
		b.WriteString(" ")
	}
	result := strings.TrimSpace(b.String())

	if len(result) < 100 || (len(sentences) == 1 && len(value) > targetLength) {
		result = truncateFallback(value, targetLength)
	}
	return result
}

// splitSentences splits on a sentence terminator followed by whitespace,
// matching the original's `re.split(r"(?<=[.!?])\s+", value)` lookbehind
// semantics without requiring Go's regexp (which lacks lookbehind): walk
// the string and break after a [.!?] run once whitespace follows.
func splitSentences(value string) []string {
	var sentences []string
	start := 0
	runes := []rune(value)
	i := 0
	for i < len(runes) {
		if isTerminator(runes[i]) {
			j := i + 1
			for j < len(runes) && isTerminator(runes[j]) {
				j++
			}
			if j < len(runes) && isSpace(runes[j]) {
				sentences = append(sentences, string(runes[start:j]))
				for j < len(runes) && isSpace(runes[j]) {
					j++
				}
				start = j
				i = j
				continue
			}
			i = j
			continue
		}
		i++
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	if len(sentences) == 0 && value != "" {
		sentences = []string{value}
	}
	return sentences
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }
func isSpace(r rune) bool      { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

func truncateFallback(value string, target int) string {
	if target > len(value) {
		target = len(value)
	}
	snippet := strings.TrimRight(value[:target], " \t\n\r")
	if lastSpace := strings.LastIndex(snippet, " "); lastSpace > target/2 {
		snippet = snippet[:lastSpace]
	}
	return snippet + "..."
}
