package memory

import (
	"strings"
)

// Chunk is a contiguous token-window slice of a memory's redacted
// plaintext. Chunks are replaced wholesale on re-upsert and
// cascade-delete with their owning memory.
type Chunk struct {
	Seq        int
	TokenStart int
	TokenEnd   int
	Text       string
}

// ChunkingConfig holds the chunker's tunables, defaults grounded on
// original_source/bartholomew/kernel/chunking_engine.py.
type ChunkingConfig struct {
	Enabled        bool
	TargetTokens   int
	OverlapTokens  int
	ThresholdChars int
	ChunkKinds     map[string]bool
}

// DefaultChunkingConfig returns the engine's built-in defaults.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Enabled:        true,
		TargetTokens:   640,
		OverlapTokens:  64,
		ThresholdChars: 2000,
		ChunkKinds: map[string]bool{
			"conversation.transcript": true,
			"recording.transcript":    true,
			"article.ingested":        true,
			"code.diff":               true,
		},
	}
}

// ShouldChunk reports whether kind/text should be split into chunks.
func (c ChunkingConfig) ShouldChunk(kind, text string) bool {
	if !c.Enabled {
		return false
	}
	if c.ChunkKinds[kind] {
		return true
	}
	return len(text) > c.ThresholdChars
}

// ChunkText splits text into a sequence of overlapping, sentence-snapped
// chunks. Operates on whitespace tokens as a token proxy, exactly as
// the original engine does.
func (c ChunkingConfig) ChunkText(text string) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	tokens := strings.Fields(text)
	n := len(tokens)

	if n <= c.TargetTokens {
		return []Chunk{{Seq: 0, TokenStart: 0, TokenEnd: n, Text: trimmed}}
	}

	var chunks []Chunk
	seq := 0
	start := 0

	for start < n {
		end := start + c.TargetTokens
		if end > n {
			end = n
		}

		if end < n {
			searchStart := end - int(float64(c.TargetTokens)*0.2)
			if searchStart < start {
				searchStart = start
			}
			if boundary := findSentenceBoundary(tokens, searchStart, end); boundary > start {
				end = boundary
			}
		}

		chunkText := strings.TrimSpace(strings.Join(tokens[start:end], " "))
		chunks = append(chunks, Chunk{Seq: seq, TokenStart: start, TokenEnd: end, Text: chunkText})

		if end >= n {
			break
		}

		next := end - c.OverlapTokens
		if next > end {
			next = end
		}
		start = next
		seq++
	}

	return chunks
}

// findSentenceBoundary searches tokens[start:end) backwards for the
// last token ending in a run of [.!?], returning the index after it, or
// -1 if none found.
func findSentenceBoundary(tokens []string, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if endsWithTerminatorRun(tokens[i]) {
			return i + 1
		}
	}
	return -1
}

func endsWithTerminatorRun(token string) bool {
	if token == "" {
		return false
	}
	last := token[len(token)-1]
	if last != '.' && last != '!' && last != '?' {
		return false
	}
	return true
}
