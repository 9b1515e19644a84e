package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldSummarizeFullAlwaysNeverSummarizes(t *testing.T) {
	e := EvaluatedMetadata{SummaryMode: "full_always", Summarize: true}
	assert.False(t, ShouldSummarize(e, strings.Repeat("x", 5000), "conversation.transcript"))
}

func TestShouldSummarizeExplicitFlag(t *testing.T) {
	e := EvaluatedMetadata{Summarize: true}
	assert.True(t, ShouldSummarize(e, "short", "preference"))
}

func TestShouldSummarizeAutoKindOverThreshold(t *testing.T) {
	e := EvaluatedMetadata{}
	long := strings.Repeat("word ", 300)
	assert.True(t, ShouldSummarize(e, long, "conversation.transcript"))
}

func TestShouldSummarizeAutoKindUnderThreshold(t *testing.T) {
	e := EvaluatedMetadata{}
	assert.False(t, ShouldSummarize(e, "short text", "conversation.transcript"))
}

func TestShouldSummarizeNonAutoKindUnaffected(t *testing.T) {
	e := EvaluatedMetadata{}
	long := strings.Repeat("word ", 300)
	assert.False(t, ShouldSummarize(e, long, "preference"))
}

func TestSummarizeShortInputFallsBackToTruncation(t *testing.T) {
	out := Summarize("one single giant sentence with no terminators at all that just keeps going and going and going and going and going", 40)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.LessOrEqual(t, len(out), 43)
}

func TestSummarizeAccumulatesSentencesUnderTarget(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here that is a bit longer than the others."
	out := Summarize(text, 50)
	assert.Contains(t, out, "First sentence here.")
}

func TestSummarizeEmptyInput(t *testing.T) {
	out := Summarize("", 100)
	assert.Equal(t, "...", out)
}

func TestSplitSentencesBasic(t *testing.T) {
	got := splitSentences("One. Two! Three?")
	assert.Equal(t, []string{"One.", "Two!", "Three?"}, got)
}

func TestSplitSentencesNoTerminatorReturnsWholeString(t *testing.T) {
	got := splitSentences("no terminators here")
	assert.Equal(t, []string{"no terminators here"}, got)
}
