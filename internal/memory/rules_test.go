package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRulesFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "memory_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestEvaluateNoRulesAllowsStoreByDefault(t *testing.T) {
	e := NewMemoryRulesEngine(filepath.Join(t.TempDir(), "absent.yaml"))
	defer e.StopWatcher()

	result := e.Evaluate(Candidate{Kind: "chat", Key: "k1", Content: "hello"})
	assert.True(t, result.AllowStore)
	assert.True(t, result.FTSIndex)
	assert.Equal(t, "summary", result.EmbedMode)
}

func TestEvaluateNeverStoreBlocks(t *testing.T) {
	path := writeRulesFile(t, `
never_store:
  - match:
      kind: secret.credential
    metadata:
      allow_store: false
`)
	e := NewMemoryRulesEngine(path)
	defer e.StopWatcher()

	result := e.Evaluate(Candidate{Kind: "secret.credential", Key: "pw"})
	assert.False(t, result.AllowStore)
	assert.False(t, e.ShouldStore(Candidate{Kind: "secret.credential"}))
}

func TestEvaluatePriorityFirstWins(t *testing.T) {
	path := writeRulesFile(t, `
never_store:
  - match:
      kind: note
    metadata:
      redact_strategy: mask
always_keep:
  - match:
      kind: note
    metadata:
      redact_strategy: remove
`)
	e := NewMemoryRulesEngine(path)
	defer e.StopWatcher()

	result := e.Evaluate(Candidate{Kind: "note", Key: "x"})
	assert.Equal(t, "mask", result.RedactStrategy)
	assert.ElementsMatch(t, []string{"never_store", "always_keep"}, result.MatchedCategories)
}

func TestEvaluateContentRegexMatch(t *testing.T) {
	path := writeRulesFile(t, `
ask_before_store:
  - match:
      content: "ssn|social security"
    metadata:
      requires_consent: true
`)
	e := NewMemoryRulesEngine(path)
	defer e.StopWatcher()

	result := e.Evaluate(Candidate{Kind: "chat", Content: "my SSN is 123"})
	assert.True(t, result.RequiresConsent)

	clean := e.Evaluate(Candidate{Kind: "chat", Content: "nothing sensitive"})
	assert.False(t, clean.RequiresConsent)
}

func TestEvaluateTagsIntersection(t *testing.T) {
	path := writeRulesFile(t, `
context_only:
  - match:
      tags: [ephemeral, scratch]
    metadata:
      recall_policy: context_only
`)
	e := NewMemoryRulesEngine(path)
	defer e.StopWatcher()

	hit := e.Evaluate(Candidate{Kind: "note", Tags: []string{"scratch"}})
	assert.Equal(t, "context_only", hit.RecallPolicy)

	miss := e.Evaluate(Candidate{Kind: "note", Tags: []string{"other"}})
	assert.Empty(t, miss.RecallPolicy)
}

func TestEvaluateRedactDefaultsStrategyToMask(t *testing.T) {
	path := writeRulesFile(t, `
ask_before_store:
  - match:
      kind: note
    metadata:
      redact: true
`)
	e := NewMemoryRulesEngine(path)
	defer e.StopWatcher()

	result := e.Evaluate(Candidate{Kind: "note"})
	assert.True(t, result.Redact)
	assert.Equal(t, "mask", result.RedactStrategy)
}

func TestEvaluateRuleBoostAndKindBoost(t *testing.T) {
	path := writeRulesFile(t, `
always_keep:
  - match:
      kind: preference
    metadata:
      kind_boost: 1.5
      rule_boost: 2.0
`)
	e := NewMemoryRulesEngine(path)
	defer e.StopWatcher()

	result := e.Evaluate(Candidate{Kind: "preference"})
	assert.Equal(t, 1.5, result.KindBoost)
	assert.Equal(t, 2.0, result.RuleBoost)
}

func TestEvaluateInvalidRegexDoesNotMatch(t *testing.T) {
	path := writeRulesFile(t, `
never_store:
  - match:
      content: "("
    metadata:
      allow_store: false
`)
	e := NewMemoryRulesEngine(path)
	defer e.StopWatcher()

	result := e.Evaluate(Candidate{Kind: "chat", Content: "anything"})
	assert.True(t, result.AllowStore)
}

func TestReloadPicksUpFileChanges(t *testing.T) {
	path := writeRulesFile(t, `
never_store:
  - match:
      kind: secret
    metadata:
      allow_store: false
`)
	e := NewMemoryRulesEngine(path)
	defer e.StopWatcher()
	require.False(t, e.ShouldStore(Candidate{Kind: "secret"}))

	require.NoError(t, os.WriteFile(path, []byte("never_store: []\n"), 0o644))
	e.Reload()

	assert.True(t, e.ShouldStore(Candidate{Kind: "secret"}))
}

func TestMemoryRuleMatchesUnsetFieldsAlwaysPass(t *testing.T) {
	r := MemoryRule{Match: map[string]any{}}
	assert.True(t, r.Matches(candidateMemory{Kind: "anything"}))
}

func TestMemoryRuleMatchesSpeaker(t *testing.T) {
	r := MemoryRule{Match: map[string]any{"speaker": "assistant"}}
	assert.True(t, r.Matches(candidateMemory{Speaker: "assistant"}))
	assert.False(t, r.Matches(candidateMemory{Speaker: "user"}))
}
