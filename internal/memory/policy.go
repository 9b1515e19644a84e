package memory

import "strings"

// Policy is the indexing-level veto independent of any single rule's
// own fts_index/embed settings, grounded on
// original_source/bartholomew/kernel/policy.py's load_policy plus the
// can_index contract recovered from
// original_source/tests/test_indexing_policy_guard.py.
type Policy struct {
	// DisallowStrongOnly, when true, vetoes FTS and vector indexing
	// for any memory encrypted at "strong" strength, regardless of
	// its own fts_index/embed rule settings.
	DisallowStrongOnly bool
}

// CanIndex is the policy-level gate over indexing (FTS or vector): a
// never_store or ask_before_store-without-consent memory is never
// indexed, and a strong-only-encrypted memory is vetoed when policy
// disallows it, matching test_can_index_case_insensitive's
// case/whitespace-insensitive "strong" comparison.
func CanIndex(evaluated EvaluatedMetadata, policy Policy) bool {
	if !evaluated.AllowStore {
		return false
	}
	if evaluated.RequiresConsent {
		return false
	}
	if policy.DisallowStrongOnly && strings.EqualFold(strings.TrimSpace(evaluated.Encrypt), "strong") {
		return false
	}
	return true
}
