package memory

import "time"

// EvaluatedMetadata is the result of running the rules engine over
// a memory's (kind, key, value) at ingestion or read-time
// re-evaluation. It carries every per-cell policy decision the rest of
// the pipeline consults: whether to store at all, whether and how to
// redact, summarize, encrypt, chunk, and index, plus any rule-attached
// metadata. Grounded on MemoryRulesEngine.evaluate's enriched dict in
// original_source/bartholomew/kernel/memory_rules.py.
type EvaluatedMetadata struct {
	AllowStore      bool
	RequiresConsent bool

	// Redaction.
	Redact         bool
	RedactStrategy string
	Content        string // regex pattern the rule matched/supplied for redaction

	// Summarization.
	SummaryMode string
	Summarize   bool

	// Encryption: "", "standard"/"true", or "strong".
	Encrypt string

	// Indexing.
	FTSIndex   bool
	EmbedMode  string // "none" | "summary" | "full" | "both"
	EmbedStore bool

	// Recall policy.
	RecallPolicy string // e.g. "context_only"
	PrivacyClass string
	ExpiresIn    string
	ExpireAt     *time.Time

	KindBoost float64
	RuleBoost float64

	MatchedCategories []string
	MatchedRules      []MatchedRule
	Metadata          map[string]any
}

// ContextOnly reports whether this cell is recall-suppressed for
// direct retrieval and only usable as ambient context.
func (e EvaluatedMetadata) ContextOnly() bool {
	return e.RecallPolicy == "context_only"
}

// MatchedRule records which rule (category + its match clause) fired
// during evaluation, for debugging and audit.
type MatchedRule struct {
	Category string
	Match    map[string]any
}

// Memory is the in-process representation of a stored memory record,
// assembled from the memories table row plus its decrypted/derived
// fields.
type Memory struct {
	ID            string
	Kind          string
	Key           string
	Value         string
	Summary       string
	Category      string
	ContextOnly   bool
	FTSAllowed    bool
	VectorAllowed bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpireAt      *time.Time
	Metadata      map[string]string
}
