package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/perolyat/bartholomew/internal/logging"
	"github.com/perolyat/bartholomew/internal/metrics"
)

// Schema is the full DDL for the memory store, grounded on
// original_source/bartholomew/kernel/memory_store.py's SCHEMA plus the
// fts_client.py / vector_store.py tables this spec folds in.
const Schema = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=NORMAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS memories (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  summary TEXT,
  privacy_class TEXT,
  recall_policy TEXT,
  expires_in TEXT,
  ts TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_memories_kind_key ON memories(kind, key);

CREATE TABLE IF NOT EXISTS memory_chunks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  memory_id INTEGER NOT NULL,
  seq INTEGER NOT NULL,
  token_start INTEGER NOT NULL,
  token_end INTEGER NOT NULL,
  text TEXT NOT NULL,
  FOREIGN KEY(memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_memory_chunks_memory ON memory_chunks(memory_id, seq);

CREATE TABLE IF NOT EXISTS chunk_fts_map (
  chunk_id INTEGER PRIMARY KEY,
  FOREIGN KEY(chunk_id) REFERENCES memory_chunks(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS memory_embeddings (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  memory_id INTEGER NOT NULL,
  source TEXT NOT NULL,
  provider TEXT NOT NULL,
  model TEXT NOT NULL,
  dim INTEGER NOT NULL,
  vector BLOB NOT NULL,
  created_ts TEXT NOT NULL,
  FOREIGN KEY(memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_memory_embeddings_memory ON memory_embeddings(memory_id);

CREATE TABLE IF NOT EXISTS memory_fts_map (
  memory_id INTEGER PRIMARY KEY,
  FOREIGN KEY(memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS memory_consent (
  memory_id INTEGER PRIMARY KEY,
  consent_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  source TEXT,
  FOREIGN KEY(memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS memory_nudges (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  message TEXT NOT NULL,
  actions TEXT,
  status TEXT CHECK(status IN ('pending','acked','dismissed')) DEFAULT 'pending',
  reason TEXT,
  created_ts TEXT NOT NULL,
  acted_ts TEXT
);
CREATE INDEX IF NOT EXISTS idx_memory_nudges_status_ts ON memory_nudges(status, created_ts);

CREATE TABLE IF NOT EXISTS memory_reflections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  content TEXT NOT NULL,
  meta TEXT,
  ts TEXT NOT NULL,
  pinned INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_reflections_kind_ts ON memory_reflections(kind, ts);

CREATE TABLE IF NOT EXISTS skill_permissions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  skill_name TEXT NOT NULL,
  permission TEXT NOT NULL,
  granted_ts TEXT NOT NULL,
  granted_by TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_skill_permissions ON skill_permissions(skill_name, permission);
`

// UpsertResult mirrors StoreResult from memory_store.py: the outcome of
// an Upsert call. Upsert does not fill EphemeralEmbeddings: when
// embed_store is false the computed vectors are discarded, not
// returned.
type UpsertResult struct {
	MemoryID            int64
	Stored              bool
	CreatedOrUpdated    string // "created" | "updated"
	EphemeralEmbeddings []EphemeralEmbedding
	Blocked             string // reason, set when Stored is false
}

// EphemeralEmbedding is a vector computed during Upsert but not written
// to memory_embeddings (compute-only policy).
type EphemeralEmbedding struct {
	Source string
	Vector []float32
}

// Store is the transactional memory store. It owns rule
// evaluation, redaction, summarization, encryption, chunking, FTS
// indexing, and (best-effort, after commit) embedding persistence around a
// single upsert/delete pipeline, grounded on
// original_source/bartholomew/kernel/memory_store.py's MemoryStore.
type Store struct {
	db           *sql.DB
	rules        *MemoryRulesEngine
	keys         *KeyProvider
	enc          *EncryptionEngine
	chunking     ChunkingConfig
	policy       Policy
	consent      ConsentProvider
	fts          *FTSClient
	chunkFTS     *ChunkFTSClient
	vectors      *VectorStore
	embedder     Embedder
	embedEnabled bool
	ftsIndexMode string // "summary_preferred" | "redacted_only"
}

// StoreConfig bundles Store's collaborators.
type StoreConfig struct {
	Rules        *MemoryRulesEngine
	Keys         *KeyProvider
	Chunking     ChunkingConfig
	Policy       Policy
	Consent      ConsentProvider
	Embedder     Embedder
	EmbedEnabled bool
	FTSIndexMode string
}

// NewStore applies Schema to db (already connected) and initializes the
// FTS tables. There is no migration step: tables are created with
// CREATE ... IF NOT EXISTS, existing tables are not altered, and
// PRAGMA user_version is not set.
func NewStore(db *sql.DB, cfg StoreConfig) (*Store, error) {
	if cfg.FTSIndexMode == "" {
		cfg.FTSIndexMode = "summary_preferred"
	}
	if cfg.Consent == nil {
		log.Warn().Msg("no consent provider configured; ask_before_store memories will be auto-denied")
		cfg.Consent = AutoDenyConsent{}
	}
	s := &Store{
		db:           db,
		rules:        cfg.Rules,
		keys:         cfg.Keys,
		enc:          NewEncryptionEngine(cfg.Keys),
		chunking:     cfg.Chunking,
		policy:       cfg.Policy,
		consent:      cfg.Consent,
		embedder:     cfg.Embedder,
		embedEnabled: cfg.EmbedEnabled,
		ftsIndexMode: cfg.FTSIndexMode,
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s.fts = NewFTSClient(db)
	if err := s.fts.InitSchema(); err != nil {
		log.Warn().Err(err).Msg("failed to initialize FTS5 schema")
	}
	s.chunkFTS = NewChunkFTSClient(db)
	if err := s.chunkFTS.InitSchema(); err != nil {
		log.Warn().Err(err).Msg("failed to initialize chunk FTS5 schema")
	}
	s.vectors = NewVectorStore(db)

	log.Info().Msg("memory store initialized")
	return s, nil
}

// Upsert runs the full pipeline: rule evaluation, redaction,
// summarization, FTS index-text selection, encryption, the
// base-row+FTS transaction, and (outside the transaction) embedding
// generation/persistence.
func (s *Store) Upsert(ctx context.Context, kind, key, value, ts string) (UpsertResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.UpsertDuration, kind)

	evaluated := s.rules.Evaluate(Candidate{Kind: kind, Key: key, Content: value})
	for _, cat := range evaluated.MatchedCategories {
		metrics.RulesEvaluatedTotal.WithLabelValues(cat).Inc()
	}

	if !evaluated.AllowStore {
		log.Info().Str("kind", kind).Str("key", key).Msg("memory blocked by governance rules")
		metrics.UpsertsTotal.WithLabelValues(kind, "blocked").Inc()
		return UpsertResult{Blocked: "never_store"}, nil
	}
	if evaluated.RequiresConsent {
		if !s.consent.RequestConsent(ctx, kind, key) {
			log.Info().Str("kind", kind).Str("key", key).Msg("memory upsert refused by consent gate")
			metrics.UpsertsTotal.WithLabelValues(kind, "consent_refused").Inc()
			return UpsertResult{Blocked: "consent_refused"}, nil
		}
	}
	metrics.UpsertsTotal.WithLabelValues(kind, "stored").Inc()

	redactedValue := value
	if evaluated.RedactStrategy != "" {
		redactedValue = ApplyRedaction(value, evaluated)
	}

	var summary string
	summaryMode := evaluated.SummaryMode
	if summaryMode == "" {
		summaryMode = DefaultSummaryMode
	}
	if ShouldSummarize(evaluated, redactedValue, kind) {
		summary = Summarize(redactedValue, TargetSummaryLength)
		if summaryMode == "summary_only" {
			redactedValue = summary
			summary = ""
		}
	}

	indexText := redactedValue
	if summary != "" && s.ftsIndexMode == "summary_preferred" {
		indexText = summary
	}

	valueToStore := redactedValue
	if encrypted, ok, err := s.enc.EncryptForPolicy(redactedValue, kind, key, ts, evaluated.Encrypt, false); err != nil {
		return UpsertResult{}, fmt.Errorf("encrypt value: %w", err)
	} else if ok {
		valueToStore = encrypted
	}

	summaryToStore := ""
	hasSummary := summary != ""
	if hasSummary {
		summaryToStore = summary
		if encrypted, ok, err := s.enc.EncryptForPolicy(summary, kind, key, ts, evaluated.Encrypt, true); err != nil {
			return UpsertResult{}, fmt.Errorf("encrypt summary: %w", err)
		} else if ok {
			summaryToStore = encrypted
		}
	}

	result := UpsertResult{CreatedOrUpdated: "created"}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	existsErr := tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE kind=? AND key=?`, kind, key).Scan(&existingID)
	if existsErr == nil {
		result.CreatedOrUpdated = "updated"
	}

	var summaryArg any
	if hasSummary {
		summaryArg = summaryToStore
	}
	var expiresArg any
	if evaluated.ExpiresIn != "" {
		expiresArg = evaluated.ExpiresIn
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories(kind,key,value,summary,privacy_class,recall_policy,expires_in,ts)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(kind,key) DO UPDATE SET
			value=excluded.value, summary=excluded.summary,
			privacy_class=excluded.privacy_class, recall_policy=excluded.recall_policy,
			expires_in=excluded.expires_in, ts=excluded.ts
	`, kind, key, valueToStore, summaryArg, evaluated.PrivacyClass, evaluated.RecallPolicy, expiresArg, ts)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert memory row: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE kind=? AND key=?`, kind, key).Scan(&result.MemoryID); err != nil {
		return UpsertResult{}, fmt.Errorf("read memory id: %w", err)
	}
	result.Stored = true

	if err := s.replaceChunksTx(ctx, tx, result.MemoryID, kind, redactedValue); err != nil {
		return UpsertResult{}, fmt.Errorf("replace chunks: %w", err)
	}

	ftsAllowed := evaluated.FTSIndex
	if ftsAllowed && !CanIndex(evaluated, s.policy) {
		ftsAllowed = false
		log.Info().Int64("memory_id", result.MemoryID).Msg("FTS indexing blocked by policy")
	}
	if ftsAllowed {
		if err := s.fts.ReindexTx(ctx, tx, result.MemoryID, indexText); err != nil {
			return UpsertResult{}, fmt.Errorf("reindex fts: %w", err)
		}
	} else {
		if err := s.fts.RemoveTx(ctx, tx, result.MemoryID); err != nil {
			return UpsertResult{}, fmt.Errorf("remove fts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit tx: %w", err)
	}

	s.persistEmbeddingsAsync(logging.DetachContext(ctx), result.MemoryID, kind, key, value, evaluated)

	return result, nil
}

// replaceChunksTx replaces a memory's chunks wholesale, along with
// their chunk-FTS rows: existing chunk ids are removed from chunk_fts
// before the chunk rows themselves are deleted, since an FTS5
// virtual table doesn't participate in the ON DELETE CASCADE from
// memory_chunks.
func (s *Store) replaceChunksTx(ctx context.Context, tx *sql.Tx, memoryID int64, kind, text string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM memory_chunks WHERE memory_id=?`, memoryID)
	if err != nil {
		return err
	}
	var existingIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existingIDs = append(existingIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range existingIDs {
		if err := s.chunkFTS.RemoveTx(ctx, tx, id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_chunks WHERE memory_id=?`, memoryID); err != nil {
		return err
	}
	if !s.chunking.ShouldChunk(kind, text) {
		return nil
	}
	for _, c := range s.chunking.ChunkText(text) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO memory_chunks(memory_id, seq, token_start, token_end, text)
			VALUES(?,?,?,?,?)
		`, memoryID, c.Seq, c.TokenStart, c.TokenEnd, c.Text)
		if err != nil {
			return err
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := s.chunkFTS.ReindexTx(ctx, tx, chunkID, c.Text); err != nil {
			return err
		}
	}
	return nil
}

// persistEmbeddingsAsync generates and stores embeddings outside the
// base-row transaction, matching the Python store's "persist embeddings
// outside async context to avoid database lock" comment. Despite the
// name it runs synchronously: Upsert calls it right after the commit,
// passing a detached context so a cancelled request context never
// interrupts a persisted write.
func (s *Store) persistEmbeddingsAsync(ctx context.Context, memoryID int64, kind, key, origValue string, evaluated EvaluatedMetadata) {
	if !s.embedEnabled || s.embedder == nil {
		return
	}
	embedMode := evaluated.EmbedMode
	if embedMode == "" {
		embedMode = "summary"
	}
	embedStore := evaluated.EmbedStore

	if embedMode != "none" && !CanIndex(evaluated, s.policy) {
		embedMode = "none"
		log.Info().Int64("memory_id", memoryID).Msg("vector embedding blocked by policy")
	}
	if embedMode == "none" {
		return
	}

	redacted := origValue
	if evaluated.RedactStrategy != "" {
		redacted = ApplyRedaction(origValue, evaluated)
	}

	var summary string
	if ShouldSummarize(evaluated, redacted, kind) {
		summary = Summarize(redacted, TargetSummaryLength)
	}

	var texts, sources []string
	if embedMode == "summary" || embedMode == "both" {
		if summary != "" {
			texts = append(texts, summary)
			sources = append(sources, "summary")
		} else {
			fallback := truncateRunes(redacted, 500)
			if fallback != "" {
				texts = append(texts, fallback)
				sources = append(sources, "summary")
			}
		}
	}
	if embedMode == "full" || embedMode == "both" {
		texts = append(texts, redacted)
		sources = append(sources, "full")
	}
	if len(texts) == 0 {
		return
	}

	embedTimer := metrics.NewTimer()
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	embedTimer.ObserveDuration(metrics.EmbeddingDuration)
	if err != nil {
		log.Error().Err(err).Int64("memory_id", memoryID).Msg("failed to generate embeddings")
		return
	}

	if !embedStore {
		log.Debug().Int("count", len(vecs)).Msg("computed ephemeral embeddings (not persisted)")
		return
	}

	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO memory_consent(memory_id, source) VALUES (?, ?)`, memoryID, "upsert"); err != nil {
		log.Error().Err(err).Msg("failed to record embedding consent")
		return
	}

	for i, vec := range vecs {
		if err := s.vectors.Upsert(ctx, memoryID, vec, sources[i], s.embedder.Provider(), s.embedder.Model()); err != nil {
			log.Error().Err(err).Int64("memory_id", memoryID).Msg("failed to persist embedding")
			continue
		}
		metrics.EmbeddingsPersistedTotal.WithLabelValues(sources[i]).Inc()
	}
	log.Debug().Int("count", len(vecs)).Int64("memory_id", memoryID).Msg("stored embeddings")
}

// PersistEmbeddingsFor generates and stores embeddings for a memory
// that was previously blocked from embedding (e.g. a consent
// promotion), grounded on memory_store.py's persist_embeddings_for.
func (s *Store) PersistEmbeddingsFor(ctx context.Context, memoryID int64, sources []string) (int, error) {
	if !s.embedEnabled || s.embedder == nil {
		return 0, nil
	}

	var kind, key, value string
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT kind, key, value, summary FROM memories WHERE id=?`, memoryID).
		Scan(&kind, &key, &value, &summary)
	if err == sql.ErrNoRows {
		log.Warn().Int64("memory_id", memoryID).Msg("memory not found")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load memory: %w", err)
	}

	evaluated := s.rules.Evaluate(Candidate{Kind: kind, Key: key, Content: value})
	embedMode := evaluated.EmbedMode
	if embedMode == "" {
		embedMode = "summary"
	}
	if embedMode == "none" {
		return 0, nil
	}

	if sources == nil {
		switch embedMode {
		case "both":
			sources = []string{"summary", "full"}
		case "summary":
			if summary.Valid && summary.String != "" {
				sources = []string{"summary"}
			}
		default:
			sources = []string{"full"}
		}
	}

	var texts, sourcesToStore []string
	for _, src := range sources {
		switch src {
		case "summary":
			if summary.Valid && summary.String != "" {
				texts = append(texts, summary.String)
				sourcesToStore = append(sourcesToStore, "summary")
			}
		case "full":
			texts = append(texts, value)
			sourcesToStore = append(sourcesToStore, "full")
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed texts: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO memory_consent(memory_id, source) VALUES (?, ?)`, memoryID, "persist_embeddings_for"); err != nil {
		return 0, fmt.Errorf("record consent: %w", err)
	}

	for i, vec := range vecs {
		if err := s.vectors.Upsert(ctx, memoryID, vec, sourcesToStore[i], s.embedder.Provider(), s.embedder.Model()); err != nil {
			log.Error().Err(err).Msg("failed to persist embedding")
		}
	}
	log.Info().Int("count", len(vecs)).Int64("memory_id", memoryID).Msg("persisted embeddings")
	return len(vecs), nil
}

// Reembed deletes and regenerates embeddings for a memory, defaulting
// to its existing embedding sources when none are given so a re-embed
// never silently drops a channel.
func (s *Store) Reembed(ctx context.Context, memoryID int64, sources []string) (int, error) {
	if !s.embedEnabled || s.embedder == nil {
		return 0, nil
	}
	if sources == nil {
		rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM memory_embeddings WHERE memory_id=?`, memoryID)
		if err != nil {
			return 0, fmt.Errorf("query existing sources: %w", err)
		}
		for rows.Next() {
			var src string
			if err := rows.Scan(&src); err != nil {
				rows.Close()
				return 0, err
			}
			sources = append(sources, src)
		}
		rows.Close()
	}

	if err := s.vectors.DeleteForMemory(ctx, memoryID); err != nil {
		return 0, fmt.Errorf("delete existing embeddings: %w", err)
	}
	return s.PersistEmbeddingsFor(ctx, memoryID, sources)
}

// Delete removes a memory and its FTS/chunk/embedding rows in a single
// transaction (cascade handles chunks/embeddings/consent).
func (s *Store) Delete(ctx context.Context, kind, key string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var memoryID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE kind=? AND key=?`, kind, key).Scan(&memoryID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup memory: %w", err)
	}

	if err := s.fts.RemoveTx(ctx, tx, memoryID); err != nil {
		return false, fmt.Errorf("remove fts: %w", err)
	}

	chunkRows, err := tx.QueryContext(ctx, `SELECT id FROM memory_chunks WHERE memory_id=?`, memoryID)
	if err != nil {
		return false, fmt.Errorf("lookup chunks: %w", err)
	}
	var chunkIDs []int64
	for chunkRows.Next() {
		var id int64
		if err := chunkRows.Scan(&id); err != nil {
			chunkRows.Close()
			return false, fmt.Errorf("scan chunk id: %w", err)
		}
		chunkIDs = append(chunkIDs, id)
	}
	chunkRows.Close()
	if err := chunkRows.Err(); err != nil {
		return false, fmt.Errorf("iterate chunks: %w", err)
	}
	for _, id := range chunkIDs {
		if err := s.chunkFTS.RemoveTx(ctx, tx, id); err != nil {
			return false, fmt.Errorf("remove chunk fts: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id=?`, memoryID); err != nil {
		return false, fmt.Errorf("delete memory row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	log.Debug().Str("kind", kind).Str("key", key).Int64("memory_id", memoryID).Msg("deleted memory")
	return true, nil
}

// CreateNudge records a nudge (kind, message, proposed actions, reason).
func (s *Store) CreateNudge(ctx context.Context, kind, message string, actions []map[string]any, reason, createdTS string) (int64, error) {
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return 0, fmt.Errorf("marshal actions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_nudges(kind, message, actions, reason, created_ts, status)
		VALUES(?,?,?,?,?,'pending')
	`, kind, message, string(actionsJSON), reason, createdTS)
	if err != nil {
		return 0, fmt.Errorf("insert nudge: %w", err)
	}
	metrics.NudgesSentTotal.Inc()
	return res.LastInsertId()
}

// SetNudgeStatus transitions a nudge to acked/dismissed.
func (s *Store) SetNudgeStatus(ctx context.Context, nudgeID int64, status string, actedTS *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_nudges SET status=?, acted_ts=? WHERE id=?`, status, actedTS, nudgeID)
	return err
}

// NewRetriever builds a HybridRetriever wired to this store's FTS
// index, vector store, consent gate, and rules engine.
func (s *Store) NewRetriever(consent *ConsentGate) *HybridRetriever {
	return NewHybridRetriever(s.fts, s.vectors, consent, s.rules, s.embedder, s.loadMemoryForRetrieval)
}

// RefreshIndexGauges recomputes the FTS/vector row-count gauges
// scraped by Prometheus. Cheap enough to call after a backfill batch
// or on a periodic ticker; not on the Upsert hot path.
func (s *Store) RefreshIndexGauges(ctx context.Context) {
	if n, err := s.fts.Count(ctx); err == nil {
		metrics.FTSIndexSize.Set(float64(n))
	}
	if n, err := s.vectors.Count(ctx); err == nil {
		metrics.VectorIndexSize.Set(float64(n))
	}
}

func (s *Store) loadMemoryForRetrieval(ctx context.Context, memoryID int64) (candidateRow, string, bool) {
	var row candidateRow
	var ts string
	err := s.db.QueryRowContext(ctx, `SELECT kind, key, value, ts FROM memories WHERE id=?`, memoryID).
		Scan(&row.kind, &row.key, &row.value, &ts)
	if err != nil {
		return candidateRow{}, "", false
	}
	row.value = s.enc.TryDecryptIfEnvelope(row.value)
	return row, ts, true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return trimSpace(s)
	}
	return trimSpace(string(runes[:n]))
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
