package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// vssHardcodedDim is the dimensionality the (unimplemented) sqlite-vss
// acceleration path is pinned to. A configured embedding dimension that
// doesn't match this disables VSS and falls back to brute force,
// grounded on VectorStore._check_vss_availability in
// original_source/bartholomew/kernel/vector_store.py.
const vssHardcodedDim = 384

// VectorStore is SQLite-backed vector storage with strict
// provider/model/dim matching and brute-force cosine search. A VSS
// probe is attempted but always falls back to brute force today (the
// original's _search_vss is itself an unimplemented placeholder).
type VectorStore struct {
	db          *sql.DB
	vssProbed   bool
	vssUsable   bool
}

// NewVectorStore wraps db for embedding storage/search.
func NewVectorStore(db *sql.DB) *VectorStore {
	vs := &VectorStore{db: db}
	vs.probeVSS()
	return vs
}

// probeVSS checks whether the configured embedding dimension matches
// the VSS extension's hardcoded 384, logging the same guidance the
// original emits on mismatch. VSS itself is never actually queried
// (upstream's accelerated path was a stub); this only records the
// probe outcome for diagnostics.
func (vs *VectorStore) probeVSS() {
	vs.vssProbed = true
	dim := vssHardcodedDim
	if v := os.Getenv("BARTHO_EMBED_DIM"); v != "" {
		var parsed int
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil && parsed > 0 {
			dim = parsed
		}
	}
	if dim != vssHardcodedDim {
		log.Error().Int("configured_dim", dim).Int("vss_dim", vssHardcodedDim).
			Msg("VSS disabled: dimension mismatch, using brute-force cosine search")
		vs.vssUsable = false
		return
	}
	vs.vssUsable = true
}

// Upsert inserts or replaces the (memory_id, source) embedding.
func (vs *VectorStore) Upsert(ctx context.Context, memoryID int64, vec []float32, source, provider, model string) error {
	if source != "summary" && source != "full" {
		return fmt.Errorf("vector store: source must be 'summary' or 'full', got %q", source)
	}
	blob := Float32SliceToBytes(vec)
	now := time.Now().UTC().Format(time.RFC3339)

	var existingID int64
	err := vs.db.QueryRowContext(ctx, `SELECT id FROM memory_embeddings WHERE memory_id=? AND source=?`, memoryID, source).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		_, err = vs.db.ExecContext(ctx, `
			INSERT INTO memory_embeddings(memory_id, source, provider, model, dim, vector, created_ts)
			VALUES (?,?,?,?,?,?,?)
		`, memoryID, source, provider, model, len(vec), blob, now)
		return err
	case err != nil:
		return fmt.Errorf("check existing embedding: %w", err)
	default:
		_, err = vs.db.ExecContext(ctx, `
			UPDATE memory_embeddings SET provider=?, model=?, dim=?, vector=?, created_ts=?
			WHERE id=?
		`, provider, model, len(vec), blob, now, existingID)
		return err
	}
}

// DeleteForMemory removes every embedding belonging to memoryID.
func (vs *VectorStore) DeleteForMemory(ctx context.Context, memoryID int64) error {
	_, err := vs.db.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE memory_id=?`, memoryID)
	return err
}

// Count returns the total number of stored embeddings.
func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_embeddings`).Scan(&n)
	return n, err
}

// VectorSearchOptions configures VectorStore.Search. Matching is strict
// (provider/model/dim must match exactly) unless every field is left
// empty/zero, matching the original's "allow_mismatch when caller gave
// no filters" backward-compat rule.
type VectorSearchOptions struct {
	Provider string
	Model    string
	Dim      int
	Source   string // "summary" | "full" | "" (either)
}

// VectorHit is one result of Search: a memory id and its cosine score.
type VectorHit struct {
	MemoryID int64
	Score    float64
}

// Search performs brute-force cosine similarity search over stored
// embeddings for qvec, returning the topK highest-scoring memory ids.
// Callers that need consent gating apply it to the returned hits
// themselves (ApplyToVectorResults), mirroring the original's
// "fetch 3x then trim" idiom when a gate is layered on top.
func (vs *VectorStore) Search(ctx context.Context, qvec []float32, topK int, opts VectorSearchOptions) ([]VectorHit, error) {
	qvec = NormalizeVector(qvec)
	allowMismatch := opts.Provider == "" && opts.Model == "" && opts.Dim == 0

	query := `SELECT memory_id, vector, dim, provider, model, source FROM memory_embeddings WHERE 1=1`
	var args []any
	if !allowMismatch {
		if opts.Provider != "" {
			query += ` AND provider=?`
			args = append(args, opts.Provider)
		}
		if opts.Model != "" {
			query += ` AND model=?`
			args = append(args, opts.Model)
		}
		if opts.Dim != 0 {
			query += ` AND dim=?`
			args = append(args, opts.Dim)
		}
	} else if opts.Dim != 0 {
		query += ` AND dim=?`
		args = append(args, opts.Dim)
	}
	if opts.Source != "" {
		query += ` AND source=?`
		args = append(args, opts.Source)
	}

	rows, err := vs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	qdim := len(qvec)
	var hits []VectorHit
	for rows.Next() {
		var memoryID int64
		var blob []byte
		var dim int
		var provider, model, source string
		if err := rows.Scan(&memoryID, &blob, &dim, &provider, &model, &source); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		if dim != qdim {
			continue
		}
		vec := BytesToFloat32Slice(blob)
		score := CosineSimilarity(qvec, vec)
		hits = append(hits, VectorHit{MemoryID: memoryID, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
