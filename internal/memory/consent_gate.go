package memory

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
)

// MemoryPolicy is the per-memory decision a ConsentGate attaches to a
// retrieval result: whether to include it at all, and whether it's
// recall-suppressed to context-only use.
type MemoryPolicy struct {
	Include      bool
	ContextOnly  bool
	RecallPolicy string
	PrivacyClass string
}

// ConsentGate re-evaluates governance rules against the
// current memory content at read time (not the write-time decision
// cached on the row) and excludes never_store / un-consented
// ask_before_store memories from FTS and vector results. Grounded on
// ConsentGate in
// original_source/bartholomew/kernel/consent_gate.py.
type ConsentGate struct {
	db    *sql.DB
	rules *MemoryRulesEngine
}

// NewConsentGate wires db and the shared rules engine.
func NewConsentGate(db *sql.DB, rules *MemoryRulesEngine) *ConsentGate {
	return &ConsentGate{db: db, rules: rules}
}

// ConsentedMemoryIDs returns the set of memory ids with an explicit
// consent record.
func (g *ConsentGate) ConsentedMemoryIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT memory_id FROM memory_consent`)
	if err != nil {
		log.Error().Err(err).Msg("failed to load consented memory ids")
		return map[int64]bool{}, nil
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

type candidateRow struct {
	kind, key, value string
}

func (g *ConsentGate) loadCandidates(ctx context.Context, memoryIDs []int64) (map[int64]candidateRow, error) {
	out := make(map[int64]candidateRow)
	if len(memoryIDs) == 0 {
		return out, nil
	}
	placeholders, args := inClause(memoryIDs)
	rows, err := g.db.QueryContext(ctx, `SELECT id, kind, key, value FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		log.Error().Err(err).Msg("failed to load memory metadata for consent gating")
		return out, nil
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var c candidateRow
		if err := rows.Scan(&id, &c.kind, &c.key, &c.value); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}

// FilterMemoryIDs re-evaluates rules for each memory id and returns its
// policy decision. IDs with no backing row are excluded.
func (g *ConsentGate) FilterMemoryIDs(ctx context.Context, memoryIDs []int64, consented map[int64]bool) (map[int64]MemoryPolicy, error) {
	if len(memoryIDs) == 0 {
		return map[int64]MemoryPolicy{}, nil
	}
	if consented == nil {
		var err error
		consented, err = g.ConsentedMemoryIDs(ctx)
		if err != nil {
			return nil, err
		}
	}

	candidates, err := g.loadCandidates(ctx, memoryIDs)
	if err != nil {
		return nil, err
	}

	results := make(map[int64]MemoryPolicy, len(memoryIDs))
	for _, id := range memoryIDs {
		row, ok := candidates[id]
		if !ok {
			results[id] = MemoryPolicy{Include: false}
			continue
		}

		evaluated := g.rules.Evaluate(Candidate{Kind: row.kind, Key: row.key, Content: row.value})

		include := true
		if !evaluated.AllowStore {
			include = false
		}
		if evaluated.RequiresConsent && !consented[id] {
			include = false
		}

		results[id] = MemoryPolicy{
			Include:      include,
			ContextOnly:  evaluated.ContextOnly(),
			RecallPolicy: evaluated.RecallPolicy,
			PrivacyClass: evaluated.PrivacyClass,
		}
	}
	return results, nil
}

// ApplyToFTSResults filters hits whose policy excludes them and
// attaches each survivor's context-only/recall-policy marking.
func (g *ConsentGate) ApplyToFTSResults(ctx context.Context, hits []FTSHit, consented map[int64]bool) ([]FTSHit, map[int64]MemoryPolicy, error) {
	if len(hits) == 0 {
		return nil, nil, nil
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.MemoryID
	}
	policy, err := g.FilterMemoryIDs(ctx, ids, consented)
	if err != nil {
		return nil, nil, err
	}

	var filtered []FTSHit
	for _, h := range hits {
		if policy[h.MemoryID].Include {
			filtered = append(filtered, h)
		}
	}
	log.Debug().Int("before", len(hits)).Int("after", len(filtered)).Msg("consent gate applied to fts results")
	return filtered, policy, nil
}

// ApplyToVectorResults filters vector hits by the same consent policy.
func (g *ConsentGate) ApplyToVectorResults(ctx context.Context, hits []VectorHit, consented map[int64]bool) ([]VectorHit, map[int64]MemoryPolicy, error) {
	if len(hits) == 0 {
		return nil, nil, nil
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.MemoryID
	}
	policy, err := g.FilterMemoryIDs(ctx, ids, consented)
	if err != nil {
		return nil, nil, err
	}

	var filtered []VectorHit
	for _, h := range hits {
		if policy[h.MemoryID].Include {
			filtered = append(filtered, h)
		}
	}
	log.Debug().Int("before", len(hits)).Int("after", len(filtered)).Msg("consent gate applied to vector results")
	return filtered, policy, nil
}

// GetMemoryPolicy returns the policy decision for a single memory id.
func (g *ConsentGate) GetMemoryPolicy(ctx context.Context, memoryID int64, consented map[int64]bool) (MemoryPolicy, error) {
	results, err := g.FilterMemoryIDs(ctx, []int64{memoryID}, consented)
	if err != nil {
		return MemoryPolicy{}, err
	}
	if p, ok := results[memoryID]; ok {
		return p, nil
	}
	return MemoryPolicy{Include: false}, nil
}

func inClause(ids []int64) (string, []any) {
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	return string(placeholders), args
}
