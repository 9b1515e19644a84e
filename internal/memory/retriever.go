package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perolyat/bartholomew/internal/metrics"
)

// HybridRetrievalConfig tunes the retriever's fusion, recency, and boost
// behavior. Weights are auto-renormalized to sum to 1 on construction,
// grounded on HybridRetrievalConfig in
// original_source/bartholomew/kernel/retrieval_config.py.
type HybridRetrievalConfig struct {
	WeightFTS      float64
	WeightVec      float64
	RRFK           int
	HalfLifeHours  float64
	KindBoosts     map[string]float64
	FusionMode     string // "weighted" | "rrf"
}

// NewHybridRetrievalConfig builds a config from the given FTS/vector
// weights (renormalized) and otherwise uses defaults matching the
// original's RetrievalConfigManager (rrf_k=60, half_life_days=7,
// weighted fusion).
func NewHybridRetrievalConfig(weightFTS, weightVec float64) HybridRetrievalConfig {
	cfg := HybridRetrievalConfig{
		WeightFTS:     weightFTS,
		WeightVec:     weightVec,
		RRFK:          60,
		HalfLifeHours: 7 * 24,
		KindBoosts:    map[string]float64{},
		FusionMode:    "weighted",
	}
	sum := cfg.WeightFTS + cfg.WeightVec
	if sum > 0 {
		cfg.WeightFTS /= sum
		cfg.WeightVec /= sum
	} else {
		cfg.WeightFTS = 0.5
		cfg.WeightVec = 0.5
	}
	return cfg
}

// RetrievalFilters narrows a hybrid query by kind and time window.
type RetrievalFilters struct {
	Kinds  []string
	After  string
	Before string
}

// Result is one hybrid-retrieval hit, mirroring the Result dataclass in
// original_source/bartholomew/kernel/types.py.
type Result struct {
	MemoryID    int64
	Score       float64
	Snippet     string
	BM25Norm    float64
	VecNorm     float64
	Recency     float64
	KindBoost   float64
	ContextOnly bool
	Metadata    map[string]any
}

// HybridRetriever fuses FTS5 and vector search under consent
// gating, recency and kind/rule boosts, with either weighted-sum or
// reciprocal-rank fusion. Grounded on the (undocumented-but-tested)
// hybrid_retriever.py contract, pinned down by
// original_source/tests/test_hybrid_fusion_math.py,
// test_hybrid_recency.py, test_hybrid_rrf.py and
// test_hybrid_tiebreakers.py.
type HybridRetriever struct {
	fts      *FTSClient
	vectors  *VectorStore
	consent  *ConsentGate
	rules    *MemoryRulesEngine
	embedder Embedder
	loadMemory func(ctx context.Context, memoryID int64) (candidateRow, string, bool)
}

// NewHybridRetriever wires the retriever's collaborators.
func NewHybridRetriever(fts *FTSClient, vectors *VectorStore, consent *ConsentGate, rules *MemoryRulesEngine, embedder Embedder, loadMemory func(ctx context.Context, memoryID int64) (candidateRow, string, bool)) *HybridRetriever {
	return &HybridRetriever{fts: fts, vectors: vectors, consent: consent, rules: rules, embedder: embedder, loadMemory: loadMemory}
}

// Query runs the full hybrid pipeline and returns up to topK results.
func (r *HybridRetriever) Query(ctx context.Context, text string, topK int, cfg HybridRetrievalConfig, filters RetrievalFilters) ([]Result, error) {
	fusionMode := cfg.FusionMode
	if fusionMode == "" {
		fusionMode = "weighted"
	}
	metrics.RecallsTotal.WithLabelValues(fusionMode).Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RecallDuration, fusionMode)

	fetchK := topK * 3
	if fetchK < topK {
		fetchK = topK
	}

	var ftsHits []FTSHit
	if r.fts != nil && r.fts.Available() {
		var err error
		ftsHits, err = r.fts.Search(ctx, text, fetchK)
		if err != nil {
			log.Error().Err(err).Msg("fts search failed, continuing with vector-only")
		}
	}

	var vecHits []VectorHit
	if r.vectors != nil && r.embedder != nil {
		qvecs, err := r.embedder.EmbedBatch(ctx, []string{text})
		if err != nil {
			log.Error().Err(err).Msg("failed to embed query")
		} else if len(qvecs) > 0 {
			vecHits, err = r.vectors.Search(ctx, qvecs[0], fetchK, VectorSearchOptions{
				Provider: r.embedder.Provider(),
				Model:    r.embedder.Model(),
				Dim:      r.embedder.Dimension(),
			})
			if err != nil {
				log.Error().Err(err).Msg("vector search failed")
			}
		}
	}

	consented, err := r.consent.ConsentedMemoryIDs(ctx)
	if err != nil {
		return nil, err
	}

	eligibleFTS, ftsPolicy, err := r.consent.ApplyToFTSResults(ctx, ftsHits, consented)
	if err != nil {
		return nil, err
	}
	eligibleVec, vecPolicy, err := r.consent.ApplyToVectorResults(ctx, vecHits, consented)
	if err != nil {
		return nil, err
	}

	policy := make(map[int64]MemoryPolicy, len(ftsPolicy)+len(vecPolicy))
	for k, v := range ftsPolicy {
		policy[k] = v
	}
	for k, v := range vecPolicy {
		policy[k] = v
	}

	ids := unionIDs(eligibleFTS, eligibleVec)
	metadata := make(map[int64]memoryMeta, len(ids))
	for _, id := range ids {
		row, ts, ok := r.loadMemory(ctx, id)
		if !ok {
			continue
		}
		if filters.Kinds != nil && !contains(filters.Kinds, row.kind) {
			continue
		}
		if filters.After != "" && ts < filters.After {
			continue
		}
		if filters.Before != "" && ts > filters.Before {
			continue
		}
		ruleBoost := 1.0
		if r.rules != nil {
			evaluated := r.rules.Evaluate(Candidate{Kind: row.kind, Key: row.key, Content: row.value})
			if evaluated.RuleBoost != 0 {
				ruleBoost = evaluated.RuleBoost
			}
		}
		metadata[id] = memoryMeta{kind: row.kind, key: row.key, value: row.value, ts: ts, ruleBoost: ruleBoost}
	}

	bm25Norm := normalizeFTSScores(eligibleFTS, metadata)
	vecNorm := normalizeVecScores(eligibleVec, metadata)

	var fused map[int64]float64
	if cfg.FusionMode == "rrf" {
		fused = fuseRRF(eligibleFTS, eligibleVec, metadata, cfg.RRFK)
		fused = applyBoosts(fused, metadata, cfg)
	} else {
		weighted := fuseWeighted(bm25Norm, vecNorm, cfg.WeightFTS, cfg.WeightVec)
		fused = applyBoosts(weighted, metadata, cfg)
	}

	results := make([]Result, 0, len(fused))
	for id, score := range fused {
		meta, ok := metadata[id]
		if !ok {
			continue
		}
		pol := policy[id]
		results = append(results, Result{
			MemoryID:    id,
			Score:       score,
			Snippet:     extractSnippet(meta),
			BM25Norm:    bm25Norm[id],
			VecNorm:     vecNorm[id],
			Recency:     computeRecencyBoost(meta.ts, cfg.HalfLifeHours),
			KindBoost:   cfg.KindBoosts[meta.kind],
			ContextOnly: pol.ContextOnly,
			Metadata:    map[string]any{"kind": meta.kind, "key": meta.key, "ts": meta.ts},
		})
	}

	sortResults(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	metrics.RecallResultsReturned.Observe(float64(len(results)))
	return results, nil
}

type memoryMeta struct {
	kind, key, value, ts string
	ruleBoost            float64
}

func unionIDs(fts []FTSHit, vec []VectorHit) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, h := range fts {
		if !seen[h.MemoryID] {
			seen[h.MemoryID] = true
			ids = append(ids, h.MemoryID)
		}
	}
	for _, h := range vec {
		if !seen[h.MemoryID] {
			seen[h.MemoryID] = true
			ids = append(ids, h.MemoryID)
		}
	}
	return ids
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// normalizeFTSScores inverts bm25 rank (lower raw rank is better in
// SQLite's bm25()) via min-max over the eligible set: the
// lowest-rank/best hit gets 1.0, the worst gets 0.0, equal ranks all
// get 1.0. Computed only over consent-eligible hits, per
// test_hybrid_fusion_math.py.
func normalizeFTSScores(hits []FTSHit, metadata map[int64]memoryMeta) map[int64]float64 {
	out := make(map[int64]float64)
	var ranks []float64
	for _, h := range hits {
		if _, ok := metadata[h.MemoryID]; !ok {
			continue
		}
		ranks = append(ranks, h.Rank)
	}
	if len(ranks) == 0 {
		return out
	}
	min, max := ranks[0], ranks[0]
	for _, r := range ranks {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	for _, h := range hits {
		if _, ok := metadata[h.MemoryID]; !ok {
			continue
		}
		if max == min {
			out[h.MemoryID] = 1.0
			continue
		}
		out[h.MemoryID] = (max - h.Rank) / (max - min)
	}
	return out
}

// normalizeVecScores applies standard min-max normalization (higher
// cosine is better): best gets 1.0, worst gets 0.0, equal scores all
// get 1.0.
func normalizeVecScores(hits []VectorHit, metadata map[int64]memoryMeta) map[int64]float64 {
	out := make(map[int64]float64)
	var scores []float64
	for _, h := range hits {
		if _, ok := metadata[h.MemoryID]; !ok {
			continue
		}
		scores = append(scores, h.Score)
	}
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	for _, h := range hits {
		if _, ok := metadata[h.MemoryID]; !ok {
			continue
		}
		if max == min {
			out[h.MemoryID] = 1.0
			continue
		}
		out[h.MemoryID] = (h.Score - min) / (max - min)
	}
	return out
}

// fuseWeighted computes weight_fts*fts + weight_vec*vec with exact
// zero-imputation for a channel missing an id entirely.
func fuseWeighted(fts, vec map[int64]float64, weightFTS, weightVec float64) map[int64]float64 {
	out := make(map[int64]float64)
	for id, score := range fts {
		out[id] += weightFTS * score
	}
	for id, score := range vec {
		out[id] += weightVec * score
	}
	return out
}

// fuseRRF computes reciprocal-rank fusion: sum(1/(k+rank)) per channel,
// summed across channels. Rank is 1-based position within each
// channel's own (already consent-filtered) ordering.
func fuseRRF(ftsHits []FTSHit, vecHits []VectorHit, metadata map[int64]memoryMeta, k int) map[int64]float64 {
	out := make(map[int64]float64)

	ftsOrdered := make([]FTSHit, 0, len(ftsHits))
	for _, h := range ftsHits {
		if _, ok := metadata[h.MemoryID]; ok {
			ftsOrdered = append(ftsOrdered, h)
		}
	}
	sort.SliceStable(ftsOrdered, func(i, j int) bool { return ftsOrdered[i].Rank < ftsOrdered[j].Rank })
	for i, h := range ftsOrdered {
		out[h.MemoryID] += 1.0 / float64(k+i+1)
	}

	vecOrdered := make([]VectorHit, 0, len(vecHits))
	for _, h := range vecHits {
		if _, ok := metadata[h.MemoryID]; ok {
			vecOrdered = append(vecOrdered, h)
		}
	}
	sort.SliceStable(vecOrdered, func(i, j int) bool { return vecOrdered[i].Score > vecOrdered[j].Score })
	for i, h := range vecOrdered {
		out[h.MemoryID] += 1.0 / float64(k+i+1)
	}

	return out
}

// applyBoosts multiplies each fused score by recency * kind * rule
// boost, applied AFTER fusion (weighted or RRF alike), per
// test_rrf_with_boosts.
func applyBoosts(fused map[int64]float64, metadata map[int64]memoryMeta, cfg HybridRetrievalConfig) map[int64]float64 {
	out := make(map[int64]float64, len(fused))
	for id, score := range fused {
		meta, ok := metadata[id]
		if !ok {
			out[id] = score
			continue
		}
		recency := computeRecencyBoost(meta.ts, cfg.HalfLifeHours)
		kindBoost := 1.0
		if b, ok := cfg.KindBoosts[meta.kind]; ok {
			kindBoost = b
		}
		ruleBoost := meta.ruleBoost
		if ruleBoost == 0 {
			ruleBoost = 1.0
		}
		out[id] = score * recency * kindBoost * ruleBoost
	}
	return out
}

// computeRecencyBoost implements 2^(-age/half_life); half_life==0
// disables decay (returns a constant 1.0); a missing/unparseable
// timestamp or one in the future (age clamped to 0) also returns 1.0.
func computeRecencyBoost(ts string, halfLifeHours float64) float64 {
	if halfLifeHours == 0 {
		return 1.0
	}
	if ts == "" {
		return 1.0
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 1.0
	}
	ageSeconds := time.Since(parsed).Seconds()
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	halfLifeSeconds := halfLifeHours * 3600
	return math.Pow(2, -ageSeconds/halfLifeSeconds)
}

func extractSnippet(meta memoryMeta) string {
	if meta.value != "" {
		return truncateDisplay(meta.value, 200)
	}
	return ""
}

func truncateDisplay(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	truncated := text[:maxLen]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxLen/2 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

// sortResults orders by the tie-break precedence confirmed in
// test_hybrid_tiebreakers.py: score descending, then recency-epoch
// descending (newer first), then memory id ascending as the final,
// deterministic tiebreaker.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Recency != b.Recency {
			return a.Recency > b.Recency
		}
		return a.MemoryID < b.MemoryID
	})
}
