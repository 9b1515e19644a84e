package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHybridRetrievalConfigNormalizesWeights(t *testing.T) {
	cfg := NewHybridRetrievalConfig(3, 1)
	assert.InDelta(t, 0.75, cfg.WeightFTS, 1e-9)
	assert.InDelta(t, 0.25, cfg.WeightVec, 1e-9)
}

func TestNewHybridRetrievalConfigZeroWeightsFallsBackToEvenSplit(t *testing.T) {
	cfg := NewHybridRetrievalConfig(0, 0)
	assert.Equal(t, 0.5, cfg.WeightFTS)
	assert.Equal(t, 0.5, cfg.WeightVec)
}

func TestNormalizeFTSScoresBestRankGetsOne(t *testing.T) {
	meta := map[int64]memoryMeta{1: {}, 2: {}}
	hits := []FTSHit{{MemoryID: 1, Rank: -5}, {MemoryID: 2, Rank: -1}}
	out := normalizeFTSScores(hits, meta)
	assert.Equal(t, 1.0, out[1])
	assert.Equal(t, 0.0, out[2])
}

func TestNormalizeFTSScoresIgnoresIneligibleHits(t *testing.T) {
	meta := map[int64]memoryMeta{1: {}}
	hits := []FTSHit{{MemoryID: 1, Rank: -5}, {MemoryID: 2, Rank: -1}}
	out := normalizeFTSScores(hits, meta)
	assert.Len(t, out, 1)
	assert.Equal(t, 1.0, out[1])
}

func TestNormalizeFTSScoresEqualRanksAllGetOne(t *testing.T) {
	meta := map[int64]memoryMeta{1: {}, 2: {}}
	hits := []FTSHit{{MemoryID: 1, Rank: -2}, {MemoryID: 2, Rank: -2}}
	out := normalizeFTSScores(hits, meta)
	assert.Equal(t, 1.0, out[1])
	assert.Equal(t, 1.0, out[2])
}

func TestNormalizeVecScoresBestGetsOne(t *testing.T) {
	meta := map[int64]memoryMeta{1: {}, 2: {}}
	hits := []VectorHit{{MemoryID: 1, Score: 0.9}, {MemoryID: 2, Score: 0.1}}
	out := normalizeVecScores(hits, meta)
	assert.Equal(t, 1.0, out[1])
	assert.Equal(t, 0.0, out[2])
}

func TestFuseWeightedMissingChannelTreatedAsZero(t *testing.T) {
	fts := map[int64]float64{1: 1.0}
	vec := map[int64]float64{2: 1.0}
	out := fuseWeighted(fts, vec, 0.6, 0.4)
	assert.InDelta(t, 0.6, out[1], 1e-9)
	assert.InDelta(t, 0.4, out[2], 1e-9)
}

func TestFuseRRFSumsReciprocalRanks(t *testing.T) {
	meta := map[int64]memoryMeta{1: {}, 2: {}}
	ftsHits := []FTSHit{{MemoryID: 1, Rank: -5}, {MemoryID: 2, Rank: -1}}
	vecHits := []VectorHit{{MemoryID: 1, Score: 0.9}}
	out := fuseRRF(ftsHits, vecHits, meta, 60)

	// memory 1 is rank 1 in fts (k+0+1=61) and rank 1 in vec (61)
	assert.InDelta(t, 1.0/61+1.0/61, out[1], 1e-9)
	// memory 2 is rank 2 in fts only (k+1+1=62)
	assert.InDelta(t, 1.0/62, out[2], 1e-9)
}

func TestApplyBoostsMultipliesRecencyKindAndRuleBoost(t *testing.T) {
	now := time.Now().UTC().Format(time.RFC3339)
	meta := map[int64]memoryMeta{1: {kind: "preference", ts: now, ruleBoost: 2.0}}
	fused := map[int64]float64{1: 0.5}
	cfg := HybridRetrievalConfig{HalfLifeHours: 0, KindBoosts: map[string]float64{"preference": 1.5}}

	out := applyBoosts(fused, meta, cfg)
	assert.InDelta(t, 0.5*1.0*1.5*2.0, out[1], 1e-9)
}

func TestApplyBoostsDefaultsRuleBoostToOneWhenZero(t *testing.T) {
	meta := map[int64]memoryMeta{1: {kind: "note", ruleBoost: 0}}
	fused := map[int64]float64{1: 1.0}
	cfg := HybridRetrievalConfig{HalfLifeHours: 0}

	out := applyBoosts(fused, meta, cfg)
	assert.Equal(t, 1.0, out[1])
}

func TestComputeRecencyBoostZeroHalfLifeDisablesDecay(t *testing.T) {
	assert.Equal(t, 1.0, computeRecencyBoost(time.Now().Format(time.RFC3339), 0))
}

func TestComputeRecencyBoostHalvesAtHalfLife(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	boost := computeRecencyBoost(past, 24)
	assert.InDelta(t, 0.5, boost, 0.01)
}

func TestComputeRecencyBoostUnparseableTimestampReturnsOne(t *testing.T) {
	assert.Equal(t, 1.0, computeRecencyBoost("not-a-timestamp", 24))
}

func TestComputeRecencyBoostFutureTimestampClampedToZeroAge(t *testing.T) {
	future := time.Now().Add(time.Hour).Format(time.RFC3339)
	assert.Equal(t, 1.0, computeRecencyBoost(future, 24))
}

func TestSortResultsOrdersByScoreThenRecencyThenID(t *testing.T) {
	results := []Result{
		{MemoryID: 3, Score: 0.5, Recency: 1.0},
		{MemoryID: 1, Score: 0.9, Recency: 0.5},
		{MemoryID: 2, Score: 0.9, Recency: 0.9},
	}
	sortResults(results)
	assert.Equal(t, []int64{2, 1, 3}, []int64{results[0].MemoryID, results[1].MemoryID, results[2].MemoryID})
}

func TestTruncateDisplayShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short", truncateDisplay("short", 200))
}

func TestTruncateDisplayLongTextSnapsToWordBoundary(t *testing.T) {
	text := "this is a moderately long sentence that will need truncation at some point soon"
	out := truncateDisplay(text, 20)
	assert.True(t, len(out) <= 23)
	assert.Contains(t, out, "...")
}

func TestHybridRetrieverQueryReturnsConsentedResults(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.Upsert(ctx, "note", "n1", "the quick brown fox jumps over the lazy dog", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "note", "n2", "completely unrelated content about gardening", "2026-01-02T00:00:00Z")
	require.NoError(t, err)

	consent := NewConsentGate(s.db, s.rules)
	retriever := s.NewRetriever(consent)

	cfg := NewHybridRetrievalConfig(0.6, 0.4)
	results, err := retriever.Query(ctx, "fox", 10, cfg, RetrievalFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "note", results[0].Metadata["kind"])
}

func TestHybridRetrieverQueryExcludesNeverStoreMemories(t *testing.T) {
	s := newTestStore(t, `
never_store:
  - match:
      kind: secret
    metadata:
      allow_store: false
`)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "secret", "s1", "hunting for foxes in secret", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	consent := NewConsentGate(s.db, s.rules)
	retriever := s.NewRetriever(consent)

	cfg := NewHybridRetrievalConfig(0.6, 0.4)
	results, err := retriever.Query(ctx, "fox", 10, cfg, RetrievalFilters{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHybridRetrieverQueryFiltersByKind(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	_, err := s.Upsert(ctx, "note", "n1", "fox fox fox fox fox", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	consent := NewConsentGate(s.db, s.rules)
	retriever := s.NewRetriever(consent)

	cfg := NewHybridRetrievalConfig(0.6, 0.4)
	results, err := retriever.Query(ctx, "fox", 10, cfg, RetrievalFilters{Kinds: []string{"preference"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}
