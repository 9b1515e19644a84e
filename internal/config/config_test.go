package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKernelConfig(t *testing.T) {
	cfg := DefaultKernelConfig()
	assert.Equal(t, "summary_preferred", cfg.FTS.IndexMode)
	assert.True(t, cfg.Chunking.Enabled)
	assert.Equal(t, 640, cfg.Chunking.TargetTokens)
	assert.Equal(t, 20, cfg.Retrieval.TopK)
	assert.Equal(t, "weighted", cfg.Retrieval.FusionStrategy)
	assert.Equal(t, 0.6, cfg.Retrieval.HybridWeights.FTS)
	assert.Equal(t, 0.4, cfg.Retrieval.HybridWeights.Vector)
}

func TestLoadKernelConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadKernelConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultKernelConfig(), cfg)
}

func TestLoadKernelConfigOverridesAndRenormalizesWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	contents := `
retrieval:
  top_k: 50
  fusion_strategy: rrf
  hybrid_weights:
    fts: 3
    vector: 1
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadKernelConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Retrieval.TopK)
	assert.Equal(t, "rrf", cfg.Retrieval.FusionStrategy)
	assert.InDelta(t, 0.75, cfg.Retrieval.HybridWeights.FTS, 1e-9)
	assert.InDelta(t, 0.25, cfg.Retrieval.HybridWeights.Vector, 1e-9)
}

func TestNormalizeWeightsFallsBackToEvenSplitWhenZero(t *testing.T) {
	cfg := DefaultKernelConfig()
	cfg.Retrieval.HybridWeights = HybridWeights{FTS: 0, Vector: 0}
	cfg.normalizeWeights()
	assert.Equal(t, 0.5, cfg.Retrieval.HybridWeights.FTS)
	assert.Equal(t, 0.5, cfg.Retrieval.HybridWeights.Vector)
}

func TestLoadEmbeddingsConfigDefaults(t *testing.T) {
	cfg, err := LoadEmbeddingsConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultEmbeddingsConfig(), cfg)
}

func TestLoadPolicyConfigOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("indexing:\n  disallow_strong_only: true\n"), 0o644))

	cfg, err := LoadPolicyConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Indexing.DisallowStrongOnly)
}

func TestDefaultPolicyConfigAllowsIndexingByDefault(t *testing.T) {
	assert.False(t, DefaultPolicyConfig().Indexing.DisallowStrongOnly)
}

func TestResolvePathPrefersExplicit(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "explicit.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte(""), 0o644))

	got := resolvePath(explicit, []string{filepath.Join(dir, "fallback.yaml")})
	assert.Equal(t, explicit, got)
}

func TestResolvePathFallsBackWhenExplicitMissing(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "fallback.yaml")
	require.NoError(t, os.WriteFile(fallback, []byte(""), 0o644))

	got := resolvePath(filepath.Join(dir, "nope.yaml"), []string{fallback})
	assert.Equal(t, fallback, got)
}

func TestResolvePathReturnsEmptyWhenNothingExists(t *testing.T) {
	dir := t.TempDir()
	got := resolvePath(filepath.Join(dir, "a.yaml"), []string{filepath.Join(dir, "b.yaml")})
	assert.Empty(t, got)
}

func TestWriteDefaultKernelConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "kernel.yaml")
	require.NoError(t, WriteDefaultKernelConfig(path))

	cfg, err := LoadKernelConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultKernelConfig(), cfg)
}
