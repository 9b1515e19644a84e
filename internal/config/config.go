package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// KernelConfig is kernel.yaml: FTS, chunking, and hybrid retrieval
// tuning. Grounded on the config consumers in
// original_source/bartholomew/kernel/memory_store.py
// (_load_fts_index_mode), chunking_engine.py (_load_chunking_config),
// and retrieval_config.py (RetrievalConfigManager).
type KernelConfig struct {
	FTS       FTSConfig       `mapstructure:"fts" yaml:"fts"`
	Chunking  ChunkingSection `mapstructure:"chunking" yaml:"chunking"`
	Retrieval RetrievalSection `mapstructure:"retrieval" yaml:"retrieval"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// FTSConfig controls FTS5 index-text selection.
type FTSConfig struct {
	IndexMode string `mapstructure:"index_mode" yaml:"index_mode"` // "summary_preferred" | "redacted_only"
}

// ChunkingSection mirrors ChunkingEngine's defaults.
type ChunkingSection struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	TargetTokens   int      `mapstructure:"target_tokens" yaml:"target_tokens"`
	OverlapTokens  int      `mapstructure:"overlap_tokens" yaml:"overlap_tokens"`
	ThresholdChars int      `mapstructure:"threshold_chars" yaml:"threshold_chars"`
	ChunkKinds     []string `mapstructure:"chunk_kinds" yaml:"chunk_kinds"`
}

// RetrievalSection mirrors RetrievalConfigManager's kernel.yaml schema.
type RetrievalSection struct {
	FTSCandidates   int                `mapstructure:"fts_candidates" yaml:"fts_candidates"`
	VecCandidates   int                `mapstructure:"vec_candidates" yaml:"vec_candidates"`
	TopK            int                `mapstructure:"top_k" yaml:"top_k"`
	FTSTokenizer    string             `mapstructure:"fts_tokenizer" yaml:"fts_tokenizer"`
	FTSIndexMode    string             `mapstructure:"fts_index_mode" yaml:"fts_index_mode"`
	FusionStrategy  string             `mapstructure:"fusion_strategy" yaml:"fusion_strategy"`
	HybridWeights   HybridWeights      `mapstructure:"hybrid_weights" yaml:"hybrid_weights"`
	RRFK            int                `mapstructure:"rrf_k" yaml:"rrf_k"`
	Recency         RecencySection     `mapstructure:"recency" yaml:"recency"`
	KindBoosts      map[string]float64 `mapstructure:"kind_boosts" yaml:"kind_boosts"`
}

// HybridWeights is the raw fts/vector weight pair before renormalization.
type HybridWeights struct {
	FTS    float64 `mapstructure:"fts" yaml:"fts"`
	Vector float64 `mapstructure:"vector" yaml:"vector"`
}

// RecencySection controls the exponential recency-decay boost.
type RecencySection struct {
	HalfLifeDays float64 `mapstructure:"half_life_days" yaml:"half_life_days"`
}

// LoggingConfig controls zerolog's level/output, grounded on the
// teacher's LoggingConfig shape.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
}

// DefaultKernelConfig returns kernel.yaml's built-in defaults.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		FTS: FTSConfig{IndexMode: "summary_preferred"},
		Chunking: ChunkingSection{
			Enabled:        true,
			TargetTokens:   640,
			OverlapTokens:  64,
			ThresholdChars: 2000,
			ChunkKinds:     []string{"conversation.transcript", "recording.transcript", "article.ingested", "code.diff"},
		},
		Retrieval: RetrievalSection{
			FTSCandidates:  200,
			VecCandidates:  200,
			TopK:           20,
			FTSTokenizer:   "porter",
			FTSIndexMode:   "external",
			FusionStrategy: "weighted",
			HybridWeights:  HybridWeights{FTS: 0.6, Vector: 0.4},
			RRFK:           60,
			Recency:        RecencySection{HalfLifeDays: 7.0},
			KindBoosts:     map[string]float64{},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// EmbeddingsConfig is embeddings.yaml: embedding provider selection.
type EmbeddingsConfig struct {
	Provider   string `mapstructure:"provider" yaml:"provider"`
	Model      string `mapstructure:"model" yaml:"model"`
	DefaultDim int    `mapstructure:"default_dim" yaml:"default_dim"`
}

// DefaultEmbeddingsConfig returns embeddings.yaml's defaults.
func DefaultEmbeddingsConfig() EmbeddingsConfig {
	return EmbeddingsConfig{Provider: "local-hash", Model: "bartholomew-hash-v1", DefaultDim: 384}
}

// PolicyConfig is policy.yaml: the gate governing whether a memory may
// be indexed at all (FTS or vector), independent of its own per-rule
// fts_index/embed settings.
type PolicyConfig struct {
	Indexing IndexingPolicy `mapstructure:"indexing" yaml:"indexing"`
}

// IndexingPolicy holds the strong-only veto: memories encrypted at
// "strong" strength are never indexed (FTS or vector) when this is
// set, regardless of their own fts_index/embed rule settings.
type IndexingPolicy struct {
	DisallowStrongOnly bool `mapstructure:"disallow_strong_only" yaml:"disallow_strong_only"`
}

// DefaultPolicyConfig returns policy.yaml's defaults: indexing is
// unrestricted until an operator opts into the strong-only veto.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{Indexing: IndexingPolicy{DisallowStrongOnly: false}}
}

// LoadKernelConfig reads kernel.yaml from path (or Bartholomew's
// default search locations when empty), merging BARTHO_ environment
// overrides. A missing file is not an error: defaults are returned.
func LoadKernelConfig(path string) (KernelConfig, error) {
	cfg := DefaultKernelConfig()
	resolved := resolvePath(path, []string{
		filepath.Join("bartholomew", "config", "kernel.yaml"),
		filepath.Join("config", "kernel.yaml"),
	})
	if resolved == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(resolved)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BARTHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read kernel.yaml: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal kernel.yaml: %w", err)
	}
	cfg.normalizeWeights()
	return cfg, nil
}

// normalizeWeights renormalizes hybrid_weights to sum to 1, matching
// HybridRetrievalConfig's __post_init__ behavior.
func (c *KernelConfig) normalizeWeights() {
	sum := c.Retrieval.HybridWeights.FTS + c.Retrieval.HybridWeights.Vector
	if sum > 0 {
		c.Retrieval.HybridWeights.FTS /= sum
		c.Retrieval.HybridWeights.Vector /= sum
	} else {
		c.Retrieval.HybridWeights.FTS = 0.5
		c.Retrieval.HybridWeights.Vector = 0.5
	}
}

// LoadEmbeddingsConfig reads embeddings.yaml.
func LoadEmbeddingsConfig(path string) (EmbeddingsConfig, error) {
	cfg := DefaultEmbeddingsConfig()
	resolved := resolvePath(path, []string{
		filepath.Join("bartholomew", "config", "embeddings.yaml"),
		filepath.Join("config", "embeddings.yaml"),
	})
	if resolved == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(resolved)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BARTHO")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read embeddings.yaml: %w", err)
	}
	var wrapper struct {
		Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	}
	wrapper.Embeddings = cfg
	if err := v.Unmarshal(&wrapper); err != nil {
		return cfg, fmt.Errorf("unmarshal embeddings.yaml: %w", err)
	}
	return wrapper.Embeddings, nil
}

// LoadPolicyConfig reads policy.yaml.
func LoadPolicyConfig(path string) (PolicyConfig, error) {
	cfg := DefaultPolicyConfig()
	resolved := resolvePath(path, []string{
		filepath.Join("bartholomew", "config", "policy.yaml"),
		filepath.Join("config", "policy.yaml"),
	})
	if resolved == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(resolved)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BARTHO")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read policy.yaml: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal policy.yaml: %w", err)
	}
	return cfg, nil
}

func resolvePath(explicit string, defaults []string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// WriteDefaultKernelConfig writes the built-in kernel.yaml defaults to
// path, for `bartholomew admin config init`-style first-run scaffolding.
func WriteDefaultKernelConfig(path string) error {
	return writeYAML(path, DefaultKernelConfig())
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
