package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
)

// HashEmbedder is a deterministic, offline-safe fallback embedder. It
// produces an L2-normalized vector of the declared dimension by hashing
// "<text>:<component index>" with SHA-256 and mapping the first four
// bytes to a signed float in [-1, 1]. This preserves shape contracts in
// tests and offline builds when no real embedding model is configured,
// grounded on original_source/bartholomew/kernel/embedding_engine.py's
// `_embed_fallback`.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder constructs a HashEmbedder producing vectors of dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int   { return e.dim }
func (e *HashEmbedder) Provider() string { return "hash-fallback" }
func (e *HashEmbedder) Model() string    { return fmt.Sprintf("sha256-hash-%d", e.dim) }

// EmbedBatch computes one deterministic vector per input text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	for i := 0; i < e.dim; i++ {
		seed := fmt.Sprintf("%s:%d", text, i)
		sum := sha256.Sum256([]byte(seed))
		raw := int32(binary.BigEndian.Uint32(sum[:4]))
		vec[i] = float32(raw) / float32(1<<31)
	}
	return NormalizeVector(vec)
}

// ProviderAdapter wraps a caller-supplied embedding function as an
// Embedder, for wiring a real model (e.g. a local SBERT server or a
// hosted embeddings API) without depending on a concrete SDK here.
type ProviderAdapter struct {
	dim      int
	provider string
	model    string
	embed    func(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProviderAdapter builds an Embedder around an arbitrary batch-embed
// function. EmbedBatch wraps a failed call's error with the provider
// and model, and logs a warning for each returned vector whose length
// differs from dim (such vectors are still returned).
func NewProviderAdapter(provider, model string, dim int, embed func(ctx context.Context, texts []string) ([][]float32, error)) *ProviderAdapter {
	return &ProviderAdapter{dim: dim, provider: provider, model: model, embed: embed}
}

func (p *ProviderAdapter) Dimension() int   { return p.dim }
func (p *ProviderAdapter) Provider() string { return p.provider }
func (p *ProviderAdapter) Model() string    { return p.model }

func (p *ProviderAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("provider %s/%s embed: %w", p.provider, p.model, err)
	}
	for i, v := range vecs {
		if len(v) != p.dim {
			log.Warn().
				Str("provider", p.provider).
				Str("model", p.model).
				Int("want_dim", p.dim).
				Int("got_dim", len(v)).
				Int("index", i).
				Msg("embedding dimension mismatch from provider")
		}
	}
	return vecs, nil
}
