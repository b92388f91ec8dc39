// Package embedding assembles the query vectorization strategies and
// the embedder instrumentation decorator.
package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/reuseware/patterndex/internal/domain"
)

// DualVectorizer computes content and semantic vectors from two
// distinct embedders, concurrently. The capability is fixed here at
// construction; callers never branch on it per call.
type DualVectorizer struct {
	content  domain.Embedder
	semantic domain.Embedder
	modelID  string
}

// NewDual creates a dual-embedding vectorizer. modelID must identify
// both underlying models, e.g. "openai/text-embedding-3-large+small".
func NewDual(content, semantic domain.Embedder, modelID string) *DualVectorizer {
	return &DualVectorizer{content: content, semantic: semantic, modelID: modelID}
}

// Vectorize runs both embedders concurrently and returns both vectors.
// The two calls are the only intra-query parallelism in the pipeline.
func (v *DualVectorizer) Vectorize(ctx context.Context, text string) (domain.QueryEmbedding, error) {
	var contentRes, semanticRes domain.EmbeddingResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		contentRes, err = v.content.Embed(gctx, text)
		if err != nil {
			return fmt.Errorf("content embedding: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		semanticRes, err = v.semantic.Embed(gctx, text)
		if err != nil {
			return fmt.Errorf("semantic embedding: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.QueryEmbedding{}, err
	}

	return domain.QueryEmbedding{
		Content:  contentRes.Embedding,
		Semantic: semanticRes.Embedding,
		ModelID:  v.modelID,
	}, nil
}

// Dual reports the dual capability.
func (v *DualVectorizer) Dual() bool { return true }

// ModelID identifies the underlying model pair.
func (v *DualVectorizer) ModelID() string { return v.modelID }

// SingleVectorizer computes one vector and aliases it as both kinds.
type SingleVectorizer struct {
	inner   domain.Embedder
	modelID string
}

// NewSingle creates a single-embedding vectorizer.
func NewSingle(inner domain.Embedder, modelID string) *SingleVectorizer {
	return &SingleVectorizer{inner: inner, modelID: modelID}
}

// Vectorize embeds once; the semantic vector aliases the content vector.
func (v *SingleVectorizer) Vectorize(ctx context.Context, text string) (domain.QueryEmbedding, error) {
	res, err := v.inner.Embed(ctx, text)
	if err != nil {
		return domain.QueryEmbedding{}, fmt.Errorf("embedding: %w", err)
	}
	return domain.QueryEmbedding{
		Content:  res.Embedding,
		Semantic: res.Embedding,
		ModelID:  v.modelID,
	}, nil
}

// Dual reports the single capability.
func (v *SingleVectorizer) Dual() bool { return false }

// ModelID identifies the underlying model.
func (v *SingleVectorizer) ModelID() string { return v.modelID }

// Compile-time checks.
var (
	_ domain.Vectorizer = (*DualVectorizer)(nil)
	_ domain.Vectorizer = (*SingleVectorizer)(nil)
)
