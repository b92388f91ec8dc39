package domain

import "context"

// KeyPrefix namespaces every key patterndex writes to the store.
const KeyPrefix = "patterndex:"

// EmbeddingKind selects one of the two logical vector namespaces.
type EmbeddingKind string

const (
	// KindContent is the fine-grained content embedding namespace.
	KindContent EmbeddingKind = "content"
	// KindSemantic is the coarse semantic embedding namespace.
	KindSemantic EmbeddingKind = "semantic"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries a single embedding vector and token usage
// through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// QueryEmbedding holds both vector representations of one text:
// a fine-grained content vector and a coarser semantic vector.
// When dual embeddings are disabled the semantic vector aliases the
// content vector.
type QueryEmbedding struct {
	Content  []float32
	Semantic []float32
	ModelID  string
}

// Vectorizer produces query embeddings. The dual/single capability is
// fixed at construction, never branched per call.
type Vectorizer interface {
	Vectorize(ctx context.Context, text string) (QueryEmbedding, error)
	// Dual reports whether content and semantic vectors come from
	// distinct models.
	Dual() bool
	// ModelID identifies the provider/model pair; cache keys include it
	// so a model swap never serves vectors from a retired model.
	ModelID() string
}
