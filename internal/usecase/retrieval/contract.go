package retrieval

import (
	"context"

	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/history"
	"github.com/reuseware/patterndex/internal/domain/query"
	"github.com/reuseware/patterndex/internal/domain/ranking"
)

// Index is the vector index contract for retrieval.
type Index interface {
	Search(
		ctx context.Context, kind domain.EmbeddingKind,
		vector []float32, k int, f query.Filter,
	) ([]ranking.Candidate, error)

	SetFeedbackScore(ctx context.Context, patternID string, score float64) error
}

// HistoryReader reads execution outcome aggregates.
type HistoryReader interface {
	GetAggregate(ctx context.Context, patternID string) (history.Aggregate, error)
}

// UsageRecorder bumps the per-pattern usage counter.
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, patternID string) error
}

// Cache memoizes query embeddings and full ranked result lists.
type Cache interface {
	GetEmbedding(ctx context.Context, key string) (domain.QueryEmbedding, bool)
	PutEmbedding(ctx context.Context, key string, emb domain.QueryEmbedding)
	GetResults(ctx context.Context, key string) ([]ranking.RankedResult, bool)
	PutResults(ctx context.Context, key string, results []ranking.RankedResult)
}

// Collaborator is an external pairwise relevance reranker.
type Collaborator interface {
	Rerank(ctx context.Context, purpose string, results []ranking.RankedResult) ([]ranking.RankedResult, error)
}
