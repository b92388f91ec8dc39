package ingestion

import (
	"context"

	"github.com/reuseware/patterndex/internal/domain/pattern"
)

// Index is the write side of the vector index.
type Index interface {
	Upsert(ctx context.Context, p *pattern.Pattern) error
	Delete(ctx context.Context, patternIDs ...string) error
}
