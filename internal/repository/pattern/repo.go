// Package pattern persists pattern usage counters and hydrates single
// patterns from the content namespace.
package pattern

import (
	"context"
	"fmt"

	"github.com/reuseware/patterndex/internal/domain"
	dompat "github.com/reuseware/patterndex/internal/domain/pattern"
)

const usageField = "usage_count"

// store is the consumer interface for pattern metadata (ISP).
type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Repo reads pattern metadata and maintains the usage counter. The
// counter lives on the content-namespace hash only, so dual-embedding
// deployments keep a single authoritative count.
type Repo struct {
	store store
}

// New creates a pattern repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Get hydrates a pattern from the content namespace.
func (r *Repo) Get(ctx context.Context, patternID string) (dompat.Pattern, error) {
	m, err := r.store.HGetAll(ctx, r.key(patternID))
	if err != nil {
		return dompat.Pattern{}, fmt.Errorf("get pattern %s: %w", patternID, err)
	}
	if len(m) == 0 {
		return dompat.Pattern{}, fmt.Errorf("pattern %s: %w", patternID, domain.ErrPatternNotFound)
	}
	return hydrate(patternID, m), nil
}

// IncrementUsage bumps the usage counter by one. HINCRBY is atomic, so
// concurrent callers never lose the monotonic guarantee; a missing
// pattern is reported rather than silently creating a stray hash.
func (r *Repo) IncrementUsage(ctx context.Context, patternID string) error {
	key := r.key(patternID)

	ok, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check pattern %s: %w", patternID, err)
	}
	if !ok {
		return fmt.Errorf("pattern %s: %w", patternID, domain.ErrPatternNotFound)
	}

	if _, err := r.store.HIncrBy(ctx, key, usageField, 1); err != nil {
		return fmt.Errorf("increment usage %s: %w", patternID, err)
	}
	return nil
}

func (r *Repo) key(patternID string) string {
	return domain.KeyPrefix + string(domain.KindContent) + ":" + patternID
}
