// Package history reads execution outcome aggregates written by the
// platform's feedback pipeline. The core never writes here.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/reuseware/patterndex/internal/db"
	"github.com/reuseware/patterndex/internal/domain"
	domhist "github.com/reuseware/patterndex/internal/domain/history"
)

// store is the consumer interface for history reads (ISP).
type store interface {
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
}

// Repo reads per-pattern execution aggregates from JSON documents.
type Repo struct {
	store store
}

// New creates a history repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// aggregateDTO mirrors the JSON document the feedback pipeline writes.
type aggregateDTO struct {
	BaseScore *float64    `json:"base_score"`
	Samples   []sampleDTO `json:"samples"`
}

type sampleDTO struct {
	Success     bool  `json:"success"`
	Timestamp   int64 `json:"timestamp"`
	DurationMS  int64 `json:"duration_ms"`
	MemoryBytes int64 `json:"memory_bytes"`
}

// GetAggregate returns the execution history snapshot for a pattern.
// A pattern with no recorded history yields an empty aggregate, not an
// error; transport failures propagate wrapped in ErrHistoryUnavailable
// so the caller can degrade.
func (r *Repo) GetAggregate(ctx context.Context, patternID string) (domhist.Aggregate, error) {
	data, err := r.store.JSONGet(ctx, domain.KeyPrefix+"history:"+patternID)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domhist.Aggregate{}, nil
		}
		return domhist.Aggregate{}, fmt.Errorf("%w: %w", domain.ErrHistoryUnavailable, err)
	}

	var dto aggregateDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return domhist.Aggregate{}, fmt.Errorf("%w: parse aggregate %s: %w", domain.ErrHistoryUnavailable, patternID, err)
	}

	agg := domhist.Aggregate{}
	if dto.BaseScore != nil {
		agg.BaseScore = *dto.BaseScore
		agg.HasBase = true
	}
	agg.Samples = make([]domhist.Sample, len(dto.Samples))
	for i, s := range dto.Samples {
		agg.Samples[i] = domhist.Sample{
			Success:     s.Success,
			Timestamp:   time.Unix(s.Timestamp, 0).UTC(),
			Duration:    time.Duration(s.DurationMS) * time.Millisecond,
			MemoryBytes: s.MemoryBytes,
		}
	}
	return agg, nil
}
