// Package ingestion admits patterns into the index. Only proven
// patterns are stored: a submission below the configured success-rate
// threshold is rejected before any embedding or write happens.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/pattern"
)

// DefaultMinSuccessRate is the admission threshold for new patterns.
const DefaultMinSuccessRate = 0.95

// Request is a pattern submission. ID is optional; a UUID is assigned
// when absent.
type Request struct {
	ID              string
	Content         string
	Domain          string
	Intent          string
	SuccessRate     float64
	ProductionReady bool
	SecurityLevel   string
	PerformanceTier string
}

// Service validates, embeds, and stores patterns.
type Service struct {
	index          Index
	vectorizer     domain.Vectorizer
	minSuccessRate float64
	embedTimeout   time.Duration
	logger         *zap.Logger
}

// New creates the ingestion service. minSuccessRate of zero selects the
// default threshold.
func New(index Index, vectorizer domain.Vectorizer, minSuccessRate float64, embedTimeout time.Duration, logger *zap.Logger) (*Service, error) {
	if index == nil {
		return nil, fmt.Errorf("ingestion requires the vector index")
	}
	if vectorizer == nil {
		return nil, fmt.Errorf("ingestion requires a vectorizer")
	}
	if minSuccessRate < 0 || minSuccessRate > 1 {
		return nil, fmt.Errorf("min success rate %f out of range [0,1]", minSuccessRate)
	}
	if minSuccessRate == 0 {
		minSuccessRate = DefaultMinSuccessRate
	}
	if embedTimeout <= 0 {
		embedTimeout = 10 * time.Second
	}

	return &Service{
		index:          index,
		vectorizer:     vectorizer,
		minSuccessRate: minSuccessRate,
		embedTimeout:   embedTimeout,
		logger:         logger,
	}, nil
}

// Ingest validates and stores one pattern, returning its id. A partial
// write left behind by a failed multi-namespace upsert is compensated
// with a delete so the namespaces stay consistent.
func (s *Service) Ingest(ctx context.Context, req Request) (string, error) {
	if req.SuccessRate < s.minSuccessRate {
		return "", fmt.Errorf(
			"success rate %.3f below admission threshold %.3f: %w",
			req.SuccessRate, s.minSuccessRate, domain.ErrStorageRejected,
		)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	p, err := pattern.New(id, req.Content, pattern.Metadata{
		Domain:          req.Domain,
		Intent:          req.Intent,
		SuccessRate:     req.SuccessRate,
		ProductionReady: req.ProductionReady,
		SecurityLevel:   pattern.SecurityLevel(req.SecurityLevel),
		PerformanceTier: pattern.PerformanceTier(req.PerformanceTier),
	})
	if err != nil {
		return "", fmt.Errorf("validate pattern: %w", err)
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	emb, err := s.vectorizer.Vectorize(embedCtx, p.Content())
	if err != nil {
		return "", fmt.Errorf("embed pattern %s: %w", id, err)
	}
	p.SetVectors(emb.Content, emb.Semantic)

	if err := s.index.Upsert(ctx, &p); err != nil {
		s.compensate(ctx, id)
		return "", fmt.Errorf("store pattern %s: %w", id, err)
	}

	s.logger.Info("Pattern ingested",
		zap.String("pattern_id", id),
		zap.String("domain", p.Domain()),
		zap.Float64("success_rate", p.SuccessRate()),
	)
	return id, nil
}

// Delete removes a pattern from every namespace.
func (s *Service) Delete(ctx context.Context, patternID string) error {
	if patternID == "" {
		return fmt.Errorf("pattern id is required: %w", domain.ErrInvalidQuery)
	}
	if err := s.index.Delete(ctx, patternID); err != nil {
		return fmt.Errorf("delete pattern %s: %w", patternID, err)
	}
	return nil
}

// compensate removes whatever the failed upsert managed to write. Best
// effort; a failure here leaves orphans for the admin delete path.
func (s *Service) compensate(ctx context.Context, id string) {
	if err := s.index.Delete(ctx, id); err != nil {
		s.logger.Warn("Compensating delete failed",
			zap.String("pattern_id", id),
			zap.Error(err),
		)
	}
}
