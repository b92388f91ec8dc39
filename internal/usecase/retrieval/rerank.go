package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain/ranking"
	"github.com/reuseware/patterndex/internal/metrics"
)

// RerankMode selects the contextual reordering strategy.
type RerankMode string

const (
	// RerankOff disables reordering.
	RerankOff RerankMode = "off"
	// RerankHeuristic reorders with built-in quality signals.
	RerankHeuristic RerankMode = "heuristic"
	// RerankExternal delegates to a collaborator model.
	RerankExternal RerankMode = "external"
)

// HeuristicConfig tunes the built-in reranking signals.
type HeuristicConfig struct {
	// ContentMinLen/ContentMaxLen bound the preferred content size.
	ContentMinLen int
	ContentMaxLen int

	LengthBonus     float64
	ProductionBonus float64
	TrustBonus      float64
	// TrustFloor is the success rate above which TrustBonus applies.
	TrustFloor float64
}

// ApplyDefaults fills in zero-valued fields.
func (c *HeuristicConfig) ApplyDefaults() {
	if c.ContentMinLen <= 0 {
		c.ContentMinLen = 200
	}
	if c.ContentMaxLen <= 0 {
		c.ContentMaxLen = 4096
	}
	if c.LengthBonus == 0 {
		c.LengthBonus = 0.02
	}
	if c.ProductionBonus == 0 {
		c.ProductionBonus = 0.03
	}
	if c.TrustBonus == 0 {
		c.TrustBonus = 0.02
	}
	if c.TrustFloor == 0 {
		c.TrustFloor = 0.98
	}
}

// ReRanker reorders a ranked list as the last pipeline stage. It never
// fails: when the collaborator errors or times out, the input ordering
// is returned unchanged.
type ReRanker struct {
	mode    RerankMode
	collab  Collaborator
	heur    HeuristicConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewReRanker creates a reranker. A nil collaborator downgrades
// RerankExternal to the heuristic mode.
func NewReRanker(mode RerankMode, collab Collaborator, heur HeuristicConfig, timeout time.Duration, logger *zap.Logger) *ReRanker {
	heur.ApplyDefaults()
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	if mode == RerankExternal && collab == nil {
		mode = RerankHeuristic
	}
	if mode == "" {
		mode = RerankOff
	}
	return &ReRanker{
		mode:    mode,
		collab:  collab,
		heur:    heur,
		timeout: timeout,
		logger:  logger,
	}
}

// Rerank reorders results according to the configured mode.
func (r *ReRanker) Rerank(ctx context.Context, purpose string, results []ranking.RankedResult) []ranking.RankedResult {
	if len(results) == 0 {
		return results
	}

	switch r.mode {
	case RerankExternal:
		return r.external(ctx, purpose, results)
	case RerankHeuristic:
		return r.heuristic(results)
	default:
		return results
	}
}

func (r *ReRanker) external(ctx context.Context, purpose string, results []ranking.RankedResult) []ranking.RankedResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reordered, err := r.collab.Rerank(ctx, purpose, results)
	if err != nil || len(reordered) != len(results) {
		metrics.DegradedTotal.WithLabelValues("rerank").Inc()
		r.logger.Warn("Collaborator rerank failed, keeping original order",
			zap.Int("results", len(results)),
			zap.Error(err),
		)
		return results
	}
	return reordered
}

// heuristic adjusts final scores with static quality signals and
// reassigns ranks. Signals are small relative to the fused score so
// they reorder near-ties rather than overturn the ranking.
func (r *ReRanker) heuristic(results []ranking.RankedResult) []ranking.RankedResult {
	scored := make([]ranking.Scored, len(results))
	for i := range results {
		res := &results[i]
		p := res.Pattern()

		bonus := 0.0
		if n := len(p.Content()); n >= r.heur.ContentMinLen && n <= r.heur.ContentMaxLen {
			bonus += r.heur.LengthBonus
		}
		if p.ProductionReady() {
			bonus += r.heur.ProductionBonus
		}
		if p.SuccessRate() >= r.heur.TrustFloor {
			bonus += r.heur.TrustBonus
		}

		b := res.Breakdown()
		b.Final = clamp01(res.FinalScore() + bonus)
		scored[i] = ranking.Scored{
			Pattern:   p,
			Final:     b.Final,
			Breakdown: b,
		}
	}
	return ranking.Assign(scored)
}
