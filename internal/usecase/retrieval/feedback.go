package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain/history"
	"github.com/reuseware/patterndex/internal/metrics"
)

// Adjustment magnitudes applied to the base feedback score.
const (
	recentSuccessBonus = 0.10
	failurePenalty     = 0.05
	efficiencyBonus    = 0.03
)

// FeedbackConfig tunes the execution feedback ranker.
type FeedbackConfig struct {
	// RecentWindow bounds the recent-success lookback.
	RecentWindow time.Duration
	// RecentSampleCount is how many of the latest samples count
	// toward the failure penalty.
	RecentSampleCount int
	// DurationBudget and MemoryBudget define an efficient run.
	DurationBudget time.Duration
	MemoryBudget   int64
	// Timeout bounds each history lookup.
	Timeout time.Duration
}

// ApplyDefaults fills in zero-valued fields.
func (c *FeedbackConfig) ApplyDefaults() {
	if c.RecentWindow <= 0 {
		c.RecentWindow = 7 * 24 * time.Hour
	}
	if c.RecentSampleCount <= 0 {
		c.RecentSampleCount = 10
	}
	if c.DurationBudget <= 0 {
		c.DurationBudget = 2 * time.Second
	}
	if c.MemoryBudget <= 0 {
		c.MemoryBudget = 512 << 20
	}
	if c.Timeout <= 0 {
		c.Timeout = 150 * time.Millisecond
	}
}

// FeedbackRanker derives a per-pattern score adjustment from execution
// history. Score never fails: an unreachable history store degrades to
// the neutral score so retrieval latency and availability are preserved.
type FeedbackRanker struct {
	history HistoryReader
	cfg     FeedbackConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewFeedbackRanker creates a feedback ranker.
func NewFeedbackRanker(reader HistoryReader, cfg FeedbackConfig, logger *zap.Logger) *FeedbackRanker {
	cfg.ApplyDefaults()
	return &FeedbackRanker{
		history: reader,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Score returns the feedback score for a pattern, in [0,1].
func (f *FeedbackRanker) Score(ctx context.Context, patternID string) float64 {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	agg, err := f.history.GetAggregate(ctx, patternID)
	if err != nil {
		metrics.DegradedTotal.WithLabelValues("feedback").Inc()
		f.logger.Warn("History lookup failed, using neutral feedback score",
			zap.String("pattern_id", patternID),
			zap.Error(err),
		)
		return history.NeutralScore
	}

	return f.score(&agg)
}

func (f *FeedbackRanker) score(agg *history.Aggregate) float64 {
	score := agg.Base()
	now := f.now()

	cutoff := now.Add(-f.cfg.RecentWindow)
	for i := range agg.Samples {
		s := &agg.Samples[i]
		if s.Success && s.Timestamp.After(cutoff) {
			score += recentSuccessBonus
			break
		}
	}

	recent := agg.Samples
	if len(recent) > f.cfg.RecentSampleCount {
		recent = recent[:f.cfg.RecentSampleCount]
	}
	for i := range recent {
		if !recent[i].Success {
			score -= failurePenalty
		}
	}

	if f.efficientMajority(agg.Samples) {
		score += efficiencyBonus
	}

	return clamp01(score)
}

// efficientMajority reports whether more than half of the recorded runs
// succeeded within both resource budgets.
func (f *FeedbackRanker) efficientMajority(samples []history.Sample) bool {
	if len(samples) == 0 {
		return false
	}
	efficient := 0
	for i := range samples {
		s := &samples[i]
		if s.Success && s.Duration <= f.cfg.DurationBudget && s.MemoryBytes <= f.cfg.MemoryBudget {
			efficient++
		}
	}
	return efficient*2 > len(samples)
}
