package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain/history"
)

// --- Mocks ---

type mockHistory struct {
	agg   history.Aggregate
	err   error
	calls int
}

func (m *mockHistory) GetAggregate(_ context.Context, _ string) (history.Aggregate, error) {
	m.calls++
	return m.agg, m.err
}

func newTestRanker(h HistoryReader) *FeedbackRanker {
	r := NewFeedbackRanker(h, FeedbackConfig{
		DurationBudget: 2 * time.Second,
		MemoryBudget:   512 << 20,
	}, zap.NewNop())
	r.now = func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) }
	return r
}

// --- Tests ---

func TestFeedbackScore_NoHistoryIsNeutral(t *testing.T) {
	r := newTestRanker(&mockHistory{})

	if got := r.Score(context.Background(), "p1"); got != history.NeutralScore {
		t.Errorf("expected neutral %f, got %f", history.NeutralScore, got)
	}
}

func TestFeedbackScore_RecentSuccessBonus(t *testing.T) {
	// One success two days ago, over the duration budget so the
	// efficiency bonus stays out of the picture.
	h := &mockHistory{agg: history.Aggregate{
		Samples: []history.Sample{{
			Success:     true,
			Timestamp:   time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC),
			Duration:    5 * time.Second,
			MemoryBytes: 64 << 20,
		}},
	}}
	r := newTestRanker(h)

	got := r.Score(context.Background(), "p1")
	if math.Abs(got-0.60) > 1e-9 {
		t.Errorf("expected 0.5 + 0.10 = 0.60, got %f", got)
	}
}

func TestFeedbackScore_OldSuccessNoBonus(t *testing.T) {
	h := &mockHistory{agg: history.Aggregate{
		Samples: []history.Sample{{
			Success:   true,
			Timestamp: time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC), // 13 days ago
			Duration:  5 * time.Second,
		}},
	}}
	r := newTestRanker(h)

	if got := r.Score(context.Background(), "p1"); got != 0.5 {
		t.Errorf("expected 0.5, got %f", got)
	}
}

func TestFeedbackScore_FailurePenaltyLimitedToRecentTen(t *testing.T) {
	// 12 old failures: only the 10 most recent count, -0.05 each.
	samples := make([]history.Sample, 12)
	for i := range samples {
		samples[i] = history.Sample{
			Success:   false,
			Timestamp: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	r := newTestRanker(&mockHistory{agg: history.Aggregate{Samples: samples}})

	got := r.Score(context.Background(), "p1")
	if math.Abs(got-0.0) > 1e-9 {
		t.Errorf("expected clamp(0.5 - 10*0.05) = 0, got %f", got)
	}
}

func TestFeedbackScore_EfficiencyBonus(t *testing.T) {
	// Three samples, two of them successful and within both budgets.
	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	samples := []history.Sample{
		{Success: true, Timestamp: old, Duration: 100 * time.Millisecond, MemoryBytes: 1 << 20},
		{Success: true, Timestamp: old, Duration: 200 * time.Millisecond, MemoryBytes: 1 << 20},
		{Success: false, Timestamp: old},
	}
	r := newTestRanker(&mockHistory{agg: history.Aggregate{Samples: samples}})

	got := r.Score(context.Background(), "p1")
	// 0.5 - 0.05 (one failure) + 0.03 (efficient majority) = 0.48
	if math.Abs(got-0.48) > 1e-9 {
		t.Errorf("expected 0.48, got %f", got)
	}
}

func TestFeedbackScore_BaseScoreUsedWhenPresent(t *testing.T) {
	r := newTestRanker(&mockHistory{agg: history.Aggregate{
		BaseScore: 0.8,
		HasBase:   true,
	}})

	if got := r.Score(context.Background(), "p1"); got != 0.8 {
		t.Errorf("expected base 0.8, got %f", got)
	}
}

func TestFeedbackScore_StoreFailureDegradesToNeutral(t *testing.T) {
	h := &mockHistory{err: errors.New("connection refused")}
	r := newTestRanker(h)

	if got := r.Score(context.Background(), "p1"); got != history.NeutralScore {
		t.Errorf("expected neutral on store failure, got %f", got)
	}
	if h.calls != 1 {
		t.Errorf("expected one lookup, got %d", h.calls)
	}
}

func TestFeedbackScore_Clamped(t *testing.T) {
	// High base plus recent success would exceed 1 without clamping.
	h := &mockHistory{agg: history.Aggregate{
		BaseScore: 0.95,
		HasBase:   true,
		Samples: []history.Sample{{
			Success:   true,
			Timestamp: time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC),
			Duration:  5 * time.Second,
		}},
	}}
	r := newTestRanker(h)

	if got := r.Score(context.Background(), "p1"); got != 1.0 {
		t.Errorf("expected clamp to 1.0, got %f", got)
	}
}
