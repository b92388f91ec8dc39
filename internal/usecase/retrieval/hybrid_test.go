package retrieval

import (
	"math"
	"testing"

	"github.com/reuseware/patterndex/internal/domain/pattern"
	"github.com/reuseware/patterndex/internal/domain/query"
	"github.com/reuseware/patterndex/internal/domain/ranking"
)

func hybridCand(t *testing.T, id, dom, intent string, successRate, sim float64) ranking.Candidate {
	t.Helper()
	p, err := pattern.New(id, "content", pattern.Metadata{
		Domain:      dom,
		Intent:      intent,
		SuccessRate: successRate,
	})
	if err != nil {
		t.Fatalf("build pattern: %v", err)
	}
	return ranking.NewCandidate(p, sim, ranking.FromVectorSearch)
}

func TestNewHybridScorer_ValidatesWeights(t *testing.T) {
	if _, err := NewHybridScorer(DefaultHybridWeights()); err != nil {
		t.Fatalf("default weights rejected: %v", err)
	}

	bad := DefaultHybridWeights()
	bad.Vector = 0.8 // vector+metadata now 1.1
	if _, err := NewHybridScorer(bad); err == nil {
		t.Error("expected error for top-level weights not summing to 1")
	}

	bad = DefaultHybridWeights()
	bad.Domain = 0.5 // sub-weights now 1.25
	if _, err := NewHybridScorer(bad); err == nil {
		t.Error("expected error for sub-weights not summing to 1")
	}

	bad = DefaultHybridWeights()
	bad.Vector, bad.Metadata = -0.1, 1.1
	if _, err := NewHybridScorer(bad); err == nil {
		t.Error("expected error for negative weight")
	}
}

func TestHybridScorer_CanonicalWeighting(t *testing.T) {
	s, err := NewHybridScorer(DefaultHybridWeights())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q, _ := query.New("purpose", "web", "crud", 5, false)
	c := hybridCand(t, "p1", "web", "crud", 1.0, 0.8)

	b := s.Score(&q, &c, 0.5)

	// meta = 0.25 + 0.25 + 0.30*1.0 + 0.20*0.5 = 0.90
	if math.Abs(b.MetadataScore-0.90) > 1e-9 {
		t.Errorf("expected metadata score 0.90, got %f", b.MetadataScore)
	}
	// final = 0.7*0.8 + 0.3*0.90 = 0.83
	if math.Abs(b.Final-0.83) > 1e-9 {
		t.Errorf("expected final 0.83, got %f", b.Final)
	}
	if b.VectorSimilarity != 0.8 {
		t.Errorf("expected similarity component 0.8, got %f", b.VectorSimilarity)
	}
}

func TestHybridScorer_NoMetadataMatches(t *testing.T) {
	s, _ := NewHybridScorer(DefaultHybridWeights())
	q, _ := query.New("purpose", "web", "crud", 5, false)
	c := hybridCand(t, "p1", "infra", "caching", 0, 0.8)

	b := s.Score(&q, &c, 0)

	if b.MetadataScore != 0 {
		t.Errorf("expected zero metadata score, got %f", b.MetadataScore)
	}
	if math.Abs(b.Final-0.56) > 1e-9 {
		t.Errorf("expected final 0.56, got %f", b.Final)
	}
}

func TestHybridScorer_EmptyQueryTagsNeverMatch(t *testing.T) {
	s, _ := NewHybridScorer(DefaultHybridWeights())
	q, _ := query.New("purpose", "", "", 5, false)
	c := hybridCand(t, "p1", "", "", 0, 0.5)

	b := s.Score(&q, &c, 0)

	// Empty-vs-empty must not count as a tag match.
	if b.MetadataScore != 0 {
		t.Errorf("expected zero metadata score, got %f", b.MetadataScore)
	}
}

func TestHybridScorer_ClampsToUnitInterval(t *testing.T) {
	s, _ := NewHybridScorer(DefaultHybridWeights())
	q, _ := query.New("purpose", "web", "crud", 5, false)

	c := hybridCand(t, "p1", "web", "crud", 1.0, 1.7) // out-of-range similarity
	b := s.Score(&q, &c, 1.4)                         // out-of-range feedback

	if b.Final < 0 || b.Final > 1 {
		t.Errorf("final %f out of [0,1]", b.Final)
	}
	if b.VectorSimilarity != 1 {
		t.Errorf("expected similarity clamped to 1, got %f", b.VectorSimilarity)
	}
	if b.FeedbackScore != 1 {
		t.Errorf("expected feedback clamped to 1, got %f", b.FeedbackScore)
	}
}
