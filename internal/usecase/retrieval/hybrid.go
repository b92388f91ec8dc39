package retrieval

import (
	"fmt"
	"math"

	"github.com/reuseware/patterndex/internal/domain/query"
	"github.com/reuseware/patterndex/internal/domain/ranking"
)

const weightEpsilon = 1e-9

// HybridWeights configures the fusion of vector similarity with
// metadata relevance. Vector+Metadata must sum to 1, as must the four
// metadata sub-weights.
type HybridWeights struct {
	Vector   float64
	Metadata float64

	Domain   float64
	Intent   float64
	Success  float64
	Feedback float64
}

// DefaultHybridWeights returns the canonical weighting.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{
		Vector:   0.7,
		Metadata: 0.3,
		Domain:   0.25,
		Intent:   0.25,
		Success:  0.30,
		Feedback: 0.20,
	}
}

// HybridScorer fuses vector similarity with metadata relevance.
// Deterministic given identical inputs.
type HybridScorer struct {
	w HybridWeights
}

// NewHybridScorer validates the weights once and fails fast.
func NewHybridScorer(w HybridWeights) (*HybridScorer, error) {
	for name, v := range map[string]float64{
		"vector": w.Vector, "metadata": w.Metadata,
		"domain": w.Domain, "intent": w.Intent,
		"success": w.Success, "feedback": w.Feedback,
	} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("hybrid weight %s is %f, want [0,1]", name, v)
		}
	}
	if d := math.Abs(w.Vector + w.Metadata - 1); d > weightEpsilon {
		return nil, fmt.Errorf("vector+metadata weights sum to %f, want 1", w.Vector+w.Metadata)
	}
	sub := w.Domain + w.Intent + w.Success + w.Feedback
	if d := math.Abs(sub - 1); d > weightEpsilon {
		return nil, fmt.Errorf("metadata sub-weights sum to %f, want 1", sub)
	}
	return &HybridScorer{w: w}, nil
}

// Score fuses a candidate's similarity with its metadata relevance and
// the execution feedback score. All components are clamped to [0,1],
// so the result is too.
func (s *HybridScorer) Score(q *query.Query, c *ranking.Candidate, feedback float64) ranking.Breakdown {
	sim := clamp01(c.Similarity())
	feedback = clamp01(feedback)

	p := c.Pattern()
	var meta float64
	if q.Domain() != "" && p.Domain() == q.Domain() {
		meta += s.w.Domain
	}
	if q.Intent() != "" && p.Intent() == q.Intent() {
		meta += s.w.Intent
	}
	meta += s.w.Success * clamp01(p.SuccessRate())
	meta += s.w.Feedback * feedback
	meta = clamp01(meta)

	final := clamp01(s.w.Vector*sim + s.w.Metadata*meta)

	return ranking.Breakdown{
		VectorSimilarity: sim,
		MetadataScore:    meta,
		FeedbackScore:    feedback,
		Final:            final,
	}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
