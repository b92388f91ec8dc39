// Package ranking holds candidate and ranked-result value objects.
package ranking

import (
	"sort"

	"github.com/reuseware/patterndex/internal/domain/pattern"
)

// Provenance records which search path produced a candidate.
type Provenance string

const (
	// FromVectorSearch marks candidates from the primary KNN search.
	FromVectorSearch Provenance = "vector-search"
	// FromKeywordFallback marks candidates admitted by the lexical fallback.
	FromKeywordFallback Provenance = "keyword-fallback"
)

// Candidate is a pattern paired with its raw similarity score.
type Candidate struct {
	pattern    pattern.Pattern
	similarity float64
	provenance Provenance
}

// NewCandidate creates a candidate.
func NewCandidate(p pattern.Pattern, similarity float64, prov Provenance) Candidate {
	return Candidate{pattern: p, similarity: similarity, provenance: prov}
}

// Pattern returns the underlying pattern.
func (c *Candidate) Pattern() pattern.Pattern { return c.pattern }

// ID returns the pattern id.
func (c *Candidate) ID() string { return c.pattern.ID() }

// Similarity returns the raw vector similarity.
func (c *Candidate) Similarity() float64 { return c.similarity }

// Provenance returns the search path that produced the candidate.
func (c *Candidate) Provenance() Provenance { return c.provenance }

// WithSimilarity returns a copy with a replaced similarity score.
func (c Candidate) WithSimilarity(s float64) Candidate {
	c.similarity = s
	return c
}

// Breakdown exposes the score components for testability.
type Breakdown struct {
	VectorSimilarity float64
	MetadataScore    float64
	FeedbackScore    float64
	Final            float64
}

// RankedResult is a scored pattern with its dense 1-based rank.
type RankedResult struct {
	pattern   pattern.Pattern
	rank      int
	final     float64
	breakdown Breakdown
}

// Reconstruct builds a ranked result with an externally decided rank,
// for orderings that are not a sort by final score.
func Reconstruct(p pattern.Pattern, rank int, final float64, b Breakdown) RankedResult {
	return RankedResult{pattern: p, rank: rank, final: final, breakdown: b}
}

// Pattern returns the underlying pattern.
func (r *RankedResult) Pattern() pattern.Pattern { return r.pattern }

// ID returns the pattern id.
func (r *RankedResult) ID() string { return r.pattern.ID() }

// Rank returns the dense 1-based rank.
func (r *RankedResult) Rank() int { return r.rank }

// FinalScore returns the fused score.
func (r *RankedResult) FinalScore() float64 { return r.final }

// Breakdown returns the score components.
func (r *RankedResult) Breakdown() Breakdown { return r.breakdown }

// Scored pairs a pattern with its final score and breakdown before
// ranks are assigned.
type Scored struct {
	Pattern   pattern.Pattern
	Final     float64
	Breakdown Breakdown
}

// Assign sorts scored patterns by final score descending (ties broken
// by id ascending) and assigns dense 1-based ranks.
func Assign(scored []Scored) []RankedResult {
	sorted := make([]Scored, len(scored))
	copy(sorted, scored)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Final != sorted[j].Final {
			return sorted[i].Final > sorted[j].Final
		}
		return sorted[i].Pattern.ID() < sorted[j].Pattern.ID()
	})

	results := make([]RankedResult, len(sorted))
	for i, s := range sorted {
		results[i] = RankedResult{
			pattern:   s.Pattern,
			rank:      i + 1,
			final:     s.Final,
			breakdown: s.Breakdown,
		}
	}
	return results
}
