package retrieval

import (
	"math"

	"github.com/reuseware/patterndex/internal/domain/ranking"
)

// SelectMMR picks up to k candidates by maximal marginal relevance.
// Each round selects the candidate maximizing
//
//	lambda*similarity - (1-lambda)*max(cosine to already selected)
//
// Relevance reuses the similarity already computed by the index; only
// the pairwise diversity term is computed here. vectors[i] is the
// embedding of cands[i]. Ties prefer the earlier candidate, so with
// lambda=1 the selection preserves the incoming similarity order.
func SelectMMR(cands []ranking.Candidate, vectors [][]float32, k int, lambda float64) []ranking.Candidate {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	if k > len(cands) {
		k = len(cands)
	}

	selected := make([]ranking.Candidate, 0, k)
	selectedVecs := make([][]float32, 0, k)
	used := make([]bool, len(cands))

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)

		for i := range cands {
			if used[i] {
				continue
			}
			redundancy := 0.0
			for _, sv := range selectedVecs {
				if sim := cosineSimilarity(vectors[i], sv); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*cands[i].Similarity() - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				best = i
			}
		}

		if best < 0 {
			break
		}
		used[best] = true
		selected = append(selected, cands[best])
		selectedVecs = append(selectedVecs, vectors[best])
	}

	return selected
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either has zero magnitude or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
