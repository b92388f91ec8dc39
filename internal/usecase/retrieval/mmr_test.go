package retrieval

import (
	"testing"

	"github.com/reuseware/patterndex/internal/domain/pattern"
	"github.com/reuseware/patterndex/internal/domain/ranking"
)

func mmrCand(t *testing.T, id string, sim float64) ranking.Candidate {
	t.Helper()
	p, err := pattern.New(id, "content "+id, pattern.Metadata{SuccessRate: 1})
	if err != nil {
		t.Fatalf("build pattern: %v", err)
	}
	return ranking.NewCandidate(p, sim, ranking.FromVectorSearch)
}

func TestSelectMMR_LambdaOnePreservesSimilarityOrder(t *testing.T) {
	cands := []ranking.Candidate{
		mmrCand(t, "a", 0.9),
		mmrCand(t, "b", 0.8),
		mmrCand(t, "c", 0.7),
	}
	// All identical vectors: maximal redundancy, which lambda=1 ignores.
	vectors := [][]float32{{1, 0}, {1, 0}, {1, 0}}

	got := SelectMMR(cands, vectors, 3, 1.0)

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID() != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID())
		}
	}
}

func TestSelectMMR_PrefersDiverseCandidate(t *testing.T) {
	// b is nearly a duplicate of a; c is orthogonal with lower similarity.
	cands := []ranking.Candidate{
		mmrCand(t, "a", 0.90),
		mmrCand(t, "b", 0.89),
		mmrCand(t, "c", 0.60),
	}
	vectors := [][]float32{{1, 0}, {1, 0}, {0, 1}}

	got := SelectMMR(cands, vectors, 2, 0.5)

	if len(got) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(got))
	}
	if got[0].ID() != "a" {
		t.Errorf("first pick should be the most similar, got %s", got[0].ID())
	}
	// Second round: b scores 0.5*0.89 - 0.5*1.0 < 0, c scores 0.5*0.60 - 0.
	if got[1].ID() != "c" {
		t.Errorf("second pick should be the diverse candidate, got %s", got[1].ID())
	}
}

func TestSelectMMR_NeverReselects(t *testing.T) {
	cands := []ranking.Candidate{
		mmrCand(t, "a", 0.9),
		mmrCand(t, "b", 0.8),
	}
	vectors := [][]float32{{1, 0}, {0, 1}}

	got := SelectMMR(cands, vectors, 5, 0.7)

	if len(got) != 2 {
		t.Fatalf("expected min(k, n)=2 selections, got %d", len(got))
	}
	seen := map[string]bool{}
	for _, c := range got {
		if seen[c.ID()] {
			t.Fatalf("candidate %s selected twice", c.ID())
		}
		seen[c.ID()] = true
	}
}

func TestSelectMMR_Empty(t *testing.T) {
	if got := SelectMMR(nil, nil, 3, 0.7); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	cands := []ranking.Candidate{mmrCand(t, "a", 0.9)}
	if got := SelectMMR(cands, [][]float32{{1}}, 0, 0.7); got != nil {
		t.Errorf("expected nil for k=0, got %v", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cosineSimilarity(tc.a, tc.b)
			if got < tc.want-1e-9 || got > tc.want+1e-9 {
				t.Errorf("expected %f, got %f", tc.want, got)
			}
		})
	}
}
