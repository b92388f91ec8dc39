package ranking

import (
	"testing"

	"github.com/reuseware/patterndex/internal/domain/pattern"
)

func pat(t *testing.T, id string) pattern.Pattern {
	t.Helper()
	p, err := pattern.New(id, "content of "+id, pattern.Metadata{SuccessRate: 1})
	if err != nil {
		t.Fatalf("build pattern %s: %v", id, err)
	}
	return p
}

func TestAssign_SortsByFinalDescending(t *testing.T) {
	scored := []Scored{
		{Pattern: pat(t, "a"), Final: 0.5},
		{Pattern: pat(t, "b"), Final: 0.9},
		{Pattern: pat(t, "c"), Final: 0.7},
	}

	results := Assign(scored)

	wantOrder := []string{"b", "c", "a"}
	for i, want := range wantOrder {
		if results[i].ID() != want {
			t.Errorf("position %d: expected %s, got %s", i, want, results[i].ID())
		}
		if results[i].Rank() != i+1 {
			t.Errorf("position %d: expected rank %d, got %d", i, i+1, results[i].Rank())
		}
	}
}

func TestAssign_TiesBrokenByID(t *testing.T) {
	scored := []Scored{
		{Pattern: pat(t, "zeta"), Final: 0.8},
		{Pattern: pat(t, "alpha"), Final: 0.8},
	}

	results := Assign(scored)

	if results[0].ID() != "alpha" || results[1].ID() != "zeta" {
		t.Errorf("expected tie broken by id ascending, got [%s %s]",
			results[0].ID(), results[1].ID())
	}
	// Dense ranks: equal scores still occupy distinct positions.
	if results[0].Rank() != 1 || results[1].Rank() != 2 {
		t.Errorf("expected ranks 1,2, got %d,%d", results[0].Rank(), results[1].Rank())
	}
}

func TestAssign_DoesNotMutateInput(t *testing.T) {
	scored := []Scored{
		{Pattern: pat(t, "a"), Final: 0.1},
		{Pattern: pat(t, "b"), Final: 0.9},
	}

	Assign(scored)

	if scored[0].Pattern.ID() != "a" {
		t.Error("input slice was reordered")
	}
}

func TestCandidate_WithSimilarity(t *testing.T) {
	c := NewCandidate(pat(t, "a"), 0.4, FromVectorSearch)
	c2 := c.WithSimilarity(0.9)

	if c.Similarity() != 0.4 {
		t.Errorf("original candidate mutated: %f", c.Similarity())
	}
	if c2.Similarity() != 0.9 {
		t.Errorf("expected 0.9, got %f", c2.Similarity())
	}
	if c2.Provenance() != FromVectorSearch {
		t.Errorf("provenance lost: %q", c2.Provenance())
	}
}
