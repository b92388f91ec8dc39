package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain/pattern"
	"github.com/reuseware/patterndex/internal/domain/ranking"
)

func rankedResult(t *testing.T, id string, rank int, score float64) ranking.RankedResult {
	t.Helper()
	p, err := pattern.New(id, "pattern body of "+id, pattern.Metadata{SuccessRate: 1})
	if err != nil {
		t.Fatalf("build pattern: %v", err)
	}
	return ranking.Reconstruct(p, rank, score, ranking.Breakdown{Final: score})
}

func chatStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":` +
			reply + `}}]}`))
	}))
}

func TestRerank_ReordersByModelReply(t *testing.T) {
	srv := chatStub(t, `"[\"b\", \"a\"]"`)
	defer srv.Close()

	r := NewReranker(&RerankerConfig{
		APIKey:  "test",
		BaseURL: srv.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	results := []ranking.RankedResult{
		rankedResult(t, "a", 1, 0.9),
		rankedResult(t, "b", 2, 0.7),
	}

	got, err := r.Rerank(context.Background(), "parse csv", results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID() != "b" || got[1].ID() != "a" {
		t.Errorf("expected model order [b a], got [%s %s]", got[0].ID(), got[1].ID())
	}
}

func TestRerank_UnparsableReplyFails(t *testing.T) {
	srv := chatStub(t, `"no json here"`)
	defer srv.Close()

	r := NewReranker(&RerankerConfig{
		APIKey: "test", BaseURL: srv.URL, Model: "test-model", Logger: zap.NewNop(),
	})

	_, err := r.Rerank(context.Background(), "x", []ranking.RankedResult{rankedResult(t, "a", 1, 0.9)})
	if err == nil {
		t.Error("expected error for an unparsable reply")
	}
}

func TestParseIDList_ToleratesCodeFences(t *testing.T) {
	ids, err := parseIDList("```json\n[\"p1\", \"p2\"]\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestReorder_UnknownIDsIgnoredMissingAppended(t *testing.T) {
	results := []ranking.RankedResult{
		rankedResult(t, "a", 1, 0.9),
		rankedResult(t, "b", 2, 0.8),
		rankedResult(t, "c", 3, 0.7),
	}

	got := reorder(results, []string{"c", "ghost", "a"})

	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i].ID() != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i].ID())
		}
	}
}
