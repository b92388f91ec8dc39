package retrieval

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/pattern"
	"github.com/reuseware/patterndex/internal/domain/query"
	"github.com/reuseware/patterndex/internal/domain/ranking"
)

// --- Mocks ---

type mockVectorizer struct {
	emb   domain.QueryEmbedding
	err   error
	dual  bool
	calls int
}

func (m *mockVectorizer) Vectorize(_ context.Context, _ string) (domain.QueryEmbedding, error) {
	m.calls++
	if m.err != nil {
		return domain.QueryEmbedding{}, m.err
	}
	return m.emb, nil
}

func (m *mockVectorizer) Dual() bool { return m.dual }
func (m *mockVectorizer) ModelID() string { return "test-model" }

type mockCache struct {
	embeddings map[string]domain.QueryEmbedding
	results    map[string][]ranking.RankedResult
}

func newMockCache() *mockCache {
	return &mockCache{
		embeddings: make(map[string]domain.QueryEmbedding),
		results:    make(map[string][]ranking.RankedResult),
	}
}

func (m *mockCache) GetEmbedding(_ context.Context, key string) (domain.QueryEmbedding, bool) {
	emb, ok := m.embeddings[key]
	return emb, ok
}

func (m *mockCache) PutEmbedding(_ context.Context, key string, emb domain.QueryEmbedding) {
	m.embeddings[key] = emb
}

func (m *mockCache) GetResults(_ context.Context, key string) ([]ranking.RankedResult, bool) {
	res, ok := m.results[key]
	return res, ok
}

func (m *mockCache) PutResults(_ context.Context, key string, results []ranking.RankedResult) {
	m.results[key] = results
}

type mockUsage struct {
	counts map[string]int
	err    error
}

func (m *mockUsage) IncrementUsage(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[id]++
	return nil
}

func svcCand(t *testing.T, id, dom, intent, content string, sim float64) ranking.Candidate {
	t.Helper()
	p, err := pattern.New(id, content, pattern.Metadata{
		Domain:      dom,
		Intent:      intent,
		SuccessRate: 1,
	})
	if err != nil {
		t.Fatalf("build pattern: %v", err)
	}
	p.SetVectors([]float32{1, 0}, []float32{1, 0})
	return ranking.NewCandidate(p, sim, ranking.FromVectorSearch)
}

type engineDeps struct {
	index      *mockIndex
	vectorizer *mockVectorizer
	cache      *mockCache
	usage      *mockUsage
	fallback   *KeywordFallback
	cfg        Config
}

func newTestEngine(t *testing.T, d engineDeps) *Engine {
	t.Helper()
	thresholds, err := NewThresholdResolver(map[string]float64{"data": 0.6}, 0.5)
	if err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	hybrid, err := NewHybridScorer(DefaultHybridWeights())
	if err != nil {
		t.Fatalf("hybrid: %v", err)
	}
	feedback := NewFeedbackRanker(&mockHistory{}, FeedbackConfig{}, zap.NewNop())

	var cache Cache
	if d.cache != nil {
		cache = d.cache
	}
	var usage UsageRecorder
	if d.usage != nil {
		usage = d.usage
	}

	eng, err := New(
		d.index, d.vectorizer, thresholds, d.fallback, hybrid, feedback,
		cache, usage, nil, d.cfg, zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return eng
}

// --- Tests ---

func TestRetrieve_SimilarityOrderAndDenseRanks(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "", "parse csv", 0.9),
		svcCand(t, "b", "data", "", "parse json", 0.7),
	}}
	usage := &mockUsage{}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1, 0}, ModelID: "test-model"}},
		usage:      usage,
	})

	q, _ := query.New("parse files", "data", "", 5, false)
	results, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID() != "a" || results[1].ID() != "b" {
		t.Errorf("unexpected order: %s, %s", results[0].ID(), results[1].ID())
	}
	if results[0].Rank() != 1 || results[1].Rank() != 2 {
		t.Errorf("expected dense ranks 1,2, got %d,%d", results[0].Rank(), results[1].Rank())
	}
	if results[0].FinalScore() != 0.9 {
		t.Errorf("similarity strategy should use raw similarity, got %f", results[0].FinalScore())
	}
	if usage.counts["a"] != 1 || usage.counts["b"] != 1 {
		t.Errorf("expected one usage increment per result, got %v", usage.counts)
	}
}

func TestRetrieve_ThresholdFiltersAndNeverPads(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "", "x", 0.9),
		svcCand(t, "b", "data", "", "x", 0.55), // below the data threshold of 0.6
	}}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}},
	})

	q, _ := query.New("anything", "data", "", 5, false)
	results, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 1 || results[0].ID() != "a" {
		t.Errorf("expected only above-threshold results, got %d", len(results))
	}
}

func TestRetrieve_CapsAtTopK(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "", "x", 0.9),
		svcCand(t, "b", "data", "", "x", 0.8),
		svcCand(t, "c", "data", "", "x", 0.7),
	}}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}},
	})

	q, _ := query.New("anything", "data", "", 2, false)
	results, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected top_k=2 results, got %d", len(results))
	}
}

func TestRetrieve_PrimarySearchFailureIsFatal(t *testing.T) {
	idx := &mockIndex{err: errors.New("index offline")}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}},
	})

	q, _ := query.New("anything", "data", "", 5, false)
	_, err := eng.Retrieve(context.Background(), q)

	if !errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Errorf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestRetrieve_EmbeddingFailureIsFatal(t *testing.T) {
	idx := &mockIndex{}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{err: errors.New("provider 502")},
	})

	q, _ := query.New("anything", "data", "", 5, false)
	_, err := eng.Retrieve(context.Background(), q)

	if !errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Errorf("expected ErrRetrievalUnavailable, got %v", err)
	}
	if idx.searchCalls != 0 {
		t.Errorf("expected no search after embed failure, got %d", idx.searchCalls)
	}
}

func TestRetrieveWithFallback_WidensThinPool(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "parsing", "parse csv rows", 0.9),
		svcCand(t, "b", "data", "parsing", "decode json stream", 0.7),
		svcCand(t, "c", "data", "parsing", "streaming parser", 0.3),
	}}
	fb, err := NewKeywordFallback(idx, map[string]string{"parse": "parsing"}, 0.25, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}},
		fallback:   fb,
	})

	q, _ := query.New("parse uploaded files", "data", "", 5, false)
	results, err := eng.RetrieveWithFallback(context.Background(), q, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Threshold 0.6 keeps a and b; the fallback floor re-admits c.
	if len(results) != 3 {
		t.Fatalf("expected widened pool of 3, got %d", len(results))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, want := range wantOrder {
		if results[i].ID() != want {
			t.Errorf("position %d: expected %s, got %s", i, want, results[i].ID())
		}
	}
	if results[2].FinalScore() != 0.3 {
		t.Errorf("admitted score must be preserved, got %f", results[2].FinalScore())
	}
}

func TestRetrieveWithFallback_NotTriggeredWhenPoolSufficient(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "parsing", "parse csv", 0.9),
		svcCand(t, "b", "data", "parsing", "parse json", 0.8),
	}}
	fb, _ := NewKeywordFallback(idx, map[string]string{"parse": "parsing"}, 0.25, 3, zap.NewNop())
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}},
		fallback:   fb,
	})

	q, _ := query.New("parse files", "data", "", 5, false)
	if _, err := eng.RetrieveWithFallback(context.Background(), q, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if idx.searchCalls != 1 {
		t.Errorf("expected single search when pool is sufficient, got %d", idx.searchCalls)
	}
}

func TestRetrieve_RepeatQueryServedFromCacheStillCountsUsage(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "", "x", 0.9),
	}}
	vec := &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}}
	usage := &mockUsage{}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: vec,
		cache:      newMockCache(),
		usage:      usage,
	})

	q, _ := query.New("same purpose", "data", "", 5, false)

	first, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if idx.searchCalls != 1 {
		t.Errorf("repeat query must not hit the index again, got %d searches", idx.searchCalls)
	}
	if vec.calls != 1 {
		t.Errorf("repeat query must not re-embed, got %d embeds", vec.calls)
	}
	if len(first) != len(second) || first[0].ID() != second[0].ID() {
		t.Errorf("cached result list differs from original")
	}
	// Usage reflects every serving, cached or not.
	if usage.counts["a"] != 2 {
		t.Errorf("expected 2 usage increments across both calls, got %d", usage.counts["a"])
	}
}

func TestRetrieve_UsageFailureDoesNotFailRequest(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "", "x", 0.9),
	}}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}},
		usage:      &mockUsage{err: errors.New("counter store down")},
	})

	q, _ := query.New("anything", "data", "", 5, false)
	results, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected results despite usage failure, got %d", len(results))
	}
}

func TestRetrieve_CancelledRequestSkipsUsageIncrements(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "", "x", 0.9),
	}}
	usage := &mockUsage{}
	cache := newMockCache()
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}},
		cache:      cache,
		usage:      usage,
	})

	q, _ := query.New("anything", "data", "", 5, false)
	if _, err := eng.Retrieve(context.Background(), q); err != nil {
		t.Fatalf("warmup call: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = eng.Retrieve(ctx, q)

	// Only the warmup call incremented; the cancelled one applied none.
	if usage.counts["a"] != 1 {
		t.Errorf("cancelled request must not apply increments, got %d", usage.counts["a"])
	}
}

func TestRetrieve_HybridPopulatesBreakdownAndRefreshesFeedback(t *testing.T) {
	idx := &mockIndex{results: []ranking.Candidate{
		svcCand(t, "a", "data", "crud", "x", 0.8),
	}}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1}}},
		cfg:        Config{Strategy: StrategyHybrid},
	})

	q, _ := query.New("anything", "data", "crud", 5, false)
	results, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	b := results[0].Breakdown()
	if b.MetadataScore == 0 || b.FeedbackScore == 0 {
		t.Errorf("expected populated breakdown, got %+v", b)
	}
	if got := idx.feedbackScores["a"]; got != b.FeedbackScore {
		t.Errorf("expected feedback refresh %f written to index, got %f", b.FeedbackScore, got)
	}
}

func TestRetrieve_MMRRanksFollowSelectionOrder(t *testing.T) {
	// b duplicates a; c is orthogonal and should take the second slot.
	a := svcCand(t, "a", "data", "", "x", 0.90)
	b := svcCand(t, "b", "data", "", "x", 0.89)
	cp, err := pattern.New("c", "x", pattern.Metadata{Domain: "data", SuccessRate: 1})
	if err != nil {
		t.Fatalf("build pattern: %v", err)
	}
	cp.SetVectors([]float32{0, 1}, []float32{0, 1})
	c := ranking.NewCandidate(cp, 0.70, ranking.FromVectorSearch)

	idx := &mockIndex{results: []ranking.Candidate{a, b, c}}
	eng := newTestEngine(t, engineDeps{
		index:      idx,
		vectorizer: &mockVectorizer{emb: domain.QueryEmbedding{Content: []float32{1, 0}}},
		cfg:        Config{Strategy: StrategyMMR, Lambda: 0.5},
	})

	q, _ := query.New("anything", "data", "", 2, false)
	results, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID() != "a" || results[1].ID() != "c" {
		t.Errorf("expected diverse selection [a c], got [%s %s]", results[0].ID(), results[1].ID())
	}
	if results[0].Rank() != 1 || results[1].Rank() != 2 {
		t.Errorf("ranks must follow selection order, got %d,%d", results[0].Rank(), results[1].Rank())
	}
}

func nsCand(t *testing.T, id string, sim float64, contentVec, semanticVec []float32) ranking.Candidate {
	t.Helper()
	p, err := pattern.New(id, "content "+id, pattern.Metadata{SuccessRate: 1})
	if err != nil {
		t.Fatalf("build pattern: %v", err)
	}
	p.SetVectors(contentVec, semanticVec)
	return ranking.NewCandidate(p, sim, ranking.FromVectorSearch)
}

func TestRetrieve_MMRDiversifiesAcrossNamespaces(t *testing.T) {
	// b arrives from the semantic namespace, so its embedding sits on
	// the semantic slot. It duplicates a and must lose the second MMR
	// slot to the orthogonal c.
	a := nsCand(t, "a", 0.90, []float32{1, 0}, nil)
	b := nsCand(t, "b", 0.85, nil, []float32{1, 0})
	c := nsCand(t, "c", 0.55, []float32{0, 1}, nil)

	idx := &mockIndex{
		results:  []ranking.Candidate{a, c},
		semantic: []ranking.Candidate{b},
	}
	eng := newTestEngine(t, engineDeps{
		index: idx,
		vectorizer: &mockVectorizer{
			dual: true,
			emb:  domain.QueryEmbedding{Content: []float32{1, 0}, Semantic: []float32{1, 0}},
		},
		cfg: Config{Strategy: StrategyMMR, Lambda: 0.5},
	})

	q, _ := query.New("anything", "", "", 2, false)
	results, err := eng.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID() != "a" || results[1].ID() != "c" {
		t.Errorf("expected diverse selection [a c], got [%s %s]", results[0].ID(), results[1].ID())
	}
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	thresholds, _ := NewThresholdResolver(nil, 0.5)
	vec := &mockVectorizer{}

	if _, err := New(nil, vec, thresholds, nil, nil, nil, nil, nil, nil, Config{}, zap.NewNop()); err == nil {
		t.Error("expected error without index")
	}
	if _, err := New(&mockIndex{}, nil, thresholds, nil, nil, nil, nil, nil, nil, Config{}, zap.NewNop()); err == nil {
		t.Error("expected error without vectorizer")
	}
	if _, err := New(&mockIndex{}, vec, nil, nil, nil, nil, nil, nil, nil, Config{}, zap.NewNop()); err == nil {
		t.Error("expected error without thresholds")
	}
	if _, err := New(&mockIndex{}, vec, thresholds, nil, nil, nil, nil, nil, nil,
		Config{Strategy: StrategyHybrid}, zap.NewNop()); err == nil {
		t.Error("expected error for hybrid without scorer and feedback")
	}
}
