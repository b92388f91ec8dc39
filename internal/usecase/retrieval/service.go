// Package retrieval implements the pattern retrieval pipeline: query
// embedding, vector search with adaptive thresholds, keyword fallback,
// score fusion, and contextual reranking.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/query"
	"github.com/reuseware/patterndex/internal/domain/ranking"
	"github.com/reuseware/patterndex/internal/metrics"
)

// Strategy selects how the candidate pool is turned into a ranking.
type Strategy string

const (
	// StrategySimilarity ranks by raw vector similarity.
	StrategySimilarity Strategy = "similarity"
	// StrategyMMR ranks by maximal marginal relevance.
	StrategyMMR Strategy = "mmr"
	// StrategyHybrid fuses similarity with metadata and feedback.
	StrategyHybrid Strategy = "hybrid"
)

// Config tunes the retrieval engine.
type Config struct {
	Strategy Strategy
	// Lambda is the MMR relevance/diversity tradeoff.
	Lambda float64
	// PoolMultiplier sizes the overfetch pool for MMR and hybrid
	// ranking relative to topK.
	PoolMultiplier int
	// EmbedTimeout and SearchTimeout bound the two external calls on
	// the critical path.
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategySimilarity
	}
	if c.Lambda <= 0 || c.Lambda > 1 {
		c.Lambda = 0.7
	}
	if c.PoolMultiplier <= 0 {
		c.PoolMultiplier = 3
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 5 * time.Second
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 2 * time.Second
	}
}

// Engine is the retrieval facade. It owns the pipeline ordering and the
// degradation policy: the primary vector search is the only stage whose
// failure fails the request; cache, fallback, feedback, reranking, and
// usage accounting all degrade individually.
//
// Engine holds no per-request state and is safe for concurrent use.
type Engine struct {
	index      Index
	vectorizer domain.Vectorizer
	thresholds *ThresholdResolver
	fallback   *KeywordFallback
	hybrid     *HybridScorer
	feedback   *FeedbackRanker
	cache      Cache
	usage      UsageRecorder
	reranker   *ReRanker
	cfg        Config
	logger     *zap.Logger
}

// New creates the retrieval engine. fallback, cache, and usage may be
// nil; the matching stages are then skipped.
func New(
	index Index,
	vectorizer domain.Vectorizer,
	thresholds *ThresholdResolver,
	fallback *KeywordFallback,
	hybrid *HybridScorer,
	feedback *FeedbackRanker,
	cache Cache,
	usage UsageRecorder,
	reranker *ReRanker,
	cfg Config,
	logger *zap.Logger,
) (*Engine, error) {
	if index == nil {
		return nil, fmt.Errorf("retrieval engine requires a vector index")
	}
	if vectorizer == nil {
		return nil, fmt.Errorf("retrieval engine requires a vectorizer")
	}
	if thresholds == nil {
		return nil, fmt.Errorf("retrieval engine requires a threshold resolver")
	}
	cfg.ApplyDefaults()
	if cfg.Strategy == StrategyHybrid && (hybrid == nil || feedback == nil) {
		return nil, fmt.Errorf("hybrid strategy requires the hybrid scorer and feedback ranker")
	}

	return &Engine{
		index:      index,
		vectorizer: vectorizer,
		thresholds: thresholds,
		fallback:   fallback,
		hybrid:     hybrid,
		feedback:   feedback,
		cache:      cache,
		usage:      usage,
		reranker:   reranker,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Retrieve runs the pipeline without the fallback widening stage.
func (e *Engine) Retrieve(ctx context.Context, q query.Query) ([]ranking.RankedResult, error) {
	return e.run(ctx, q, 0)
}

// RetrieveWithFallback runs the pipeline and widens the pool via the
// keyword fallback when fewer than minResults candidates survive the
// threshold.
func (e *Engine) RetrieveWithFallback(ctx context.Context, q query.Query, minResults int) ([]ranking.RankedResult, error) {
	if minResults < 0 {
		minResults = 0
	}
	return e.run(ctx, q, minResults)
}

func (e *Engine) run(ctx context.Context, q query.Query, minResults int) ([]ranking.RankedResult, error) {
	start := time.Now()
	strategy := string(e.cfg.Strategy)

	results, err := e.pipeline(ctx, &q, minResults)

	metrics.RetrievalDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RetrievalRequestsTotal.WithLabelValues(strategy, "error").Inc()
		return nil, err
	}
	metrics.RetrievalRequestsTotal.WithLabelValues(strategy, "success").Inc()

	e.logger.Debug("Retrieval completed",
		zap.String("strategy", strategy),
		zap.Int("top_k", q.TopK()),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return results, nil
}

func (e *Engine) pipeline(ctx context.Context, q *query.Query, minResults int) ([]ranking.RankedResult, error) {
	resultKey := e.resultKey(q, minResults)
	if e.cache != nil {
		if cached, ok := e.cache.GetResults(ctx, resultKey); ok {
			return e.finalize(ctx, q, cached), nil
		}
	}

	emb, err := e.embedQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	pool, err := e.search(ctx, q, emb)
	if err != nil {
		return nil, err
	}

	threshold := e.thresholds.Resolve(q.Domain())
	pool = aboveThreshold(pool, threshold)

	if minResults > 0 && len(pool) < minResults && e.fallback != nil {
		pool = e.fallback.Widen(ctx, q, domain.KindContent, emb.Content, pool)
	}

	results, err := e.rank(ctx, q, emb, pool)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.PutResults(ctx, resultKey, results)
	}
	return e.finalize(ctx, q, results), nil
}

// embedQuery returns the query embedding, served from the cache when
// possible.
func (e *Engine) embedQuery(ctx context.Context, q *query.Query) (domain.QueryEmbedding, error) {
	key := cacheKey("emb", e.vectorizer.ModelID(), q.Purpose())
	if e.cache != nil {
		if emb, ok := e.cache.GetEmbedding(ctx, key); ok {
			emb.ModelID = e.vectorizer.ModelID()
			return emb, nil
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()

	emb, err := e.vectorizer.Vectorize(embedCtx, q.Purpose())
	if err != nil {
		return domain.QueryEmbedding{}, fmt.Errorf("embed query: %w: %w", err, domain.ErrRetrievalUnavailable)
	}

	if e.cache != nil {
		e.cache.PutEmbedding(ctx, key, emb)
	}
	return emb, nil
}

// search runs the primary KNN search. With dual embeddings both
// namespaces are searched and merged by max similarity; a single
// namespace failure degrades, both failing fails the request.
func (e *Engine) search(ctx context.Context, q *query.Query, emb domain.QueryEmbedding) ([]ranking.Candidate, error) {
	k := q.TopK()
	if e.cfg.Strategy != StrategySimilarity {
		k *= e.cfg.PoolMultiplier
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	content, contentErr := e.index.Search(searchCtx, domain.KindContent, emb.Content, k, q.Filter())

	if !e.vectorizer.Dual() {
		if contentErr != nil {
			return nil, fmt.Errorf("vector search: %w: %w", contentErr, domain.ErrRetrievalUnavailable)
		}
		return content, nil
	}

	semantic, semanticErr := e.index.Search(searchCtx, domain.KindSemantic, emb.Semantic, k, q.Filter())

	switch {
	case contentErr != nil && semanticErr != nil:
		return nil, fmt.Errorf("vector search: %w: %w", contentErr, domain.ErrRetrievalUnavailable)
	case contentErr != nil:
		metrics.DegradedTotal.WithLabelValues("search").Inc()
		e.logger.Warn("Content namespace search failed, using semantic only", zap.Error(contentErr))
		return capPool(semantic, k), nil
	case semanticErr != nil:
		metrics.DegradedTotal.WithLabelValues("search").Inc()
		e.logger.Warn("Semantic namespace search failed, using content only", zap.Error(semanticErr))
		return capPool(content, k), nil
	}

	return capPool(mergeCandidates(content, semantic), k), nil
}

// rank applies exactly one ranking strategy to the candidate pool.
func (e *Engine) rank(ctx context.Context, q *query.Query, emb domain.QueryEmbedding, pool []ranking.Candidate) ([]ranking.RankedResult, error) {
	switch e.cfg.Strategy {
	case StrategyMMR:
		return e.rankMMR(q, pool), nil
	case StrategyHybrid:
		return e.rankHybrid(ctx, q, pool), nil
	default:
		return e.rankSimilarity(q, pool), nil
	}
}

func (e *Engine) rankSimilarity(q *query.Query, pool []ranking.Candidate) []ranking.RankedResult {
	if len(pool) > q.TopK() {
		pool = pool[:q.TopK()]
	}
	scored := make([]ranking.Scored, len(pool))
	for i := range pool {
		sim := clamp01(pool[i].Similarity())
		scored[i] = ranking.Scored{
			Pattern: pool[i].Pattern(),
			Final:   sim,
			Breakdown: ranking.Breakdown{
				VectorSimilarity: sim,
				Final:            sim,
			},
		}
	}
	return ranking.Assign(scored)
}

// rankMMR selects a diverse subset. Ranks follow the selection order,
// not the similarity order, so a diverse third pick outranks a
// redundant higher-similarity candidate.
func (e *Engine) rankMMR(q *query.Query, pool []ranking.Candidate) []ranking.RankedResult {
	vectors := make([][]float32, len(pool))
	for i := range pool {
		// Candidates hydrated from the semantic namespace carry their
		// embedding on the semantic slot.
		p := pool[i].Pattern()
		vec := p.ContentVector()
		if len(vec) == 0 {
			vec = p.SemanticVector()
		}
		vectors[i] = vec
	}

	selected := SelectMMR(pool, vectors, q.TopK(), e.cfg.Lambda)

	results := make([]ranking.RankedResult, 0, len(selected))
	for i := range selected {
		sim := clamp01(selected[i].Similarity())
		results = append(results, ranking.Reconstruct(
			selected[i].Pattern(), i+1, sim,
			ranking.Breakdown{VectorSimilarity: sim, Final: sim},
		))
	}
	return results
}

func (e *Engine) rankHybrid(ctx context.Context, q *query.Query, pool []ranking.Candidate) []ranking.RankedResult {
	scored := make([]ranking.Scored, len(pool))
	for i := range pool {
		fb := e.feedback.Score(ctx, pool[i].ID())
		b := e.hybrid.Score(q, &pool[i], fb)
		scored[i] = ranking.Scored{
			Pattern:   pool[i].Pattern(),
			Final:     b.Final,
			Breakdown: b,
		}
	}

	results := ranking.Assign(scored)
	if len(results) > q.TopK() {
		results = results[:q.TopK()]
	}
	return results
}

// finalize runs the post-cache stages: contextual reranking, the
// feedback score refresh, and usage accounting. Every stage here is
// best-effort.
func (e *Engine) finalize(ctx context.Context, q *query.Query, results []ranking.RankedResult) []ranking.RankedResult {
	if e.reranker != nil {
		results = e.reranker.Rerank(ctx, q.Purpose(), results)
	}

	if e.cfg.Strategy == StrategyHybrid {
		e.refreshFeedback(ctx, results)
	}

	e.recordUsage(ctx, results)
	return results
}

// refreshFeedback writes the freshly computed feedback score back to
// the index so filtered scans see a recent value.
func (e *Engine) refreshFeedback(ctx context.Context, results []ranking.RankedResult) {
	for i := range results {
		score := results[i].Breakdown().FeedbackScore
		if err := e.index.SetFeedbackScore(ctx, results[i].ID(), score); err != nil {
			e.logger.Warn("Feedback score refresh failed",
				zap.String("pattern_id", results[i].ID()),
				zap.Error(err),
			)
			return
		}
	}
}

// recordUsage bumps the usage counter once per returned pattern. The
// whole batch is skipped when the request was already cancelled so a
// cancelled call never applies a partial set of increments.
func (e *Engine) recordUsage(ctx context.Context, results []ranking.RankedResult) {
	if e.usage == nil || ctx.Err() != nil {
		return
	}
	for i := range results {
		if err := e.usage.IncrementUsage(ctx, results[i].ID()); err != nil {
			metrics.DegradedTotal.WithLabelValues("usage").Inc()
			e.logger.Warn("Usage increment failed",
				zap.String("pattern_id", results[i].ID()),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) resultKey(q *query.Query, minResults int) string {
	return cacheKey(
		"res",
		e.vectorizer.ModelID(),
		string(e.cfg.Strategy),
		q.Purpose(),
		strconv.Itoa(q.TopK()),
		q.FilterSet(),
		strconv.Itoa(minResults),
	)
}

// aboveThreshold keeps candidates at or above the cutoff. The input is
// similarity-ordered, so the first miss ends the scan.
func aboveThreshold(pool []ranking.Candidate, threshold float64) []ranking.Candidate {
	for i := range pool {
		if pool[i].Similarity() < threshold {
			return pool[:i]
		}
	}
	return pool
}

func capPool(pool []ranking.Candidate, k int) []ranking.Candidate {
	if len(pool) > k {
		return pool[:k]
	}
	return pool
}

// cacheKey derives a fixed-length key from its parts. Parts are joined
// with a zero byte so no two distinct part lists collide.
func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
