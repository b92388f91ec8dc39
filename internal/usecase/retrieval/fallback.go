package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/query"
	"github.com/reuseware/patterndex/internal/domain/ranking"
	"github.com/reuseware/patterndex/internal/metrics"
)

// stopWords are dropped during keyword extraction.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "with": {},
	"this": {}, "from": {}, "are": {}, "was": {}, "were": {},
	"has": {}, "have": {}, "had": {}, "can": {}, "will": {},
	"should": {}, "would": {}, "could": {}, "into": {}, "over": {},
	"under": {}, "when": {}, "where": {}, "how": {}, "what": {},
	"all": {}, "any": {}, "each": {}, "not": {}, "but": {},
	"use": {}, "using": {}, "need": {}, "want": {}, "make": {},
}

// KeywordFallback widens a thin primary result pool by re-querying at a
// floor threshold and keeping only candidates lexically related to the
// query's keywords.
type KeywordFallback struct {
	index Index

	// intents maps a trigger keyword to an intent label. intentTerms
	// is the inverse view: every term associated with an intent,
	// including the intent label itself.
	intents     map[string]string
	intentTerms map[string][]string

	floor          float64
	poolMultiplier int
	logger         *zap.Logger
}

// NewKeywordFallback validates the keyword table and creates the fallback.
func NewKeywordFallback(index Index, intents map[string]string, floor float64, poolMultiplier int, logger *zap.Logger) (*KeywordFallback, error) {
	if floor < 0 || floor > 1 {
		return nil, fmt.Errorf("fallback floor threshold %f out of range [0,1]", floor)
	}
	if poolMultiplier <= 0 {
		poolMultiplier = 3
	}

	normalized := make(map[string]string, len(intents))
	terms := make(map[string][]string)
	for kw, intent := range intents {
		kw = strings.ToLower(strings.TrimSpace(kw))
		intent = strings.ToLower(strings.TrimSpace(intent))
		if kw == "" || intent == "" {
			return nil, fmt.Errorf("keyword table contains an empty keyword or intent")
		}
		normalized[kw] = intent
		terms[intent] = append(terms[intent], kw)
	}
	for intent := range terms {
		terms[intent] = append(terms[intent], intent)
		sort.Strings(terms[intent])
	}

	return &KeywordFallback{
		index:          index,
		intents:        normalized,
		intentTerms:    terms,
		floor:          floor,
		poolMultiplier: poolMultiplier,
		logger:         logger,
	}, nil
}

// Widen merges floor-threshold candidates into the primary pool. The
// merged list is deduplicated (keeping the higher-scored entry), sorted
// by similarity descending, and truncated to q.TopK(). On any fallback
// error the primary pool is returned unchanged.
func (f *KeywordFallback) Widen(
	ctx context.Context, q *query.Query,
	kind domain.EmbeddingKind, vector []float32,
	primary []ranking.Candidate,
) []ranking.Candidate {
	terms := f.matchedTerms(q.Purpose())
	if len(terms) == 0 {
		f.logger.Debug("Keyword fallback skipped, no intent keywords matched",
			zap.String("purpose", q.Purpose()),
		)
		return primary
	}

	pool, err := f.index.Search(ctx, kind, vector, q.TopK()*f.poolMultiplier, q.Filter())
	if err != nil {
		metrics.DegradedTotal.WithLabelValues("fallback").Inc()
		f.logger.Warn("Keyword fallback search failed, keeping primary pool",
			zap.Error(err),
		)
		return primary
	}

	metrics.FallbackTotal.Inc()

	admitted := make([]ranking.Candidate, 0, len(pool))
	for i := range pool {
		if pool[i].Similarity() < f.floor {
			continue
		}
		if !f.lexicalMatch(&pool[i], terms) {
			continue
		}
		admitted = append(admitted, ranking.NewCandidate(
			pool[i].Pattern(), pool[i].Similarity(), ranking.FromKeywordFallback,
		))
	}

	merged := mergeCandidates(primary, admitted)
	if len(merged) > q.TopK() {
		merged = merged[:q.TopK()]
	}
	return merged
}

// matchedTerms extracts keywords from the purpose text and returns the
// full term set of every intent they map to.
func (f *KeywordFallback) matchedTerms(purpose string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range tokenize(purpose) {
		intent, ok := f.intents[tok]
		if !ok {
			continue
		}
		if _, dup := seen[intent]; dup {
			continue
		}
		seen[intent] = struct{}{}
		terms = append(terms, f.intentTerms[intent]...)
	}
	return terms
}

// lexicalMatch reports whether any term occurs in the candidate's
// domain, intent, or content.
func (f *KeywordFallback) lexicalMatch(c *ranking.Candidate, terms []string) bool {
	p := c.Pattern()
	haystacks := []string{
		p.Domain(),
		strings.ToLower(p.Intent()),
		strings.ToLower(p.Content()),
	}
	for _, term := range terms {
		for _, h := range haystacks {
			if strings.Contains(h, term) {
				return true
			}
		}
	}
	return false
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// stop words and tokens of two characters or fewer.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, tok := range fields {
		if len(tok) <= 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// mergeCandidates deduplicates by pattern id keeping the higher
// similarity, then sorts by similarity descending with id ascending as
// the tiebreak. A pattern seen in both namespaces keeps both embeddings
// so downstream diversity scoring sees a vector either way.
func mergeCandidates(a, b []ranking.Candidate) []ranking.Candidate {
	byID := make(map[string]ranking.Candidate, len(a)+len(b))
	for _, list := range [][]ranking.Candidate{a, b} {
		for _, c := range list {
			prev, ok := byID[c.ID()]
			if !ok {
				byID[c.ID()] = c
				continue
			}
			keep, other := prev, c
			if c.Similarity() > prev.Similarity() {
				keep, other = c, prev
			}
			byID[c.ID()] = mergeVectors(keep, other)
		}
	}

	merged := make([]ranking.Candidate, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Similarity() != merged[j].Similarity() {
			return merged[i].Similarity() > merged[j].Similarity()
		}
		return merged[i].ID() < merged[j].ID()
	})
	return merged
}

// mergeVectors fills vector slots missing on keep from other.
func mergeVectors(keep, other ranking.Candidate) ranking.Candidate {
	kp := keep.Pattern()
	cv, sv := kp.ContentVector(), kp.SemanticVector()
	if len(cv) > 0 && len(sv) > 0 {
		return keep
	}
	op := other.Pattern()
	if len(cv) == 0 {
		cv = op.ContentVector()
	}
	if len(sv) == 0 {
		sv = op.SemanticVector()
	}
	kp.SetVectors(cv, sv)
	return ranking.NewCandidate(kp, keep.Similarity(), keep.Provenance())
}
