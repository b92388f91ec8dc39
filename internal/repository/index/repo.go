// Package index adapts the db layer into the vector index the
// retrieval and ingestion services run against. Patterns live in two
// logical namespaces, one per embedding kind, each backed by its own
// FT index over hash keys.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/reuseware/patterndex/internal/db"
	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/pattern"
	"github.com/reuseware/patterndex/internal/domain/query"
	"github.com/reuseware/patterndex/internal/domain/ranking"
)

// store is the consumer interface for index operations (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetField(ctx context.Context, key, field, value string) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig carries HNSW build parameters for index creation.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements the vector index contract over two FT namespaces.
type Repo struct {
	store store
	dims  map[domain.EmbeddingKind]int
	hnsw  HNSWConfig
}

// New creates an index repository. dims maps each enabled namespace to
// its vector dimension; single-embedding deployments pass one entry.
func New(s store, dims map[domain.EmbeddingKind]int) *Repo {
	return &Repo{store: s, dims: dims}
}

// WithHNSW sets HNSW build parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	r.hnsw = cfg
	return r
}

// EnsureIndexes creates the FT index for every enabled namespace.
// Existing indexes are left untouched.
func (r *Repo) EnsureIndexes(ctx context.Context) error {
	for kind, dim := range r.dims {
		def, err := db.NewIndex(indexName(kind)).
			Prefix(keyPrefix(kind)).
			Tag(fieldDomain).
			Tag(fieldIntent).
			Tag(fieldProd).
			Tag(fieldSecurity).
			Tag(fieldTier).
			Numeric(fieldSuccess).
			Numeric(fieldUsage).
			Numeric(fieldCreated).
			VectorHNSW(fieldVector, dim, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct).
			As("vector").
			Build()
		if err != nil {
			return fmt.Errorf("build %s index definition: %w", kind, err)
		}
		if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
			return fmt.Errorf("create %s index: %w", kind, err)
		}
	}
	return nil
}

// Upsert writes the pattern into every enabled namespace in one
// pipelined round trip. On failure the caller decides whether to
// compensate; Upsert itself leaves whatever was written.
func (r *Repo) Upsert(ctx context.Context, p *pattern.Pattern) error {
	items := make([]db.HashSetItem, 0, len(r.dims))
	for kind, dim := range r.dims {
		vec := p.ContentVector()
		if kind == domain.KindSemantic {
			vec = p.SemanticVector()
		}
		if len(vec) != dim {
			return fmt.Errorf(
				"%s vector has %d dims, index expects %d: %w",
				kind, len(vec), dim, domain.ErrVectorDimMismatch,
			)
		}
		items = append(items, db.HashSetItem{
			Key:    key(kind, p.ID()),
			Fields: buildHashFields(p, kind),
		})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert pattern %s: %w", p.ID(), err)
	}
	return nil
}

// Search runs a KNN query against one namespace and hydrates candidates
// from the returned fields, vectors included. Results are sorted by
// similarity descending regardless of the reply order; thresholding is
// the caller's concern.
func (r *Repo) Search(
	ctx context.Context, kind domain.EmbeddingKind,
	vector []float32, k int, f query.Filter,
) ([]ranking.Candidate, error) {
	if _, ok := r.dims[kind]; !ok {
		return nil, fmt.Errorf("namespace %s not enabled", kind)
	}

	q := &db.KNNQuery{
		IndexName: indexName(kind),
		Vector:    vector,
		K:         k,
		Tags:      buildTags(f),
		// The vector field is addressed through its schema alias.
		ReturnFields: []string{
			fieldContent, "vector", "__vector_score",
			fieldDomain, fieldIntent, fieldProd, fieldSecurity, fieldTier,
			fieldSuccess, fieldUsage, fieldCreated,
		},
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", kind, err)
	}
	if sr == nil || sr.Total == 0 {
		return nil, nil
	}

	prefix := keyPrefix(kind)
	out := make([]ranking.Candidate, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		id := strings.TrimPrefix(entry.Key, prefix)
		if v, ok := entry.Fields["vector"]; ok {
			entry.Fields[fieldVector] = v
		}
		p := parseHashFields(id, kind, entry.Fields)
		out = append(out, ranking.NewCandidate(p, entry.Score, ranking.FromVectorSearch))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity() != out[j].Similarity() {
			return out[i].Similarity() > out[j].Similarity()
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

// SetFeedbackScore refreshes the cached feedback adjustment on the
// content-namespace hash.
func (r *Repo) SetFeedbackScore(ctx context.Context, patternID string, score float64) error {
	k := key(domain.KindContent, patternID)
	v := strconv.FormatFloat(score, 'f', 4, 64)
	if err := r.store.HSetField(ctx, k, fieldFeedback, v); err != nil {
		return fmt.Errorf("set feedback score %s: %w", patternID, err)
	}
	return nil
}

// Delete removes patterns from every enabled namespace. Used only by
// the external admin path, never during retrieval.
func (r *Repo) Delete(ctx context.Context, patternIDs ...string) error {
	for _, id := range patternIDs {
		for kind := range r.dims {
			if err := r.store.Del(ctx, key(kind, id)); err != nil {
				return fmt.Errorf("delete pattern %s from %s: %w", id, kind, err)
			}
		}
	}
	return nil
}

func buildTags(f query.Filter) []db.TagFilter {
	var tags []db.TagFilter
	if f.Domain != "" {
		tags = append(tags, db.TagFilter{Field: fieldDomain, Values: []string{f.Domain}})
	}
	if f.ProductionOnly {
		tags = append(tags, db.TagFilter{Field: fieldProd, Values: []string{"1"}})
	}
	return tags
}

func indexName(kind domain.EmbeddingKind) string {
	return domain.KeyPrefix + string(kind) + ":idx"
}

func keyPrefix(kind domain.EmbeddingKind) string {
	return domain.KeyPrefix + string(kind) + ":"
}

func key(kind domain.EmbeddingKind, id string) string {
	return keyPrefix(kind) + id
}
