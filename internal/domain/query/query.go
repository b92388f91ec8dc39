// Package query holds the validated retrieval request value object.
package query

import (
	"fmt"
	"strings"

	"github.com/reuseware/patterndex/internal/domain"
)

// MaxTopK bounds the requested result count.
const MaxTopK = 100

// Query is a validated retrieval request.
type Query struct {
	purpose        string
	domain         string
	intent         string
	topK           int
	productionOnly bool
}

// New validates and creates a Query. Validation happens before any
// external call: empty purpose and non-positive topK are rejected here.
func New(purpose, dom, intent string, topK int, productionOnly bool) (Query, error) {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return Query{}, fmt.Errorf("purpose is required: %w", domain.ErrInvalidQuery)
	}
	if topK <= 0 {
		return Query{}, fmt.Errorf("top_k must be positive, got %d: %w", topK, domain.ErrInvalidQuery)
	}
	if topK > MaxTopK {
		return Query{}, fmt.Errorf("top_k too large (max %d): %w", MaxTopK, domain.ErrInvalidQuery)
	}

	return Query{
		purpose:        purpose,
		domain:         strings.ToLower(strings.TrimSpace(dom)),
		intent:         strings.TrimSpace(intent),
		topK:           topK,
		productionOnly: productionOnly,
	}, nil
}

// Purpose returns the natural-language task description.
func (q *Query) Purpose() string { return q.purpose }

// Domain returns the lowercased domain tag, empty when unset.
func (q *Query) Domain() string { return q.domain }

// Intent returns the intent tag, empty when unset.
func (q *Query) Intent() string { return q.intent }

// TopK returns the requested result count.
func (q *Query) TopK() int { return q.topK }

// ProductionOnly reports whether only production-ready patterns qualify.
func (q *Query) ProductionOnly() bool { return q.productionOnly }

// Filter is the metadata pre-filter applied by the vector index.
type Filter struct {
	Domain         string
	ProductionOnly bool
}

// Filter returns the index pre-filter derived from the query.
func (q *Query) Filter() Filter {
	return Filter{Domain: q.domain, ProductionOnly: q.productionOnly}
}

// FilterSet returns a canonical string form of the active filters,
// used as part of cache keys.
func (q *Query) FilterSet() string {
	parts := make([]string, 0, 2)
	if q.domain != "" {
		parts = append(parts, "domain="+q.domain)
	}
	if q.productionOnly {
		parts = append(parts, "production_only")
	}
	return strings.Join(parts, ",")
}
