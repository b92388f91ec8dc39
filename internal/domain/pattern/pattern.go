// Package pattern holds the validated content item aggregate.
package pattern

import (
	"fmt"
	"regexp"
	"time"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxContentSize is the maximum pattern content size in bytes.
const MaxContentSize = 163840 // 160KB

// SecurityLevel classifies how much review a pattern received before storage.
type SecurityLevel string

const (
	// SecurityLow marks patterns stored without a security review.
	SecurityLow SecurityLevel = "low"
	// SecurityStandard marks patterns that passed the default review.
	SecurityStandard SecurityLevel = "standard"
	// SecurityElevated marks patterns vetted for sensitive contexts.
	SecurityElevated SecurityLevel = "elevated"
)

// PerformanceTier classifies the measured runtime profile of a pattern.
type PerformanceTier string

const (
	// TierBasic is the default tier for unmeasured patterns.
	TierBasic PerformanceTier = "basic"
	// TierStandard marks patterns within the platform's latency budget.
	TierStandard PerformanceTier = "standard"
	// TierOptimized marks patterns tuned below half the latency budget.
	TierOptimized PerformanceTier = "optimized"
)

// ValidSecurityLevel reports whether s is a known security level.
func ValidSecurityLevel(s SecurityLevel) bool {
	switch s {
	case SecurityLow, SecurityStandard, SecurityElevated:
		return true
	}
	return false
}

// ValidPerformanceTier reports whether t is a known performance tier.
func ValidPerformanceTier(t PerformanceTier) bool {
	switch t {
	case TierBasic, TierStandard, TierOptimized:
		return true
	}
	return false
}

// Metadata carries the ranking-relevant attributes of a pattern.
type Metadata struct {
	Domain          string
	Intent          string
	SuccessRate     float64
	UsageCount      int64
	ProductionReady bool
	SecurityLevel   SecurityLevel
	PerformanceTier PerformanceTier
	CreatedAt       time.Time
}

// Pattern is the stored content item aggregate (immutable value object).
// The core mutates only the storage-side usage counter and the cached
// feedback score; both live outside this value.
type Pattern struct {
	id          string
	content     string
	meta        Metadata
	contentVec  []float32
	semanticVec []float32
}

// New validates and creates a Pattern. The storage success-rate bar is
// enforced by the ingestion service, not here; this only checks shape.
func New(id, content string, meta Metadata) (Pattern, error) {
	if id == "" {
		return Pattern{}, fmt.Errorf("pattern ID is required")
	}
	if len(id) > 256 {
		return Pattern{}, fmt.Errorf("pattern ID too long (max 256)")
	}
	if !idRegex.MatchString(id) {
		return Pattern{}, fmt.Errorf("pattern ID must be alphanumeric with underscores and hyphens")
	}
	if content == "" {
		return Pattern{}, fmt.Errorf("content is required")
	}
	if len(content) > MaxContentSize {
		return Pattern{}, fmt.Errorf("content too large (max %d bytes)", MaxContentSize)
	}
	if meta.SuccessRate < 0 || meta.SuccessRate > 1 {
		return Pattern{}, fmt.Errorf("success rate %f out of range [0,1]", meta.SuccessRate)
	}
	if meta.UsageCount < 0 {
		return Pattern{}, fmt.Errorf("usage count must be non-negative")
	}
	if meta.SecurityLevel == "" {
		meta.SecurityLevel = SecurityStandard
	}
	if !ValidSecurityLevel(meta.SecurityLevel) {
		return Pattern{}, fmt.Errorf("unknown security level %q", meta.SecurityLevel)
	}
	if meta.PerformanceTier == "" {
		meta.PerformanceTier = TierBasic
	}
	if !ValidPerformanceTier(meta.PerformanceTier) {
		return Pattern{}, fmt.Errorf("unknown performance tier %q", meta.PerformanceTier)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	return Pattern{id: id, content: content, meta: meta}, nil
}

// Reconstruct creates a Pattern without validation (storage hydration).
func Reconstruct(id, content string, meta Metadata, contentVec, semanticVec []float32) Pattern {
	return Pattern{
		id:          id,
		content:     content,
		meta:        meta,
		contentVec:  contentVec,
		semanticVec: semanticVec,
	}
}

// ID returns the pattern identifier.
func (p *Pattern) ID() string { return p.id }

// Content returns the pattern text content.
func (p *Pattern) Content() string { return p.content }

// Metadata returns the ranking-relevant attributes.
func (p *Pattern) Metadata() Metadata { return p.meta }

// Domain returns the pattern's domain tag.
func (p *Pattern) Domain() string { return p.meta.Domain }

// Intent returns the pattern's intent tag.
func (p *Pattern) Intent() string { return p.meta.Intent }

// SuccessRate returns the validation-time success rate.
func (p *Pattern) SuccessRate() float64 { return p.meta.SuccessRate }

// UsageCount returns the usage counter snapshot loaded from storage.
func (p *Pattern) UsageCount() int64 { return p.meta.UsageCount }

// ProductionReady reports whether the pattern is validated for shipped output.
func (p *Pattern) ProductionReady() bool { return p.meta.ProductionReady }

// ContentVector returns the fine-grained embedding.
func (p *Pattern) ContentVector() []float32 { return p.contentVec }

// SemanticVector returns the coarse embedding.
func (p *Pattern) SemanticVector() []float32 { return p.semanticVec }

// SetVectors attaches embeddings after vectorization.
func (p *Pattern) SetVectors(contentVec, semanticVec []float32) {
	p.contentVec = contentVec
	p.semanticVec = semanticVec
}
