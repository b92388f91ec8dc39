package index

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/pattern"
)

// Hash field names shared by both namespaces. Double-underscore fields
// are internal; the rest are indexed metadata.
const (
	fieldContent  = "__content"
	fieldVector   = "__vector"
	fieldDomain   = "domain"
	fieldIntent   = "intent"
	fieldProd     = "production"
	fieldSecurity = "security"
	fieldTier     = "tier"
	fieldSuccess  = "success_rate"
	fieldUsage    = "usage_count"
	fieldCreated  = "created_at"
	fieldFeedback = "feedback_score"
)

// buildHashFields flattens a Pattern into HSET fields for one namespace.
func buildHashFields(p *pattern.Pattern, kind domain.EmbeddingKind) map[string]string {
	vec := p.ContentVector()
	if kind == domain.KindSemantic {
		vec = p.SemanticVector()
	}

	meta := p.Metadata()
	prod := "0"
	if meta.ProductionReady {
		prod = "1"
	}

	return map[string]string{
		fieldContent:  p.Content(),
		fieldVector:   vectorToBytes(vec),
		fieldDomain:   meta.Domain,
		fieldIntent:   meta.Intent,
		fieldProd:     prod,
		fieldSecurity: string(meta.SecurityLevel),
		fieldTier:     string(meta.PerformanceTier),
		fieldSuccess:  strconv.FormatFloat(meta.SuccessRate, 'f', -1, 64),
		fieldUsage:    strconv.FormatInt(meta.UsageCount, 10),
		fieldCreated:  strconv.FormatInt(meta.CreatedAt.Unix(), 10),
	}
}

// parseHashFields hydrates a Pattern from one namespace's hash fields.
// The vector lands on the slot matching the namespace it came from.
func parseHashFields(id string, kind domain.EmbeddingKind, m map[string]string) pattern.Pattern {
	meta := pattern.Metadata{
		Domain:          m[fieldDomain],
		Intent:          m[fieldIntent],
		ProductionReady: m[fieldProd] == "1",
		SecurityLevel:   pattern.SecurityLevel(m[fieldSecurity]),
		PerformanceTier: pattern.PerformanceTier(m[fieldTier]),
	}
	if v, err := strconv.ParseFloat(m[fieldSuccess], 64); err == nil {
		meta.SuccessRate = v
	}
	if v, err := strconv.ParseInt(m[fieldUsage], 10, 64); err == nil {
		meta.UsageCount = v
	}
	if v, err := strconv.ParseInt(m[fieldCreated], 10, 64); err == nil {
		meta.CreatedAt = time.Unix(v, 0).UTC()
	}

	vec := bytesToVector(m[fieldVector])
	var contentVec, semanticVec []float32
	if kind == domain.KindSemantic {
		semanticVec = vec
	} else {
		contentVec = vec
	}

	return pattern.Reconstruct(id, m[fieldContent], meta, contentVec, semanticVec)
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
