package retrieval

import (
	"fmt"
	"strings"
)

// ThresholdResolver maps a domain label to a similarity cutoff.
// The table is immutable after construction and the lookup is total:
// unknown or empty domains resolve to the global default.
type ThresholdResolver struct {
	table map[string]float64
	def   float64
}

// NewThresholdResolver validates the table once and fails fast on
// malformed entries. Keys are matched case-insensitively.
func NewThresholdResolver(table map[string]float64, def float64) (*ThresholdResolver, error) {
	if def < 0 || def > 1 {
		return nil, fmt.Errorf("default threshold %f out of range [0,1]", def)
	}

	normalized := make(map[string]float64, len(table))
	for k, v := range table {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("threshold for domain %q is %f, want [0,1]", k, v)
		}
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			return nil, fmt.Errorf("threshold table contains an empty domain key")
		}
		normalized[key] = v
	}

	return &ThresholdResolver{table: normalized, def: def}, nil
}

// Resolve returns the cutoff for a domain. Never fails.
func (r *ThresholdResolver) Resolve(domain string) float64 {
	if v, ok := r.table[strings.ToLower(strings.TrimSpace(domain))]; ok {
		return v
	}
	return r.def
}
