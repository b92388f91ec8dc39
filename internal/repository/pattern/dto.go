package pattern

import (
	"strconv"
	"time"

	dompat "github.com/reuseware/patterndex/internal/domain/pattern"
)

// hydrate rebuilds a Pattern from content-namespace hash fields.
// Vectors are omitted; callers needing them go through the index repo.
func hydrate(id string, m map[string]string) dompat.Pattern {
	meta := dompat.Metadata{
		Domain:          m["domain"],
		Intent:          m["intent"],
		ProductionReady: m["production"] == "1",
		SecurityLevel:   dompat.SecurityLevel(m["security"]),
		PerformanceTier: dompat.PerformanceTier(m["tier"]),
	}
	if v, err := strconv.ParseFloat(m["success_rate"], 64); err == nil {
		meta.SuccessRate = v
	}
	if v, err := strconv.ParseInt(m["usage_count"], 10, 64); err == nil {
		meta.UsageCount = v
	}
	if v, err := strconv.ParseInt(m["created_at"], 10, 64); err == nil {
		meta.CreatedAt = time.Unix(v, 0).UTC()
	}
	return dompat.Reconstruct(id, m["__content"], meta, nil, nil)
}
