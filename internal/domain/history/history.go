// Package history holds read-only execution outcome aggregates.
package history

import "time"

// NeutralScore is the base feedback score when no history exists.
const NeutralScore = 0.5

// Sample is one recorded execution outcome for a pattern.
type Sample struct {
	Success     bool
	Timestamp   time.Time
	Duration    time.Duration
	MemoryBytes int64
}

// Aggregate is the per-pattern execution history snapshot.
// Samples are ordered most recent first.
type Aggregate struct {
	BaseScore float64
	HasBase   bool
	Samples   []Sample
}

// Base returns the long-run aggregate score, or the neutral default
// when none was recorded.
func (a *Aggregate) Base() float64 {
	if !a.HasBase {
		return NeutralScore
	}
	return a.BaseScore
}
