package memory

import (
	"math"

	"github.com/rcliao/memtier/internal/model"
)

// overlapRatio returns |shared| / |union| of two entity sets.
// Two empty sets share nothing: the ratio is 0, not 1.
func overlapRatio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	set := make(map[string]bool, len(a))
	for _, e := range a {
		set[e] = true
	}

	shared := 0
	seen := make(map[string]bool, len(b))
	for _, e := range b {
		if seen[e] {
			continue
		}
		seen[e] = true
		if set[e] {
			shared++
		}
	}

	union := len(set) + len(seen) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// buildConnections links a new record to every active record it relates
// to: strong entity overlap alone, or moderate overlap combined with a
// similar emotional valence. The rule runs at insertion time only and is
// never applied retroactively to archived records.
func (m *Manager) buildConnections(rec *model.Record, existing []model.Record) {
	for i := range existing {
		ex := &existing[i]
		if ex.ID == rec.ID {
			continue
		}
		ratio := overlapRatio(rec.Entities, ex.Entities)
		valenceClose := math.Abs(rec.Valence-ex.Valence) < m.cfg.ConnectValenceWindow

		if ratio > m.cfg.ConnectOverlapStrong || (ratio > m.cfg.ConnectOverlapWeak && valenceClose) {
			rec.AddConnection(ex.ID)
		}
	}
}

// recallScore ranks recall results: recency dominates, but strong
// emotional magnitude can outrank a slightly older neutral record by up
// to ~1000 seconds-equivalent.
func recallScore(r *model.Record) float64 {
	return float64(r.Timestamp.Unix()) + math.Abs(r.Valence)*1000
}
