package bulkimport

import "go.uber.org/atomic"

// RunStats tallies the counts behind the universal invariant from spec
// §8 (entries read = loaded + rejected + ignored), plus Migrated. An
// entry admitted by a migration worker counts toward Read and Migrated
// rather than Loaded, so across a run Read = Loaded + Migrated + Rejected
// + Ignored. Migrated entries go through the same sort/merge path as
// loaded ones; the final summary only reports the two separately.
type RunStats struct {
	Read     atomic.Int64
	Loaded   atomic.Int64
	Migrated atomic.Int64
	Ignored  atomic.Int64
}

// Rejected is read off the run's RejectCounters rather than kept here,
// since that's the single source of truth for per-reason tallies.
type statsSnapshot struct {
	Read, Loaded, Migrated, Ignored, Rejected int64
}

func (s *RunStats) snapshot(rejects *RejectCounters) statsSnapshot {
	return statsSnapshot{
		Read:     s.Read.Load(),
		Loaded:   s.Loaded.Load(),
		Migrated: s.Migrated.Load(),
		Ignored:  s.Ignored.Load(),
		Rejected: rejects.Total(),
	}
}
