package bulkimport

import "go.uber.org/atomic"

// RejectCounters tallies per-reason entry rejections across every worker
// sharing one run (spec §7: Parse/Semantic failures "never leave the
// package as errors ... converted to rejection counts").
type RejectCounters struct {
	malformed     atomic.Int64
	duplicateName atomic.Int64
	missingParent atomic.Int64
}

func (c *RejectCounters) Record(reason RejectReason) {
	switch reason {
	case RejectMalformed:
		c.malformed.Inc()
	case RejectDuplicateName:
		c.duplicateName.Inc()
	case RejectMissingParent:
		c.missingParent.Inc()
	}
}

// Snapshot returns the current counts keyed by reason, for the progress
// reporter's final summary.
func (c *RejectCounters) Snapshot() map[RejectReason]int64 {
	return map[RejectReason]int64{
		RejectMalformed:     c.malformed.Load(),
		RejectDuplicateName: c.duplicateName.Load(),
		RejectMissingParent: c.missingParent.Load(),
	}
}

func (c *RejectCounters) Total() int64 {
	return c.malformed.Load() + c.duplicateName.Load() + c.missingParent.Load()
}
