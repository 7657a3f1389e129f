package bulkimport

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

const (
	mib = 1 << 20
	kib = 1 << 10

	phase1StoreCacheCap    = 128 * mib
	phase1LogBufferCap     = 100 * mib
	phase1FallbackCache    = 16 * mib
	phase1BufferFloor      = 100 * kib
	phase1BufferCeiling    = 48 * mib
	minimumAvailableMemory = 16 * mib

	phase2ReadAheadFloor = 4 * kib
)

// MemoryPlan is the set of sizes the Memory planner (spec §4.D) derives
// once, at Phase 1 startup, from the available process memory.
type MemoryPlan struct {
	StoreCacheBytes int64
	LogBufferBytes  int64 // 0 means "log buffer disabled"
	SortBufferBytes int64

	// Warnings accumulates advisory messages (e.g. the floor clamp) the
	// progress reporter logs at startup; it never changes the plan.
	Warnings []string
}

// PlanMemory implements spec §4.D exactly, including its two fallback
// steps. available is the total memory the planner is allowed to assume
// (typically the container/cgroup limit or runtime.MemStats' Sys).
func PlanMemory(available int64, numIndexes, workerCount int) (*MemoryPlan, error) {
	if available < minimumAvailableMemory {
		return nil, newResourceError(errMemoryTooLow(available))
	}

	buffers := int64(2 * numIndexes * workerCount)
	if buffers <= 0 {
		buffers = 1
	}

	plan := &MemoryPlan{}

	storeCache := minInt64(phase1StoreCacheCap, available)
	logBuf := minInt64(phase1LogBufferCap, available)
	bufSize := (available*45/100 - storeCache - logBuf) / buffers

	if bufSize < phase1BufferFloor {
		// Fallback 1: shrink the store cache and disable the log buffer,
		// then re-solve.
		storeCache = minInt64(phase1FallbackCache, available)
		logBuf = 0
		bufSize = (available*45/100 - storeCache - logBuf) / buffers

		if bufSize < phase1BufferFloor {
			// Fallback 2: clamp to the floor and warn.
			bufSize = phase1BufferFloor
			plan.Warnings = append(plan.Warnings, floorWarning(available))
		}
	}

	bufSize = clampInt64(bufSize, phase1BufferFloor, phase1BufferCeiling)

	plan.StoreCacheBytes = storeCache
	plan.LogBufferBytes = logBuf
	plan.SortBufferBytes = bufSize

	return plan, nil
}

// Phase2ReadAheadCache computes the per-run read-ahead cache size Phase 2
// splits its own, separately-computed free-memory budget into (spec
// §4.D): half of available memory divided equally among all runs,
// floored at 4KiB and capped at the Phase 1 sort-buffer size.
func Phase2ReadAheadCache(available int64, runCount int, phase1BufSize int64) int64 {
	if runCount <= 0 {
		runCount = 1
	}
	per := (available * 50 / 100) / int64(runCount)
	return clampInt64(per, phase2ReadAheadFloor, phase1BufSize)
}

// DirectBufferPerRun divides a configured direct-buffer-size slab evenly
// across every spill run Phase 2 opens, floored at 4KiB and capped at the
// Phase 1 sort-buffer size — the direct-buffer-size counterpart of
// Phase2ReadAheadCache, used instead of it when the operator pinned
// direct-buffer-size in the configuration (spec §6).
func DirectBufferPerRun(directSize int64, runCount int, phase1BufSize int64) int64 {
	if runCount <= 0 {
		runCount = 1
	}
	per := directSize / int64(runCount)
	return clampInt64(per, phase2ReadAheadFloor, phase1BufSize)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func errMemoryTooLow(available int64) error {
	return fmt.Errorf("available memory %s is below the %s minimum required to run an import",
		humanize.IBytes(uint64(available)), humanize.IBytes(uint64(minimumAvailableMemory)))
}

func floorWarning(available int64) string {
	return fmt.Sprintf("sort-buffer size floored at %s even after the fallback store-cache/log-buffer shrink; available memory (%s) is very tight for this worker/index count",
		humanize.IBytes(uint64(phase1BufferFloor)), humanize.IBytes(uint64(available)))
}
