package bulkimport

import (
	"context"
	"errors"
	"io"
)

// SourceEntries streams entries out of the source container during a
// migration — the collaborator migration workers read from instead of
// the shared parser (spec §4.H).
type SourceEntries interface {
	Next(ctx context.Context) (entry Entry, ok bool, err error)
	Close() error
}

// MigrationWorker streams entries from a source container through the
// same emission path as ImportWorker (spec §4.H): "Rationale:
// include/exclude are declared against the source tree; everything that
// must survive is fed through the same pipeline so all indexes are
// built consistently." filter decides which source entries this
// particular migration pass is responsible for — "NOT under any include
// branch" for the pre-import pass, "under any exclude branch" for the
// post-import pass.
type MigrationWorker struct {
	Run    *ImportRun
	Suffix *Suffix
	Source SourceEntries
	Filter func(name Name) bool
}

// Task adapts the worker to pool.Task. It closes Source on every exit
// path (spec §5 Resource release: "Cursors over the source store are
// closed on every exit path including errors").
func (w *MigrationWorker) Task(ctx context.Context) error {
	defer w.Source.Close()

	em := newEmitter(w.Run.Pool, w.Run.SortExec, w.Run.Store)

	for {
		select {
		case <-ctx.Done():
			w.Run.Pool.Abort()
			return newCancellationError(ctx.Err())
		default:
		}

		entry, ok, err := w.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return newStoreError(err)
		}
		if !ok {
			break
		}

		if !w.Filter(entry.Name) {
			continue
		}
		w.Run.Stats.Read.Inc()

		reason, ingestErr := w.Run.ingest(em, w.Suffix, entry)
		if ingestErr != nil {
			return ingestErr
		}
		if reason != RejectNone {
			w.Run.Rejects.Record(reason)
		} else {
			w.Run.Stats.Migrated.Inc()
		}
	}

	return em.Flush()
}

// UnderAnyBranch reports whether name is at or under any of branches —
// the shared predicate for both migration filters (spec §4.H).
func UnderAnyBranch(name Name, branches []Name) bool {
	for _, b := range branches {
		if name.Equal(b) || IsAncestorOf(b, name) {
			return true
		}
	}
	return false
}

// NotUnderIncludes builds the pre-import migration filter: entries NOT
// under any include branch.
func NotUnderIncludes(suffix *Suffix) func(Name) bool {
	return func(name Name) bool {
		return !UnderAnyBranch(name, suffix.IncludeBranches)
	}
}

// UnderExcludes builds the post-import migration filter: entries under
// any exclude branch (the survivors of an excluded subtree).
func UnderExcludes(suffix *Suffix) func(Name) bool {
	return func(name Name) bool {
		return UnderAnyBranch(name, suffix.ExcludeBranches)
	}
}
