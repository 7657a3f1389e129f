package bulkimport

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/atomic"
)

// entryIDAllocator hands out the single totally-ordered sequence of
// EntryIDs a run assigns (spec §5: "EntryID assignment is totally
// ordered; assignment is the only operation requiring global
// serialization in Phase 1").
type entryIDAllocator struct {
	next atomic.Uint64
}

func (a *entryIDAllocator) Assign() uint64 {
	return a.next.Inc()
}

// ImportRun bundles the state shared by every import and migration
// worker in one Phase 1 run (spec §4.G, §4.H): the suffix table, the
// entryID sequence, per-suffix duplicate tracking, and the rejection
// tally.
type ImportRun struct {
	Suffixes           map[string]*Suffix // keyed by Suffix.Base.String()
	SkipNameValidation bool

	Registry IndexerRegistry
	Store    KeyValueStore
	Parents  ParentIndex // nil when SkipNameValidation is set

	Pool     *BufferPool
	SortExec *SortExecutor
	Rejects  *RejectCounters
	Stats    *RunStats

	ids      entryIDAllocator
	seen     map[string]*seenNames // keyed by Suffix.Base.String()
	inRunIDs sync.Map               // name.String() -> uint64, entries placed so far this run
}

// NewImportRun wires up the per-suffix duplicate trackers.
func NewImportRun(suffixes []*Suffix, skipNameValidation bool, registry IndexerRegistry, store KeyValueStore, parents ParentIndex, pool *BufferPool, sortExec *SortExecutor) *ImportRun {
	r := &ImportRun{
		Suffixes:           make(map[string]*Suffix, len(suffixes)),
		SkipNameValidation: skipNameValidation,
		Registry:           registry,
		Store:              store,
		Parents:            parents,
		Pool:               pool,
		SortExec:           sortExec,
		Rejects:            &RejectCounters{},
		Stats:              &RunStats{},
		seen:               make(map[string]*seenNames, len(suffixes)),
	}
	for _, s := range suffixes {
		key := s.Base.String()
		r.Suffixes[key] = s
		r.seen[key] = newSeenNames()
	}
	return r
}

// lookupParent resolves a parent name's entryID, preferring an entry
// placed earlier in this same run over the external ParentIndex (which
// only knows about entries already committed from a prior run, relevant
// to append-to-existing imports).
func (r *ImportRun) lookupParent(name Name) (uint64, bool) {
	if id, ok := r.inRunIDs.Load(name.String()); ok {
		return id.(uint64), true
	}
	if r.Parents == nil {
		return 0, false
	}
	return r.Parents.Lookup(name)
}

// ingest runs spec §4.G's per-entry steps 1–3 against one already-read
// Entry, using emit for step 3. It is shared verbatim by import workers
// (reading from the parser) and migration workers (reading from the
// source store) — the spec's "route through the same emission path".
func (r *ImportRun) ingest(em *emitter, suffix *Suffix, entry Entry) (RejectReason, error) {
	name := entry.Name

	var immediateParent Name
	haveParent := false

	if !r.SkipNameValidation {
		parent, ok := ParentWithinBase(name, suffix.Base)
		if ok {
			// The suffix's own base is the container root: it is the
			// implicit parent of everything directly beneath it and
			// never needs a lookup of its own.
			if !parent.Equal(suffix.Base) {
				if _, found := r.lookupParent(parent); !found {
					return RejectMissingParent, nil
				}
			}
			immediateParent = parent
			haveParent = true
		}
	}

	if !r.seen[suffix.Base.String()].MarkIfNew(name) {
		return RejectDuplicateName, nil
	}

	entryID := r.ids.Assign()
	r.inRunIDs.Store(name.String(), entryID)

	namingKey := IndexKey{Kind: IndexNaming}
	if err := em.Put(namingKey, ToSortedBytes(name), entryID, OpInsert); err != nil {
		return RejectNone, err
	}

	if haveParent {
		childrenKey := IndexKey{Kind: IndexChildren}
		if err := em.Put(childrenKey, ToSortedBytes(immediateParent), entryID, OpInsert); err != nil {
			return RejectNone, err
		}

		subtreeKey := IndexKey{Kind: IndexSubtree}
		for ancestor := name; ; {
			p, ok := ParentWithinBase(ancestor, suffix.Base)
			if !ok {
				break
			}
			if err := em.Put(subtreeKey, ToSortedBytes(p), entryID, OpInsert); err != nil {
				return RejectNone, err
			}
			ancestor = p
		}
	}

	for attr := range entry.Attributes {
		for _, idx := range r.Registry.IndexesFor(attr) {
			for _, keyBytes := range r.Registry.KeysFor(idx, entry) {
				if err := em.Put(idx, keyBytes, entryID, OpInsert); err != nil {
					return RejectNone, err
				}
			}
		}
	}

	return RejectNone, nil
}

// ImportWorker is one of the pool of W workers competing over the shared
// EntrySource (spec §4.G).
type ImportWorker struct {
	Run    *ImportRun
	Source EntrySource
}

// Task adapts the worker to pool.Task so the orchestrator can submit it
// directly to an import pool.
func (w *ImportWorker) Task(ctx context.Context) error {
	em := newEmitter(w.Run.Pool, w.Run.SortExec, w.Run.Store)

	for {
		select {
		case <-ctx.Done():
			w.Run.Pool.Abort()
			return newCancellationError(ctx.Err())
		default:
		}

		entry, base, err := w.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return newStoreError(err)
		}
		w.Run.Stats.Read.Inc()

		suffix, ok := w.Run.Suffixes[base.String()]
		if !ok {
			w.Run.Stats.Ignored.Inc()
			continue
		}

		reason, ingestErr := w.Run.ingest(em, suffix, entry)
		if ingestErr != nil {
			return ingestErr
		}
		if reason != RejectNone {
			w.Run.Rejects.Record(reason)
		} else {
			w.Run.Stats.Loaded.Inc()
		}
	}

	return em.Flush()
}
