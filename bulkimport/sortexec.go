package bulkimport

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/WrenArchiver/opendj-sdk/bulkimport/pool"
)

// SortExecutor is component F: a bounded pool, sized to the worker count,
// that sorts filled buffers handed to it by import/migration workers and
// routes each to the single spill-run writer responsible for that
// buffer's IndexKey (spec §4.F). One RunWriter (and its drain goroutine)
// is created per IndexKey the first time a buffer for that key arrives;
// creation is guarded so concurrent first-arrivals for the same key don't
// race each other into creating two writers.
type SortExecutor struct {
	pool  *pool.Pool
	store KeyValueStore

	tempDir  string
	compress bool

	mu      sync.Mutex
	writers map[indexKeyIdentity]*writerEntry
}

type writerEntry struct {
	key    IndexKey
	ch     chan *SortBuffer
	writer *RunWriter
	done   chan error
}

// NewSortExecutor starts a pool of `workers` sort goroutines.
func NewSortExecutor(ctx context.Context, store KeyValueStore, tempDir string, compress bool, workers int) *SortExecutor {
	return &SortExecutor{
		pool:     pool.New(ctx, "sort-executor", workers, workers*2),
		store:    store,
		tempDir:  tempDir,
		compress: compress,
		writers:  make(map[indexKeyIdentity]*writerEntry),
	}
}

// Context is the executor pool's cancellation context; callers (the
// import/migration workers) stop producing buffers once it's done.
func (se *SortExecutor) Context() context.Context {
	return se.pool.Context()
}

// Submit enqueues buf (already full, still in APPEND mode) for sorting
// and handoff to key's run writer.
func (se *SortExecutor) Submit(key IndexKey, buf *SortBuffer) error {
	return se.pool.Submit(func(ctx context.Context) error {
		buf.SetComparator(se.store.Comparator(key))
		buf.Sort()

		entry := se.writerFor(ctx, key)
		select {
		case entry.ch <- buf:
			return nil
		case <-ctx.Done():
			return newCancellationError(ctx.Err())
		}
	})
}

// writerFor returns the RunWriter handling key, creating it (and its
// drain goroutine) on first use.
func (se *SortExecutor) writerFor(ctx context.Context, key IndexKey) *writerEntry {
	id := key.identity()

	se.mu.Lock()
	entry, ok := se.writers[id]
	if !ok {
		ch := make(chan *SortBuffer, 4)
		writer := NewRunWriter(key, se.store.IndexEntryLimit(key), se.store.MaintainCount(key), se.tempDir, se.compress, ch)
		entry = &writerEntry{key: key, ch: ch, writer: writer, done: make(chan error, 1)}
		se.writers[id] = entry
		go func() {
			entry.done <- writer.Run(se.pool.Context())
		}()
	}
	se.mu.Unlock()

	return entry
}

// Close stops accepting new buffers, signals every live writer to drain
// and exit, and returns the accumulated per-index run lists plus the
// first error seen across all writers.
func (se *SortExecutor) Close() (map[IndexKey][]runInfo, error) {
	poolErr := se.pool.Close()

	se.mu.Lock()
	entries := make([]*writerEntry, 0, len(se.writers))
	for _, e := range se.writers {
		entries = append(entries, e)
	}
	se.mu.Unlock()

	var errs error
	if poolErr != nil {
		errs = multierr.Append(errs, poolErr)
	}

	runs := make(map[IndexKey][]runInfo, len(entries))
	for _, e := range entries {
		var err error
		select {
		case e.ch <- NewPoisonBuffer():
			close(e.ch)
			err = <-e.done
		case err = <-e.done:
			// Writer already exited (e.g. cancelled) before it could be sent
			// the poison buffer; nothing left to close into.
		}

		if err != nil {
			errs = multierr.Append(errs, err)
		}
		runs[e.key] = e.writer.Runs()
	}

	return runs, errs
}
