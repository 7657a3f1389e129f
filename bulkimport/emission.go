package bulkimport

// emitter is the shared "write a record into the right sort buffer"
// machinery used by both import workers (component G) and migration
// workers (component H), which the spec explicitly routes through "the
// same emission path" (spec §4.H). It owns one live SortBuffer per
// IndexKey, swapping in a fresh buffer from the pool and handing the full
// one to the sort executor whenever Put reports no room.
type emitter struct {
	pool     *BufferPool
	sortExec *SortExecutor
	store    KeyValueStore

	buffers map[indexKeyIdentity]*SortBuffer
	keys    map[indexKeyIdentity]IndexKey
}

func newEmitter(pool *BufferPool, sortExec *SortExecutor, store KeyValueStore) *emitter {
	return &emitter{
		pool:     pool,
		sortExec: sortExec,
		store:    store,
		buffers:  make(map[indexKeyIdentity]*SortBuffer),
		keys:     make(map[indexKeyIdentity]IndexKey),
	}
}

// Put writes one record, rotating buffers transparently on overflow.
func (e *emitter) Put(index IndexKey, key []byte, entryID uint64, op Op) error {
	id := index.identity()
	indexID := e.store.IndexID(index)

	buf, ok := e.buffers[id]
	if !ok {
		fresh, ok := e.pool.Get()
		if !ok {
			return newCancellationError(errImportAborted)
		}
		buf = fresh
		e.buffers[id] = buf
		e.keys[id] = index
	}

	if buf.Put(indexID, key, entryID, op) {
		return nil
	}

	if err := e.sortExec.Submit(index, buf); err != nil {
		return err
	}

	fresh, ok := e.pool.Get()
	if !ok {
		return newCancellationError(errImportAborted)
	}
	e.buffers[id] = fresh

	if !fresh.Put(indexID, key, entryID, op) {
		return newResourceError(errKeyLargerThanBuffer)
	}
	return nil
}

// Flush hands every buffer with at least one record to the sort
// executor, regardless of fullness — called once at end-of-stream so
// partially filled buffers aren't silently dropped.
func (e *emitter) Flush() error {
	for id, buf := range e.buffers {
		if buf.Len() == 0 {
			continue
		}
		if err := e.sortExec.Submit(e.keys[id], buf); err != nil {
			return err
		}
		delete(e.buffers, id)
	}
	return nil
}
