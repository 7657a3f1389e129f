package bulkimport

import (
	"bufio"
	"container/heap"
	"context"
	"io"
	"os"

	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"
)

// directSlab is a single contiguous allocation sliced into per-merger
// read-ahead views via offset+length (spec §9's direct-memory buffer
// sharing redesign note: "a single contiguous off-heap slab is sliced
// into per-merger views via offset+length handles"). A plain Go slice
// stands in for the off-heap allocation here — real off-heap memory
// needs cgo/unsafe, which nothing else in this stack reaches for; what
// matters for the redesign note is the single allocation carved into
// views, not literal GC-exempt storage.
type directSlab struct {
	buf []byte
	off int
}

func newDirectSlab(size int64) *directSlab {
	return &directSlab{buf: make([]byte, size)}
}

// view carves the next n bytes out of the slab, clamped to whatever is
// left. Ownership is scoped to the Phase 2 driver that created the slab;
// every view is invalidated once that driver's mergers finish (spec §9).
func (d *directSlab) view(n int) []byte {
	remaining := len(d.buf) - d.off
	if n > remaining {
		n = remaining
	}
	if n <= 0 {
		return nil
	}
	v := d.buf[d.off : d.off+n]
	d.off += n
	return v
}

// slabBufReader buffers reads from src into a caller-supplied buffer
// instead of one it allocates itself, so a directSlab's view is the
// actual read-ahead storage rather than just a size hint. Degrades to a
// plain passthrough when buf is empty (a fully carved-up slab).
type slabBufReader struct {
	src  io.Reader
	buf  []byte
	r, w int
}

func newSlabBufReader(src io.Reader, buf []byte) *slabBufReader {
	return &slabBufReader{src: src, buf: buf}
}

func (s *slabBufReader) Read(p []byte) (int, error) {
	if s.r == s.w {
		if len(s.buf) == 0 || len(p) >= len(s.buf) {
			return s.src.Read(p)
		}
		s.r, s.w = 0, 0
		n, err := s.src.Read(s.buf)
		s.w = n
		if n == 0 {
			return 0, err
		}
	}
	n := copy(p, s.buf[s.r:s.w])
	s.r += n
	return n, nil
}

// runCursor is a read-ahead cursor over one spill-run file — friggdb's
// compactor "bookmark" (compactor_bookmark.go), generalized from a
// single next-ID lookahead to a full decoded runRecord, and paired here
// with the tournament-tree heap ordering from the other pack example
// (tournament_sort.go's runHeap/heapItem) instead of friggdb's linear
// "find lowest of N" scan — with potentially hundreds of runs per index,
// a heap keeps each pop at O(log runs) instead of O(runs).
type runCursor struct {
	f      *os.File
	reader io.Reader

	limit         int
	maintainCount bool

	current   *runRecord
	exhausted bool
}

// openRunCursor opens one spill run with a read-ahead cache of cacheBytes.
// When slab is non-nil (direct-buffer-size configured, spec §6) the cache
// is a view carved from that shared allocation; otherwise it is an
// ordinary on-heap bufio.Reader sized to cacheBytes.
func openRunCursor(info runInfo, limit int, maintainCount bool, cacheBytes int64, slab *directSlab) (*runCursor, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening spill run %s", info.Path)
	}

	var src io.Reader = f
	if info.Compressed {
		src = s2.NewReader(f)
	}

	var reader io.Reader
	if slab != nil {
		reader = newSlabBufReader(src, slab.view(int(cacheBytes)))
	} else {
		reader = bufio.NewReaderSize(src, int(cacheBytes))
	}

	c := &runCursor{f: f, reader: reader, limit: limit, maintainCount: maintainCount}
	if err := c.advance(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// advance reads the next record into current, marking exhausted on a
// clean end-of-file.
func (c *runCursor) advance() error {
	rec, err := readRunRecord(c.reader, c.limit, c.maintainCount)
	if err != nil {
		c.current = nil
		c.exhausted = true
		if err == io.EOF {
			return nil
		}
		return err
	}
	c.current = rec
	return nil
}

func (c *runCursor) Close() error {
	return c.f.Close()
}

// mergeHeapItem is one run's current head record, ordered by the
// index's comparator over (key, indexID) — spec §4.I.
type mergeHeapItem struct {
	cursor *runCursor
}

type mergeHeap struct {
	items []*mergeHeapItem
	cmp   Comparator
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.items[i].cursor.current, h.items[j].cursor.current
	c := compareKeys(h.cmp, a.Key, b.Key)
	if c != 0 {
		return c < 0
	}
	return a.IndexID < b.IndexID
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(*mergeHeapItem)) }

func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func compareKeys(cmp Comparator, a, b []byte) int {
	if cmp != nil {
		return cmp(a, b)
	}
	return defaultComparator(a, b)
}

// RunMerger is component I: the k-way merge of every spill run written
// for one IndexKey. When NamingRouter is non-nil, the merge instead
// drives component J (the naming-index merger): each merged key is
// expected to resolve to exactly one ID (duplicate names were already
// rejected before Phase 1 ever wrote a run record), and is routed to
// whichever suffix's NamingMerger owns it instead of being flushed as an
// ID-set union. NAMING run files are shared across every suffix in one
// run (spec §4.A: IndexKey identity is (attribute, kind) only — there is
// one NAMING stream for the whole run), but the parent-table reconstruction
// itself must stay single-threaded per suffix (spec §5: "distinct suffixes
// have distinct [naming] mergers"), hence the router indirection instead
// of a single embedded NamingMerger. Without a NamingRouter, a NAMING
// key's single ID is written with KeyValueStore.Put.
type RunMerger struct {
	Index         IndexKey
	Runs          []runInfo
	Limit         int
	MaintainCount bool
	Comparator    Comparator
	Store         KeyValueStore

	NamingRouter  func(name Name) *NamingMerger
	NamingMergers []*NamingMerger // the distinct mergers NamingRouter can return, flushed once each at the end

	// CacheBytes is the per-run read-ahead cache size the orchestrator
	// computed for this run (spec §4.D / §6). Slab is non-nil only when
	// direct-buffer-size was configured, in which case CacheBytes is a view
	// carved from Slab rather than an independent on-heap allocation.
	CacheBytes int64
	Slab       *directSlab
}

// Merge drains every run for m.Index in sorted order, applying at most one
// Delete followed by at most one Insert to the store per distinct (key,
// indexID) — spec §4.I's central invariant; each empty set is skipped, and
// a NAMING key gets one Put instead. On success it deletes every consumed
// run file; on failure it leaves them for diagnosis (spec §5 Resource
// release).
func (m *RunMerger) Merge(ctx context.Context) error {
	cursors := make([]*runCursor, 0, len(m.Runs))
	defer func() {
		for _, c := range cursors {
			c.Close()
		}
	}()

	h := &mergeHeap{cmp: m.Comparator}
	for _, info := range m.Runs {
		c, err := openRunCursor(info, m.Limit, m.MaintainCount, m.CacheBytes, m.Slab)
		if err != nil {
			return newStoreError(err)
		}
		cursors = append(cursors, c)
		if !c.exhausted {
			heap.Push(h, &mergeHeapItem{cursor: c})
		}
	}

	var (
		have       bool
		accKey     []byte
		accIndexID uint32
		accInsert  *IDSet
		accDelete  *IDSet
	)

	// flush applies the accumulated deletions before insertions for the
	// current key (spec §4.I), so an ID that this import both removes and
	// adds under one key ends up present: the insert is what survives.
	// NAMING keys are written with a single Put of their one ID instead.
	flush := func() error {
		if !have {
			return nil
		}
		if m.NamingRouter != nil {
			id, ok := accInsert.SoleMember()
			if !ok {
				return errors.Errorf("naming index key %q did not merge down to exactly one id", accKey)
			}
			name := FromSortedBytes(accKey)
			merger := m.NamingRouter(name)
			if merger == nil {
				return errors.Errorf("naming index key %q does not belong to any known suffix", accKey)
			}
			return merger.Process(ctx, name, id)
		}
		if m.Index.Kind == IndexNaming {
			id, ok := accInsert.SoleMember()
			if !ok {
				return errors.Errorf("naming index key %q did not merge down to exactly one id", accKey)
			}
			return m.Store.Put(ctx, m.Index, accKey, id)
		}
		if !accDelete.IsDefined() || accDelete.Size() > 0 {
			if err := m.Store.Delete(ctx, m.Index, accKey, accDelete); err != nil {
				return err
			}
		}
		if !accInsert.IsDefined() || accInsert.Size() > 0 {
			if err := m.Store.Insert(ctx, m.Index, accKey, accInsert); err != nil {
				return err
			}
		}
		return nil
	}

	for h.Len() > 0 {
		select {
		case <-ctx.Done():
			return newCancellationError(ctx.Err())
		default:
		}

		item := heap.Pop(h).(*mergeHeapItem)
		rec := item.cursor.current

		if have && rec.IndexID == accIndexID && compareKeys(m.Comparator, rec.Key, accKey) == 0 {
			accInsert.Merge(rec.Insert)
			accDelete.Merge(rec.Delete)
		} else {
			if err := flush(); err != nil {
				return newStoreError(err)
			}
			accKey = rec.Key
			accIndexID = rec.IndexID
			accInsert = rec.Insert
			accDelete = rec.Delete
			have = true
		}

		if err := item.cursor.advance(); err != nil {
			return newStoreError(err)
		}
		if !item.cursor.exhausted {
			heap.Push(h, item)
		}
	}

	if err := flush(); err != nil {
		return newStoreError(err)
	}

	for _, merger := range m.NamingMergers {
		if err := merger.Flush(ctx); err != nil {
			return newStoreError(err)
		}
	}

	for _, info := range m.Runs {
		os.Remove(info.Path)
	}
	return nil
}
