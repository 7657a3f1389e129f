package bulkimport

import "sort"

// bufferMode is the sort buffer's three-state lifecycle (spec §4.C).
type bufferMode int

const (
	modeAppend bufferMode = iota
	modeSorted
	modeDraining
)

// Comparator orders raw key bytes for one index. The naming index uses
// the reverse-component comparator (ToSortedBytes already encodes keys in
// that order, so naming's Comparator is just bytes.Compare); every other
// index uses plain byte-lexicographic order.
type Comparator func(a, b []byte) int

// slot is the fixed-size header entry for one record; the variable-length
// key bytes themselves live in the buffer's tail area (spec §3 Sort
// buffer: "a header area holding records as packed fixed-size slots and a
// variable-size tail holding key bytes").
type slot struct {
	indexID  uint32
	keyOff   uint32
	keyLen   uint32
	entryID  uint64
	op       Op
}

// slotOverhead is the accounting cost of one slot, used by
// isSpaceAvailable. It does not need to match any wire format exactly —
// it only needs to be a stable estimate the memory planner and buffer
// agree on.
const slotOverhead = 4 + 4 + 4 + 8 + 1

// SortBuffer is a fixed-capacity, pooled, append-then-sort region (spec
// §4.C). A given instance is, by convention, only ever fed records for a
// single IndexKey at a time (component G keeps one buffer per
// (worker, index) pair) — but nothing in the type itself assumes that;
// the indexID travels with every slot so the (key, indexID) comparator
// and the spill-run writer both work even if that convention is ever
// relaxed.
type SortBuffer struct {
	capacity int
	used     int

	slots []slot
	tail  []byte

	mode   bufferMode
	cmp    Comparator
	poison bool
}

// NewSortBuffer allocates a buffer with the given byte capacity.
func NewSortBuffer(capacity int) *SortBuffer {
	return &SortBuffer{capacity: capacity}
}

// NewPoisonBuffer returns the zero-capacity sentinel buffer used to signal
// end-of-stream to a downstream consumer (spec §4.C).
func NewPoisonBuffer() *SortBuffer {
	return &SortBuffer{poison: true}
}

func (b *SortBuffer) IsPoison() bool { return b.poison }

func (b *SortBuffer) Len() int { return len(b.slots) }

// isSpaceAvailable reports whether a slot for key could be appended
// without exceeding capacity.
func (b *SortBuffer) isSpaceAvailable(key []byte) bool {
	return b.used+slotOverhead+len(key) <= b.capacity
}

// Put appends a record. It returns false (without mutating the buffer) if
// there isn't room, at which point the caller must swap in a fresh
// buffer from the free pool and retry there.
func (b *SortBuffer) Put(indexID uint32, key []byte, entryID uint64, op Op) bool {
	if b.mode != modeAppend {
		return false
	}
	if !b.isSpaceAvailable(key) {
		return false
	}

	off := len(b.tail)
	b.tail = append(b.tail, key...)
	b.slots = append(b.slots, slot{
		indexID: indexID,
		keyOff:  uint32(off),
		keyLen:  uint32(len(key)),
		entryID: entryID,
		op:      op,
	})
	b.used += slotOverhead + len(key)
	return true
}

func (b *SortBuffer) keyAt(i int) []byte {
	s := b.slots[i]
	return b.tail[s.keyOff : s.keyOff+s.keyLen]
}

// SetComparator installs the comparator Sort will use. Must be called
// before Sort.
func (b *SortBuffer) SetComparator(cmp Comparator) {
	b.cmp = cmp
}

// Sort transitions the buffer from APPEND to SORTED, ordering slots by
// (key, indexID) non-decreasing under the installed comparator — the
// buffer's central invariant (spec §3).
func (b *SortBuffer) Sort() {
	if b.mode != modeAppend {
		return
	}
	cmp := b.cmp
	if cmp == nil {
		cmp = defaultComparator
	}

	sort.SliceStable(b.slots, func(i, j int) bool {
		c := cmp(b.keyAt(i), b.keyAt(j))
		if c != 0 {
			return c < 0
		}
		return b.slots[i].indexID < b.slots[j].indexID
	})
	b.mode = modeSorted
}

func defaultComparator(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// Cursor walks a SORTED buffer's records in order. Each step yields one
// raw slot; it is the spill-run writer's job (component E) to collapse
// consecutive equal (key, indexID) records into aggregated insert/delete
// sets — the buffer itself never aggregates (spec §4.C: "Duplicate
// collapsing is performed by the downstream writer, not in the buffer.").
type Cursor struct {
	buf *SortBuffer
	pos int
}

// NewCursor begins iteration; the buffer must already be SORTED.
func (b *SortBuffer) NewCursor() *Cursor {
	b.mode = modeDraining
	return &Cursor{buf: b}
}

// Next returns the next record, or ok=false once the buffer is exhausted.
func (c *Cursor) Next() (key []byte, indexID uint32, entryID uint64, op Op, ok bool) {
	if c.pos >= len(c.buf.slots) {
		return nil, 0, 0, 0, false
	}
	s := c.buf.slots[c.pos]
	key = c.buf.keyAt(c.pos)
	c.pos++
	return key, s.indexID, s.entryID, s.op, true
}

// Reset returns the buffer to APPEND mode with empty contents, ready to
// be handed back to the free pool (spec §4.C: "buffers are pooled and
// reused — never allocated in the hot path").
func (b *SortBuffer) Reset() {
	b.slots = b.slots[:0]
	b.tail = b.tail[:0]
	b.used = 0
	b.mode = modeAppend
	b.cmp = nil
}
