package bulkimport

// BufferPool is the free-buffer queue shared by all import/migration
// workers (spec §4.K: "allocate sort-buffer pool (2·N·W)"; spec §5:
// "Free-buffer queue: multi-producer multi-consumer FIFO"). Workers pull
// a buffer, fill it, hand it to the sort executor, and pull another;
// buffers return here on Release so no buffer is ever allocated in a
// worker's hot path.
type BufferPool struct {
	free chan *SortBuffer
	size int
}

// NewBufferPool pre-allocates count buffers of the given byte capacity
// (the memory planner's SortBufferBytes) and returns a pool holding them.
func NewBufferPool(count int, bufferBytes int64) *BufferPool {
	p := &BufferPool{
		free: make(chan *SortBuffer, count),
		size: int(bufferBytes),
	}
	for i := 0; i < count; i++ {
		p.free <- NewSortBuffer(p.size)
	}
	return p
}

// Get blocks until a buffer is available. ok is false only once the pool
// has been poisoned by Abort, meaning the caller should surface an error
// and exit rather than keep working (spec §4.G: "on poison pulled from
// free pool ... surface the error and exit").
func (p *BufferPool) Get() (buf *SortBuffer, ok bool) {
	buf = <-p.free
	if buf.IsPoison() {
		p.free <- buf // let the next Get also observe the poison
		return nil, false
	}
	return buf, true
}

// Release returns buf to the free pool, resetting it first.
func (p *BufferPool) Release(buf *SortBuffer) {
	buf.Reset()
	p.free <- buf
}

// Abort pushes one poison buffer into the free queue so that the next
// worker to call Get observes end-of-stream and exits (spec §5
// Cancellation: "workers drop one poison buffer into the free queue to
// propagate end-of-stream").
func (p *BufferPool) Abort() {
	p.free <- NewPoisonBuffer()
}
