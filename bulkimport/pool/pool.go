// Package pool implements a bounded worker pool used by the bulk-import
// engine's sort executor in Phase 1 and by the run mergers in Phase 2.
// Import workers run under an errgroup instead, and each spill-run writer
// runs on its own goroutine.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

var (
	metricQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bulkimport",
		Name:      "pool_queue_length",
		Help:      "Current length of a pool's work queue.",
	}, []string{"pool"})

	metricQueueMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bulkimport",
		Name:      "pool_queue_capacity",
		Help:      "Configured capacity of a pool's work queue.",
	}, []string{"pool"})
)

// Task is a unit of work submitted to a Pool. It returns an error only for
// unexpected engine/I/O failures; per-entry rejections are not reported
// through this path.
type Task func(ctx context.Context) error

// Pool runs a fixed number of workers pulling Tasks from a bounded queue.
// Unlike friggdb's pool.Pool, which existed to fan out read requests and
// race them against a single result, this pool exists to fan out writes:
// callers enqueue many independent tasks and wait for all of them, the
// first error cancelling the rest.
type Pool struct {
	name    string
	workers int
	queue   chan Task

	size *atomic.Int32

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	ctx     context.Context
	errOnce sync.Once
	err     *atomic.Error
}

// New starts a pool of `workers` goroutines draining a queue of the given
// depth. The returned Pool's context is cancelled the moment any
// submitted Task returns a non-nil error, which downstream tasks observe
// via Context().
func New(parent context.Context, name string, workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = workers
	}

	ctx, cancel := context.WithCancel(parent)
	p := &Pool{
		name:    name,
		workers: workers,
		queue:   make(chan Task, queueDepth),
		size:    atomic.NewInt32(0),
		ctx:     ctx,
		cancel:  cancel,
		err:     atomic.NewError(nil),
	}

	metricQueueMax.WithLabelValues(name).Set(float64(queueDepth))

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Context is cancelled once the pool has observed a task failure. Workers
// and mergers poll it the way the spec's cancellation flag is polled
// between entries/records.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues a task. It blocks if the queue is full and returns an
// error immediately if the pool's context is already cancelled.
func (p *Pool) Submit(t Task) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	default:
	}

	select {
	case p.queue <- t:
		p.size.Inc()
		metricQueueLength.WithLabelValues(p.name).Set(float64(p.size.Load()))
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.size.Dec()
			if err := t(p.ctx); err != nil {
				p.errOnce.Do(func() {
					p.err.Store(err)
					p.cancel()
				})
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Close stops accepting new work, waits for in-flight tasks to drain, and
// returns the first task error observed, if any.
func (p *Pool) Close() error {
	close(p.queue)
	p.wg.Wait()
	metricQueueLength.WithLabelValues(p.name).Set(0)
	return p.err.Load()
}

// Cancel requests immediate shutdown without waiting for the queue to
// drain; used when the orchestrator is tearing down every pool after a
// failure in a sibling pool.
func (p *Pool) Cancel() {
	p.cancel()
}

func (p *Pool) String() string {
	return fmt.Sprintf("pool(%s, workers=%d)", p.name, p.workers)
}
