package env

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sharedcode/exodb"
)

// GarbageCollector is the external contract the coordinator drives after
// every commit: hand it the addresses a commit's tree saves superseded,
// let it reclaim them once no live transaction can still observe them, and
// allow the coordinator to pause it around operations (like Clear) that
// must not race with reclamation.
type GarbageCollector interface {
	// Suspend pauses background reclamation; Resume un-pauses it. Calls
	// nest: Resume only un-pauses once outstanding Suspends are balanced.
	Suspend()
	Resume()
	// Wake nudges the collector to check for newly expired loggables
	// without waiting for its normal poll interval.
	Wake()
	// FetchExpiredLoggables hands the collector a new batch of addresses
	// expired by a commit, along with the MetaTree root that commit
	// published — the collector must not reclaim them until every live
	// transaction's snapshot root is at least that new.
	FetchExpiredLoggables(addrs []int64, asOfRoot int64)
	// Utilization reports the fraction of the expired loggables handed to
	// the collector that it has not reclaimed yet; 0 when none were handed
	// over.
	Utilization() float64
	// Close stops the collector's background worker.
	Close() error
}

// pendingBatch is one commit's worth of expired loggables, held until the
// oldest live transaction's snapshot root has reached asOfRoot.
type pendingBatch struct {
	addrs   []int64
	asOfRoot int64
}

// Collector is the default GarbageCollector: a single background
// goroutine, managed with golang.org/x/sync/errgroup the way the rest of
// this codebase runs background work, that periodically checks whether
// any pending batch has become safe to reclaim against the live
// transaction set and, if so, drops it from its bookkeeping. The log itself
// is never touched: MemLog/FileLog never physically compact, so
// reclamation here means "no longer tracked as live garbage", which is what
// drives Utilization().
type Collector struct {
	mu       sync.Mutex
	txns     *transactionSet
	pending  []pendingBatch
	reclaimed int64
	total    int64

	suspendCount int
	wakeCh       chan struct{}
	closeOnce    sync.Once
	closed       chan struct{}
	runner       *exodb.TaskRunner
}

// NewCollector returns a Collector that consults txns to decide when a
// pending batch is safe to reclaim. Its single background worker is run
// through exodb.TaskRunner, the same bounded-concurrency errgroup wrapper
// the rest of this module uses for background work.
func NewCollector(ctx context.Context, txns *transactionSet) *Collector {
	runner := exodb.NewTaskRunner(ctx, 1)
	c := &Collector{
		txns:   txns,
		wakeCh: make(chan struct{}, 1),
		closed: make(chan struct{}),
		runner: runner,
	}
	c.runner.Go(func() error {
		c.run(runner.GetContext())
		return nil
	})
	return c
}

func (c *Collector) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-c.wakeCh:
			c.sweep()
		}
	}
}

func (c *Collector) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspendCount > 0 {
		return
	}
	oldest, hasLive := c.txns.oldestRoot()

	remaining := c.pending[:0]
	for _, b := range c.pending {
		if !hasLive || oldest >= b.asOfRoot {
			c.reclaimed += int64(len(b.addrs))
		} else {
			remaining = append(remaining, b)
		}
	}
	c.pending = remaining
}

func (c *Collector) Suspend() {
	c.mu.Lock()
	c.suspendCount++
	c.mu.Unlock()
}

func (c *Collector) Resume() {
	c.mu.Lock()
	if c.suspendCount > 0 {
		c.suspendCount--
	}
	c.mu.Unlock()
	c.Wake()
}

func (c *Collector) Wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

func (c *Collector) FetchExpiredLoggables(addrs []int64, asOfRoot int64) {
	if len(addrs) == 0 {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, pendingBatch{addrs: addrs, asOfRoot: asOfRoot})
	atomic.AddInt64(&c.total, int64(len(addrs)))
	c.mu.Unlock()
	c.Wake()
}

func (c *Collector) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := atomic.LoadInt64(&c.total)
	if total == 0 {
		return 0
	}
	return float64(total-c.reclaimed) / float64(total)
}

func (c *Collector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.runner.Wait()
	})
	return err
}
