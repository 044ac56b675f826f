package env

import (
	"context"
	"testing"
	"time"
)

func waitForUtilization(t *testing.T, c *Collector, want float64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Utilization() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("utilization never reached %v, last was %v", want, c.Utilization())
}

func TestCollectorReclaimsOnceNoLiveTransactionNeedsIt(t *testing.T) {
	txns := newTransactionSet()
	c := NewCollector(context.Background(), txns)
	defer c.Close()

	c.FetchExpiredLoggables([]int64{10, 20}, 5)
	waitForUtilization(t, c, 0, time.Second)
}

func TestCollectorHoldsBatchWhileTransactionStillNeedsIt(t *testing.T) {
	txns := newTransactionSet()
	live := &Transaction{snapshotRoot: 1}
	txns.add(live)

	c := NewCollector(context.Background(), txns)
	defer c.Close()

	c.FetchExpiredLoggables([]int64{10, 20}, 5)
	time.Sleep(20 * time.Millisecond)
	if u := c.Utilization(); u != 1 {
		t.Fatalf("expected batch to be held while a transaction predates it, got utilization %v", u)
	}

	txns.remove(live.setSeq)
	c.Wake()
	waitForUtilization(t, c, 0, time.Second)
}

func TestCollectorSuspendPreventsReclaim(t *testing.T) {
	txns := newTransactionSet()
	c := NewCollector(context.Background(), txns)
	defer c.Close()

	c.Suspend()
	c.FetchExpiredLoggables([]int64{1}, 0)
	time.Sleep(20 * time.Millisecond)
	if u := c.Utilization(); u != 1 {
		t.Fatalf("expected suspend to prevent reclamation, got utilization %v", u)
	}

	c.Resume()
	waitForUtilization(t, c, 0, time.Second)
}

func TestCollectorUtilizationZeroWithNoBatches(t *testing.T) {
	txns := newTransactionSet()
	c := NewCollector(context.Background(), txns)
	defer c.Close()

	if u := c.Utilization(); u != 0 {
		t.Fatalf("expected utilization 0 with no batches, got %v", u)
	}
}

func TestCollectorCloseStopsWorker(t *testing.T) {
	txns := newTransactionSet()
	c := NewCollector(context.Background(), txns)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// A second close must not hang or panic (closeOnce guards the channel).
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
