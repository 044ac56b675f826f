package env

import (
	"errors"
	"testing"
	"time"

	"github.com/sharedcode/exodb"
)

func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	e, err := OpenEnvironment(NewMemLog("test"), exodb.NewDefaultConfig())
	if err != nil {
		t.Fatalf("OpenEnvironment: %v", err)
	}
	return e
}

// S1: basic commit, then a reader observes it.
func TestBasicCommit(t *testing.T) {
	e := newTestEnv(t)

	w, err := e.BeginTransaction(nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	h, err := e.OpenStore("a", StoreConfig{}, w, true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := h.Put([]byte("01"), []byte("A")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := e.flush(w)
	if err != nil || !ok {
		t.Fatalf("flush: ok=%v err=%v", ok, err)
	}
	e.finish(w)

	r, err := e.BeginReadonlyTransaction(nil)
	if err != nil {
		t.Fatalf("begin readonly: %v", err)
	}
	rh, err := e.OpenStore("a", StoreConfig{}, r, false)
	if err != nil {
		t.Fatalf("open store readonly: %v", err)
	}
	v, found, err := rh.Get([]byte("01"))
	if err != nil || !found || string(v) != "A" {
		t.Fatalf("expected A, got %q found=%v err=%v", v, found, err)
	}
	e.Abort(r)

	if err := e.Close(false); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// S2: a second writer's flush conflicts with an already-committed first
// writer and must revert-and-retry to observe the winner's write.
func TestConflictAndRetry(t *testing.T) {
	e := newTestEnv(t)

	w0, _ := e.BeginTransaction(nil)
	h0, _ := e.OpenStore("a", StoreConfig{}, w0, true)
	_ = h0.Put([]byte("01"), []byte("seed"))
	if ok, err := e.flush(w0); !ok || err != nil {
		t.Fatalf("seed flush: ok=%v err=%v", ok, err)
	}
	e.finish(w0)

	w1, _ := e.BeginTransaction(nil)
	w2, _ := e.BeginTransaction(nil)

	h1, _ := e.OpenStore("a", StoreConfig{}, w1, true)
	_ = h1.Put([]byte("01"), []byte("X"))
	ok1, err := e.flush(w1)
	if err != nil || !ok1 {
		t.Fatalf("w1 flush: ok=%v err=%v", ok1, err)
	}
	e.finish(w1)

	h2, _ := e.OpenStore("a", StoreConfig{}, w2, true)
	_ = h2.Put([]byte("01"), []byte("Y"))
	ok2, err := e.flush(w2)
	if err != nil {
		t.Fatalf("w2 flush error: %v", err)
	}
	if ok2 {
		t.Fatalf("expected w2 flush to conflict")
	}

	e.revert(w2)
	h2again, _ := e.OpenStore("a", StoreConfig{}, w2, true)
	v, found, err := h2again.Get([]byte("01"))
	if err != nil || !found || string(v) != "X" {
		t.Fatalf("expected to see X after revert, got %q found=%v err=%v", v, found, err)
	}
	_ = h2again.Put([]byte("01"), []byte("Y"))
	ok3, err := e.flush(w2)
	if err != nil || !ok3 {
		t.Fatalf("retry flush: ok=%v err=%v", ok3, err)
	}
	e.finish(w2)
}

// S3: truncate produces a distinct structureId and drops all prior rows.
func TestTruncateChangesStructureID(t *testing.T) {
	e := newTestEnv(t)

	w, _ := e.BeginTransaction(nil)
	h, _ := e.OpenStore("s", StoreConfig{}, w, true)
	structID1 := w.pendingMeta["s"].StructureID
	_ = h.Put([]byte("k"), []byte("v"))
	if ok, err := e.flush(w); !ok || err != nil {
		t.Fatalf("flush: ok=%v err=%v", ok, err)
	}
	e.finish(w)

	w2, _ := e.BeginTransaction(nil)
	if err := e.TruncateStore("s", w2); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	structID2 := w2.pendingMeta["s"].StructureID
	if structID2 == structID1 {
		t.Fatalf("expected a new structureId after truncate")
	}
	if structID2&0xff == 0 {
		t.Fatalf("structureId %d has a zero low byte", structID2)
	}

	h2, _ := e.OpenStore("s", StoreConfig{}, w2, true)
	_, found, err := h2.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatalf("expected truncated store to have lost its prior rows")
	}
	if ok, err := e.flush(w2); !ok || err != nil {
		t.Fatalf("flush: ok=%v err=%v", ok, err)
	}
	e.finish(w2)
}

func TestStorePublicIDSurvivesTruncate(t *testing.T) {
	e := newTestEnv(t)

	w, _ := e.BeginTransaction(nil)
	h, _ := e.OpenStore("s", StoreConfig{}, w, true)
	id1 := h.PublicID()
	if id1.IsNil() {
		t.Fatalf("expected a newly created store to get a non-nil PublicID")
	}
	if ok, err := e.flush(w); !ok || err != nil {
		t.Fatalf("flush: ok=%v err=%v", ok, err)
	}
	e.finish(w)

	w2, _ := e.BeginTransaction(nil)
	if err := e.TruncateStore("s", w2); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	h2, _ := e.OpenStore("s", StoreConfig{}, w2, true)
	if id2 := h2.PublicID(); id2 != id1 {
		t.Fatalf("expected PublicID %v to survive truncate, got %v", id1, id2)
	}
	if ok, err := e.flush(w2); !ok || err != nil {
		t.Fatalf("flush: ok=%v err=%v", ok, err)
	}
	e.finish(w2)

	w3, _ := e.BeginTransaction(nil)
	id3, found := e.StorePublicID("s", w3)
	if !found || id3 != id1 {
		t.Fatalf("expected StorePublicID to report %v after commit, got %v found=%v", id1, id3, found)
	}
	e.Abort(w3)
}

// S4: a deferred task stamped with the newest root at enqueue time must
// not run until every transaction alive at enqueue time has finished.
func TestDeferredTaskOrdering(t *testing.T) {
	e := newTestEnv(t)

	w, _ := e.BeginTransaction(nil)

	ran := make(chan struct{}, 1)
	e.ExecuteTransactionSafeTask(func() {
		ran <- struct{}{}
	})

	select {
	case <-ran:
		t.Fatalf("deferred task ran while its enqueueing transaction was still live")
	case <-time.After(10 * time.Millisecond):
	}

	h, _ := e.OpenStore("a", StoreConfig{}, w, true)
	_ = h.Put([]byte("01"), []byte("A"))
	if ok, err := e.flush(w); !ok || err != nil {
		t.Fatalf("flush: ok=%v err=%v", ok, err)
	}
	e.finish(w)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("deferred task did not run after its transaction finished")
	}
}

// S5: an unrecoverable commit failure (doCommit's log append fails, then
// rollback of highAddress also fails) must drive the environment
// permanently Inoperative, and the Inoperative cause must trace back to
// the original commit failure rather than the rollback failure.
func TestInoperativeAfterFailedRollback(t *testing.T) {
	e := newTestEnv(t)

	w, err := e.BeginTransaction(nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	h, err := e.OpenStore("a", StoreConfig{}, w, true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := h.Put([]byte("01"), []byte("A")); err != nil {
		t.Fatalf("put: %v", err)
	}

	appendErr := errors.New("injected doCommit append failure")
	rollbackErr := errors.New("injected rollback failure")
	e.log = &rollbackFailingLog{Log: e.log, appendErr: appendErr, rollbackErr: rollbackErr}
	// doCommit appends through the tree store, so it must see the failing log too.
	e.treeStore = NewMemTreeStore(e.log)

	ok, flushErr := e.flush(w)
	if ok || flushErr == nil {
		t.Fatalf("expected flush to fail, got ok=%v err=%v", ok, flushErr)
	}
	if !errors.Is(flushErr, ErrInoperative) {
		t.Fatalf("expected flush's own error to be ErrInoperative, got %v", flushErr)
	}

	_, beginErr := e.BeginTransaction(nil)
	if !errors.Is(beginErr, ErrInoperative) {
		t.Fatalf("expected ErrInoperative, got %v", beginErr)
	}
	if !errors.Is(beginErr, appendErr) {
		t.Fatalf("expected the Inoperative cause to trace back to the original commit failure, got %v", beginErr)
	}
	if errors.Is(beginErr, rollbackErr) {
		t.Fatalf("the Inoperative cause must be the commit failure, not the rollback failure: %v", beginErr)
	}

	e.Abort(w)
}

// rollbackFailingLog wraps a Log, failing every Append with appendErr (to
// drive doCommit's failure path) and every SetHighAddress with
// rollbackErr (to drive the "rollback of rollback" inoperative path).
type rollbackFailingLog struct {
	Log
	appendErr   error
	rollbackErr error
}

func (l *rollbackFailingLog) Append(data []byte) (int64, error) {
	return 0, l.appendErr
}

func (l *rollbackFailingLog) SetHighAddress(addr int64) error {
	return l.rollbackErr
}

// S6: opening an existing store with a mismatched duplicates flag raises
// ConfigMismatch without touching the log.
func TestConfigMismatch(t *testing.T) {
	e := newTestEnv(t)

	w, _ := e.BeginTransaction(nil)
	_, err := e.OpenStore("s", StoreConfig{Duplicates: false}, w, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ok, err := e.flush(w); !ok || err != nil {
		t.Fatalf("flush: ok=%v err=%v", ok, err)
	}
	e.finish(w)

	before := e.log.HighAddress()

	w2, _ := e.BeginTransaction(nil)
	_, err = e.OpenStore("s", StoreConfig{Duplicates: true}, w2, true)
	if !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("expected ErrConfigMismatch, got %v", err)
	}
	e.Abort(w2)

	if after := e.log.HighAddress(); after != before {
		t.Fatalf("expected log untouched by a rejected open, before=%d after=%d", before, after)
	}
}

// Invariant 1: every allocated structureId has a nonzero low byte and is
// never 1 (the MetaTree's own reserved id).
func TestStructureIDAllocationInvariant(t *testing.T) {
	a := newStructureIDAllocator(metaTreeStructureID)
	for i := 0; i < 1000; i++ {
		id := a.allocate()
		if id&0xff == 0 {
			t.Fatalf("allocated id %d has a zero low byte", id)
		}
		if id == metaTreeStructureID {
			t.Fatalf("allocated id collided with the reserved MetaTree id")
		}
	}
}

// Invariant 3: a readonly transaction's flush always succeeds and performs
// no log writes.
func TestReadonlyFlushNeverWrites(t *testing.T) {
	e := newTestEnv(t)
	before := e.log.HighAddress()

	r, _ := e.BeginReadonlyTransaction(nil)
	ok, err := e.flush(r)
	if err != nil || !ok {
		t.Fatalf("readonly flush: ok=%v err=%v", ok, err)
	}
	e.Abort(r)

	if after := e.log.HighAddress(); after != before {
		t.Fatalf("readonly flush wrote to the log: before=%d after=%d", before, after)
	}
}

func TestClearRequiresNoLiveTransactions(t *testing.T) {
	e := newTestEnv(t)
	w, _ := e.BeginTransaction(nil)
	if err := e.Clear(); !errors.Is(err, ErrStillActive) {
		t.Fatalf("expected ErrStillActive, got %v", err)
	}
	e.Abort(w)
	if err := e.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestCloseIsIdempotentAndRejectsOperationsAfter(t *testing.T) {
	e := newTestEnv(t)
	if err := e.Close(false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(false); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on double close, got %v", err)
	}
	if _, err := e.BeginTransaction(nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on begin-after-close, got %v", err)
	}
}

func TestRoundTripOpenExistingStorePreservesMetaInfo(t *testing.T) {
	e := newTestEnv(t)

	w, _ := e.BeginTransaction(nil)
	_, err := e.OpenStore("s", StoreConfig{Duplicates: true, Prefixing: false}, w, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	firstID := w.pendingMeta["s"].StructureID
	if ok, err := e.flush(w); !ok || err != nil {
		t.Fatalf("flush: ok=%v err=%v", ok, err)
	}
	e.finish(w)

	w2, _ := e.BeginTransaction(nil)
	_, err = e.OpenStore("s", StoreConfig{Duplicates: true}, w2, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	info := w2.snapshot.Stores["s"]
	if info.StructureID != firstID || !info.Duplicates {
		t.Fatalf("round-trip mismatch: got %+v", info)
	}
	e.Abort(w2)
}
