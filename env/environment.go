package env

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sharedcode/exodb"
	"github.com/sharedcode/exodb/cache"
)

// StoreConfig is the caller-supplied configuration when opening a store.
type StoreConfig struct {
	Duplicates bool
	Prefixing  bool
}

// Environment is the coordinator: it admits readers and writers against a
// shared MetaTree, serializes commits through an append-only log and a
// MetaTree root swap, and preserves snapshot isolation for in-flight
// transactions while background GC reclaims unreferenced log segments.
type Environment struct {
	log       Log
	treeStore *MemTreeStore

	cfg   exodb.EnvironmentConfig
	cfgMu sync.RWMutex

	commitLock sync.Mutex
	metaLock   sync.RWMutex
	metaTree   MetaTree

	idAlloc *structureIDAllocator
	txns    *transactionSet

	deferredMu    sync.Mutex
	deferredTasks []*DeferredTask

	gc GarbageCollector

	// throwableOnCommit, once set, makes the environment permanently
	// inoperative: every subsequent begin/commit fails.
	throwableOnCommit error
	closed            bool
	stateMu           sync.Mutex

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	storeGetCache  cache.Cache[string, []byte]
	treeNodesCache cache.Cache[int64, []byte]

	log_ *slog.Logger
}

// OpenEnvironment opens the coordinator against log using cfg. It loads the
// MetaTree, seeds the structure-id counter, instantiates caches, and starts
// background GC (and the stuck-transaction monitor, if configured).
func OpenEnvironment(l Log, cfg exodb.EnvironmentConfig) (*Environment, error) {
	cfg = applyConfigSource(l.Location(), cfg)

	store := NewMemTreeStore(l)
	metaTree, maxID, err := createMetaTree(l, store)
	if err != nil {
		return nil, wrapIO(err)
	}

	env := &Environment{
		log:       l,
		treeStore: store,
		cfg:       cfg,
		metaTree:  metaTree,
		idAlloc:   newStructureIDAllocator(maxID),
		txns:      newTransactionSet(),
		log_:      slog.Default().With("component", "env"),
	}

	env.rebuildCaches()

	ctx, cancel := context.WithCancel(context.Background())
	env.gc = NewCollector(ctx, env.txns)
	env.monitorCancel = cancel

	if cfg.TransactionTimeout > 0 {
		env.monitorDone = make(chan struct{})
		go env.runStuckTransactionMonitor(ctx, cfg.TransactionTimeout)
	}

	l.Config().SetSyncPeriod(cfg.SyncPeriod)
	l.Config().SetDurableWrite(cfg.DurableWrite)

	return env, nil
}

func (e *Environment) rebuildCaches() {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if e.cfg.Type == exodb.Clustered {
		if backing := exodb.NewCacheClient(); backing != nil {
			e.storeGetCache = newRedisBackedStoreCache(backing)
			e.treeNodesCache = cache.NewCache[int64, []byte](0, e.cfg.TreeNodesCacheSize)
			return
		}
		e.log_.Warn("Clustered DatabaseType configured but no cache factory is registered; falling back to in-process caches")
	}

	e.storeGetCache = cache.NewCache[string, []byte](0, e.cfg.StoreGetCacheSize)
	e.treeNodesCache = cache.NewCache[int64, []byte](0, e.cfg.TreeNodesCacheSize)
}

// ApplyConfig routes a configuration change: cache sizes rebuild their
// caches wholesale, sync period / durable write forward to the log,
// readonly toggling suspends or resumes GC.
func (e *Environment) ApplyConfig(cfg exodb.EnvironmentConfig) {
	e.cfgMu.RLock()
	prevReadonly := e.cfg.Readonly
	cacheSizesChanged := e.cfg.StoreGetCacheSize != cfg.StoreGetCacheSize ||
		e.cfg.TreeNodesCacheSize != cfg.TreeNodesCacheSize
	e.cfgMu.RUnlock()

	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	if cacheSizesChanged {
		e.rebuildCaches()
	}
	e.log.Config().SetSyncPeriod(cfg.SyncPeriod)
	e.log.Config().SetDurableWrite(cfg.DurableWrite)

	if !prevReadonly && cfg.Readonly {
		e.gc.Suspend()
	} else if prevReadonly && !cfg.Readonly {
		e.gc.Resume()
	}
}

func (e *Environment) runStuckTransactionMonitor(ctx context.Context, timeout time.Duration) {
	defer close(e.monitorDone)
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.txns.forEach(func(t *Transaction) {
				if now.Sub(t.created) > timeout {
					e.log_.Warn("long-running transaction detected", "age", now.Sub(t.created))
				}
			})
		}
	}
}

func (e *Environment) isInoperative() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.throwableOnCommit != nil {
		return fmt.Errorf("%w: %w", ErrInoperative, e.throwableOnCommit)
	}
	return nil
}

func (e *Environment) setInoperative(cause error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.throwableOnCommit == nil {
		e.throwableOnCommit = cause
		e.log_.Error("environment is now inoperative", "cause", cause)
	}
}

// BeginTransaction starts a write transaction snapshotting the current
// MetaTree. If the environment is readonly, the returned transaction is
// readonly regardless of the request. beginHook, if non-nil, runs while
// the meta-lock is held, observing the same snapshot the transaction
// captures.
func (e *Environment) BeginTransaction(beginHook func(*Transaction)) (*Transaction, error) {
	if err := e.isInoperative(); err != nil {
		return nil, err
	}

	e.cfgMu.RLock()
	readonly := e.cfg.Readonly
	e.cfgMu.RUnlock()

	e.metaLock.RLock()
	snapshot := e.metaTree
	t := &Transaction{
		env:           e,
		snapshotRoot:  snapshot.Root,
		snapshot:      snapshot,
		readonly:      readonly,
		created:       time.Now(),
		pending:       map[int64]MutableTree{},
		pendingMeta:   map[string]TreeMetaInfo{},
		removedStores: map[string]bool{},
		beginHook:     beginHook,
	}
	if beginHook != nil {
		beginHook(t)
	}
	e.metaLock.RUnlock()
	t.setSeq = e.txns.add(t)
	return t, nil
}

// BeginReadonlyTransaction starts a read-only transaction. Its flush is
// always a no-op and always reports success.
func (e *Environment) BeginReadonlyTransaction(beginHook func(*Transaction)) (*Transaction, error) {
	t, err := e.BeginTransaction(beginHook)
	if err != nil {
		return nil, err
	}
	t.readonly = true
	return t, nil
}

// ExecuteInTransaction runs fn against a fresh write transaction, retrying
// on conflict until flush succeeds; abort runs on every exit path.
func (e *Environment) ExecuteInTransaction(fn func(*Transaction) error) error {
	_, err := e.ComputeInTransaction(func(t *Transaction) (any, error) {
		return nil, fn(t)
	})
	return err
}

// ComputeInTransaction is ExecuteInTransaction's value-returning form.
func (e *Environment) ComputeInTransaction(fn func(*Transaction) (any, error)) (any, error) {
	for {
		t, err := e.BeginTransaction(nil)
		if err != nil {
			return nil, err
		}

		result, fnErr := fn(t)
		if fnErr != nil {
			e.Abort(t)
			return nil, fnErr
		}

		ok, flushErr := e.flush(t)
		if flushErr != nil {
			e.Abort(t)
			return nil, flushErr
		}
		if !ok {
			e.revert(t)
			// Jitter before retrying so two transactions that just
			// collided don't immediately collide again.
			exodb.RandomSleep(context.Background())
			continue
		}
		e.finish(t)
		return result, nil
	}
}

// ExecuteInReadonlyTransaction runs fn once against a fresh read-only
// transaction; there is no retry loop since a readonly flush never
// conflicts.
func (e *Environment) ExecuteInReadonlyTransaction(fn func(*Transaction) error) error {
	_, err := e.ComputeInReadonlyTransaction(func(t *Transaction) (any, error) {
		return nil, fn(t)
	})
	return err
}

func (e *Environment) ComputeInReadonlyTransaction(fn func(*Transaction) (any, error)) (any, error) {
	t, err := e.BeginReadonlyTransaction(nil)
	if err != nil {
		return nil, err
	}
	result, fnErr := fn(t)
	if fnErr != nil {
		e.Abort(t)
		return nil, fnErr
	}
	// Readonly flush always succeeds and performs no writes.
	e.finish(t)
	return result, nil
}

// Abort discards t without committing. Safe to call multiple times.
func (e *Environment) Abort(t *Transaction) {
	if t.ended {
		return
	}
	t.ended = true
	e.txns.remove(t.setSeq)
	e.drainDeferredTasks()
}

// revert re-admits t as a fresh transaction against the current MetaTree,
// for use by the ExecuteInTransaction retry loop after a conflicting
// flush: the old membership is removed and a new one (fresh sequence
// number) added, with no special-casing of the re-insertion.
func (e *Environment) revert(t *Transaction) {
	e.txns.remove(t.setSeq)

	e.metaLock.RLock()
	snapshot := e.metaTree
	e.metaLock.RUnlock()

	t.snapshotRoot = snapshot.Root
	t.snapshot = snapshot
	t.pending = map[int64]MutableTree{}
	t.pendingMeta = map[string]TreeMetaInfo{}
	t.removedStores = map[string]bool{}
	t.ended = false
	t.setSeq = e.txns.add(t)
}

// flush implements the write-path commit algorithm. It returns (true, nil)
// on success, (false, nil) on conflict (caller must revert and retry), or
// (false, err) on an unrecoverable failure.
func (e *Environment) flush(t *Transaction) (bool, error) {
	if t.readonly {
		return true, nil
	}

	// Fast path: no pending mutations, no store creations/removals.
	if len(t.pending) == 0 && len(t.removedStores) == 0 {
		allUnmodified := true
		for _, mt := range t.pending {
			if len(mt.ExpiredLoggables()) > 0 {
				allUnmodified = false
				break
			}
		}
		if allUnmodified {
			return true, nil
		}
	}

	e.commitLock.Lock()
	defer e.commitLock.Unlock()

	e.cfgMu.RLock()
	readonly := e.cfg.Readonly
	e.cfgMu.RUnlock()
	if readonly {
		return false, ErrReadonly
	}
	if err := e.isInoperative(); err != nil {
		return false, err
	}

	e.metaLock.RLock()
	current := e.metaTree
	e.metaLock.RUnlock()
	if current.Root != t.snapshotRoot {
		return false, nil
	}

	highAddress0 := e.log.HighAddress()

	newMetaTree, expired, err := e.doCommit(t, current)
	if err != nil {
		if rbErr := e.log.SetHighAddress(highAddress0); rbErr != nil {
			e.setInoperative(fmt.Errorf("rollback failed after commit error %w (rollback cause: %v)", err, rbErr))
			return false, ErrInoperative
		}
		return false, wrapIO(err)
	}

	e.metaLock.Lock()
	e.metaTree = newMetaTree
	e.metaLock.Unlock()
	t.snapshot = newMetaTree
	t.snapshotRoot = newMetaTree.Root

	// Expired loggables are fed to GC only after the MetaTree swap is
	// visible, and outside the commit lock's critical section end (the
	// defer above releases it right after we return).
	go func(addrs []int64, root int64) {
		e.gc.FetchExpiredLoggables(addrs, root)
	}(expired, newMetaTree.Root)

	return true, nil
}

// doCommit serializes t's pending mutable trees, builds the new MetaTree,
// and collects every expired loggable address across all touched stores.
func (e *Environment) doCommit(t *Transaction, current MetaTree) (MetaTree, []int64, error) {
	next := current.clone()
	var expired []int64

	for name := range t.removedStores {
		delete(next.Stores, name)
	}

	for name, info := range t.pendingMeta {
		if t.removedStores[name] {
			continue
		}
		mt, ok := t.pending[info.StructureID]
		if !ok {
			next.Stores[name] = info
			continue
		}
		if b, ok := mt.(*brokenMutableTree); ok {
			return MetaTree{}, nil, b.err
		}
		var base Tree
		if info.HasRoot {
			loaded, err := e.treeStore.Load(info.RootAddress)
			if err != nil {
				return MetaTree{}, nil, err
			}
			base = loaded
		} else {
			base = e.treeStore.NewEmptyTree()
		}
		addr, err := base.Save(mt)
		if err != nil {
			return MetaTree{}, nil, err
		}
		expired = append(expired, mt.ExpiredLoggables()...)
		info.RootAddress = addr
		info.HasRoot = true
		next.Stores[name] = info
	}

	metaBlob := e.treeStore.NewEmptyTree().Mutable()
	for name, info := range next.Stores {
		metaBlob.Put([]byte(name), encodeTreeMetaInfo(info))
	}
	root, err := e.treeStore.NewEmptyTree().Save(metaBlob)
	if err != nil {
		return MetaTree{}, nil, err
	}
	if err := e.log.SetTip(root); err != nil {
		return MetaTree{}, nil, err
	}
	next.Root = root

	return next, expired, nil
}

// finish removes t from the live set and drains any deferred tasks that
// are now safe to run. flush and finish are kept separate because a
// successful flush with a failed finish cannot currently occur (finish
// never errors), but the ordering still matters for correctness.
func (e *Environment) finish(t *Transaction) {
	if t.ended {
		return
	}
	t.ended = true
	e.txns.remove(t.setSeq)
	e.drainDeferredTasks()
}

// drainDeferredTasks pops and runs every deferred task whose stamped root
// is older than every currently live transaction's snapshot root.
func (e *Environment) drainDeferredTasks() {
	oldest, hasLive := e.txns.oldestRoot()

	e.deferredMu.Lock()
	var ready []*DeferredTask
	var remaining []*DeferredTask
	for _, dt := range e.deferredTasks {
		if !hasLive || oldest > dt.stampRoot {
			ready = append(ready, dt)
		} else {
			remaining = append(remaining, dt)
		}
	}
	e.deferredTasks = remaining
	e.deferredMu.Unlock()

	if len(ready) == 0 {
		return
	}
	if len(ready) == 1 {
		ready[0].Run()
		return
	}

	// More than one task became safe at once (e.g. several transactions
	// finished close together): fan them out with JobProcessor rather
	// than running them serially, since they are independent by
	// construction (each was only made safe because no live transaction
	// can observe its pre-task state any longer).
	work, eg := exodb.JobProcessor(context.Background(), len(ready))
	for _, dt := range ready {
		dt := dt
		work <- func() error {
			dt.Run()
			return nil
		}
	}
	close(work)
	if err := eg.Wait(); err != nil {
		e.log_.Warn("deferred task fan-out returned an error", "err", err)
	}
}

// ExecuteTransactionSafeTask runs task inline if no transaction is
// currently live, otherwise stamps it with the newest live transaction's
// root and enqueues it for later draining.
func (e *Environment) ExecuteTransactionSafeTask(task func()) {
	newest, hasLive := e.txns.newestRoot()
	if !hasLive {
		task()
		return
	}
	e.deferredMu.Lock()
	e.deferredTasks = append(e.deferredTasks, &DeferredTask{Run: task, stampRoot: newest, hasStamp: true})
	e.deferredMu.Unlock()
}

// OpenStore resolves or creates a store named name within txn: the pending
// new-store map is consulted first, then the MetaTree.
func (e *Environment) OpenStore(name string, sc StoreConfig, txn *Transaction, creationRequired bool) (*StoreHandle, error) {
	if info, ok := txn.pendingMeta[name]; ok {
		if info.Duplicates != sc.Duplicates {
			return nil, withUserData(ErrConfigMismatch, name)
		}
		return txn.Store(name)
	}

	if info, ok := txn.snapshot.Stores[name]; ok {
		if info.Duplicates != sc.Duplicates {
			return nil, withUserData(ErrConfigMismatch, name)
		}
		if info.Prefixing && !sc.Prefixing {
			return nil, withUserData(ErrConfigMismatch, name)
		}
		if info.Prefixing != sc.Prefixing && !info.Prefixing {
			// Prefixing was never physically realized for this store;
			// fall back to non-prefixing rather than failing outright.
			sc.Prefixing = false
		}
		return txn.Store(name)
	}

	if !creationRequired {
		e.cfgMu.RLock()
		readonlyEmpty := e.cfg.ReadonlyEmptyStores
		readonly := e.cfg.Readonly
		e.cfgMu.RUnlock()
		if readonly && readonlyEmpty {
			return &StoreHandle{txn: txn, name: name, meta: &brokenMutableTree{err: nil}}, nil
		}
		return nil, withUserData(ErrStoreNotFound, name)
	}

	if txn.readonly {
		return nil, ErrReadonly
	}

	info := TreeMetaInfo{
		StructureID: e.idAlloc.allocate(),
		Duplicates:  sc.Duplicates,
		Prefixing:   sc.Prefixing,
		PublicID:    exodb.NewUUID(),
	}
	txn.pendingMeta[name] = info
	txn.pending[info.StructureID] = e.treeStore.NewEmptyTree().Mutable()
	return txn.Store(name)
}

// TruncateStore replaces name's store with a freshly-allocated, empty one;
// the old structure becomes reclaimable once no transaction can observe
// it any longer.
func (e *Environment) TruncateStore(name string, txn *Transaction) error {
	if txn.readonly {
		return ErrReadonly
	}
	var existing TreeMetaInfo
	if info, ok := txn.pendingMeta[name]; ok {
		existing = info
	} else if info, ok := txn.snapshot.Stores[name]; ok {
		existing = info
	} else {
		return withUserData(ErrStoreNotFound, name)
	}

	info := TreeMetaInfo{
		StructureID: e.idAlloc.allocate(),
		Duplicates:  existing.Duplicates,
		Prefixing:   existing.Prefixing,
		PublicID:    existing.PublicID,
	}
	txn.pendingMeta[name] = info
	txn.pending[info.StructureID] = e.treeStore.NewEmptyTree().Mutable()
	delete(txn.removedStores, name)
	return nil
}

// RemoveStore marks name for removal from the MetaTree on commit.
func (e *Environment) RemoveStore(name string, txn *Transaction) error {
	if txn.readonly {
		return ErrReadonly
	}
	_, inPending := txn.pendingMeta[name]
	_, inSnapshot := txn.snapshot.Stores[name]
	if !inPending && !inSnapshot {
		return withUserData(ErrStoreNotFound, name)
	}
	txn.removedStores[name] = true
	delete(txn.pendingMeta, name)
	return nil
}

// Clear empties the environment: suspends GC, requires no live
// transactions, clears the log, drains deferred tasks, rebuilds the
// MetaTree, and resets the structure-id counter.
func (e *Environment) Clear() error {
	e.gc.Suspend()
	defer e.gc.Resume()

	e.commitLock.Lock()
	defer e.commitLock.Unlock()

	if e.txns.size() > 0 {
		return ErrStillActive
	}

	if err := e.log.Clear(); err != nil {
		return wrapIO(err)
	}

	e.deferredMu.Lock()
	queued := e.deferredTasks
	e.deferredTasks = nil
	e.deferredMu.Unlock()
	for _, dt := range queued {
		dt.Run()
	}

	e.metaLock.Lock()
	e.metaTree = MetaTree{Stores: map[string]TreeMetaInfo{}}
	e.metaLock.Unlock()

	e.idAlloc = newStructureIDAllocator(metaTreeStructureID)
	return nil
}

// Close shuts the environment down. Unless forced, it fails with
// ErrStillActive while any transaction remains live. GC is finished
// outside the commit lock to avoid a deadlock with a GC goroutine that
// itself reaches for the commit lock.
func (e *Environment) Close(forced bool) error {
	if err := e.gc.Close(); err != nil {
		e.log_.Warn("gc close returned an error", "err", err)
	}
	if e.monitorCancel != nil {
		e.monitorCancel()
	}

	e.commitLock.Lock()
	defer e.commitLock.Unlock()

	e.stateMu.Lock()
	alreadyClosed := e.closed
	e.stateMu.Unlock()
	if alreadyClosed {
		return ErrClosed
	}

	if !forced && e.txns.size() > 0 {
		return ErrStillActive
	}

	if err := e.log.Close(); err != nil {
		e.log_.Warn("log close returned an error", "err", err)
	}

	e.stateMu.Lock()
	e.closed = true
	e.stateMu.Unlock()

	e.drainDeferredTasks()
	return nil
}

func (e *Environment) GC()            { e.gc.Wake() }
func (e *Environment) SuspendGC()     { e.gc.Suspend() }
func (e *Environment) ResumeGC()      { e.gc.Resume() }
func (e *Environment) GCUtilization() float64 { return e.gc.Utilization() }

// StoreGetCacheHitRate and TreeNodesCacheHitRate report the two
// performance caches' lifetime hit rates, for the read-only admin surface.
func (e *Environment) StoreGetCacheHitRate() float64 {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.storeGetCache.HitRate()
}

func (e *Environment) TreeNodesCacheHitRate() float64 {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.treeNodesCache.HitRate()
}

func (e *Environment) GetDiskUsage() int64 {
	return e.log.DiskUsage()
}

func (e *Environment) GetAllStoreNames(txn *Transaction) []string {
	names := make([]string, 0, len(txn.snapshot.Stores))
	for name := range txn.snapshot.Stores {
		if !txn.removedStores[name] {
			names = append(names, name)
		}
	}
	for name := range txn.pendingMeta {
		found := false
		for _, n := range names {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			names = append(names, name)
		}
	}
	return names
}

func (e *Environment) StoreExists(name string, txn *Transaction) bool {
	if txn.removedStores[name] {
		return false
	}
	if _, ok := txn.pendingMeta[name]; ok {
		return true
	}
	_, ok := txn.snapshot.Stores[name]
	return ok
}

// StorePublicID returns name's stable external identifier, valid across
// TruncateStore calls even though those reallocate the store's internal
// structure-id.
func (e *Environment) StorePublicID(name string, txn *Transaction) (exodb.UUID, bool) {
	if txn.removedStores[name] {
		return exodb.UUID{}, false
	}
	if info, ok := txn.pendingMeta[name]; ok {
		return info.PublicID, true
	}
	if info, ok := txn.snapshot.Stores[name]; ok {
		return info.PublicID, true
	}
	return exodb.UUID{}, false
}

// cacheKey builds the StoreGetCache composite key: (structureId, keyBytes).
func cacheKey(structureID int64, key []byte) string {
	return fmt.Sprintf("%d:%s", structureID, key)
}
