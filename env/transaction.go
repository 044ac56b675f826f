package env

import (
	"time"

	"github.com/sharedcode/exodb"
)

// Transaction is a snapshot of a MetaTree plus whatever mutations the
// owning goroutine has accumulated against it. It is begun by the
// coordinator, mutated only by its owner, and ended by either commit
// (flush+finish) or abort.
type Transaction struct {
	env *Environment

	// snapshotRoot is the MetaTree root this transaction observes for its
	// entire lifetime.
	snapshotRoot int64
	snapshot     MetaTree

	readonly  bool
	created   time.Time

	// pending holds one MutableTree per store touched by this
	// transaction, keyed by the store's structureId.
	pending map[int64]MutableTree
	// pendingMeta mirrors the TreeMetaInfo this transaction intends to
	// publish for each touched store (including newly-created stores and
	// truncate's fresh structureId), keyed by store name.
	pendingMeta map[string]TreeMetaInfo
	// removedStores holds names removed by this transaction, applied to
	// the MetaTree on successful commit.
	removedStores map[string]bool

	// beginHook, if set, runs synchronously right after the snapshot is
	// captured, while the meta-lock is still held, before the transaction
	// is handed to its caller.
	beginHook func(*Transaction)

	ended bool

	setSeq int64 // assigned by transactionSet.add
}

// Store returns a handle for reading/writing the named store within this
// transaction. A readonly transaction's handle rejects mutation.
func (t *Transaction) Store(name string) (*StoreHandle, error) {
	if t.ended {
		return nil, ErrStillActive
	}
	info, meta, ok := t.lookupStore(name)
	if !ok {
		return nil, withUserData(ErrStoreNotFound, name)
	}
	return &StoreHandle{txn: t, name: name, info: info, meta: meta}, nil
}

func (t *Transaction) lookupStore(name string) (TreeMetaInfo, MutableTree, bool) {
	if meta, ok := t.pendingMeta[name]; ok {
		mt, ok2 := t.pending[meta.StructureID]
		if !ok2 {
			mt = t.newMutableFor(meta)
			t.pending[meta.StructureID] = mt
		}
		return meta, mt, true
	}
	info, ok := t.snapshot.Stores[name]
	if !ok {
		return TreeMetaInfo{}, nil, false
	}
	t.pendingMeta[name] = info
	mt := t.newMutableFor(info)
	t.pending[info.StructureID] = mt
	return info, mt, true
}

func (t *Transaction) newMutableFor(info TreeMetaInfo) MutableTree {
	store := t.env.treeStore
	if !info.HasRoot {
		return store.NewEmptyTree().Mutable()
	}
	tree, err := store.Load(info.RootAddress)
	if err != nil {
		// Section 7: an unreadable store root is an IO failure, surfaced
		// the first time the caller actually touches the store rather
		// than at Store() time, since lookupStore has no error return
		// path today. Degrading to an empty tree would silently lose
		// data, so StoreHandle.Get/Put/Delete return this error as an IO
		// failure, and a commit that includes the store fails with it.
		return &brokenMutableTree{err: err}
	}
	return tree.Mutable()
}

// StoreHandle is the per-store view a transaction hands out from Store.
type StoreHandle struct {
	txn  *Transaction
	name string
	info TreeMetaInfo
	meta MutableTree
}

// PublicID returns the store's stable external identifier. Unlike
// StructureID, it survives TruncateStore, so callers that persist a
// reference to a store (e.g. an admin surface, or a caller correlating
// logs across a truncate) can keep using it after a truncate reallocates
// the structure-id.
func (h *StoreHandle) PublicID() exodb.UUID {
	return h.info.PublicID
}

// Get consults the environment's StoreGetCache first; a miss falls
// through to the pending mutable tree and, on a hit there, populates the
// cache for next time. The cache is never authoritative: a Get here never
// fails just because the cache is cold or absent (size zero).
func (h *StoreHandle) Get(key []byte) ([]byte, bool, error) {
	if b, ok := h.meta.(*brokenMutableTree); ok {
		return nil, false, wrapIO(b.err)
	}
	ck := cacheKey(h.info.StructureID, key)
	if cached := h.txn.env.storeGetCache.Get([]string{ck}); len(cached) == 1 && cached[0] != nil {
		return cached[0], true, nil
	}
	v, ok := h.meta.Get(key)
	if ok {
		h.txn.env.storeGetCache.Set([]exodb.KeyValuePair[string, []byte]{{Key: ck, Value: v}})
	}
	return v, ok, nil
}

func (h *StoreHandle) Put(key, value []byte) error {
	if h.txn.readonly {
		return ErrReadonly
	}
	if b, ok := h.meta.(*brokenMutableTree); ok {
		return wrapIO(b.err)
	}
	h.meta.Put(key, value)
	h.txn.env.storeGetCache.Delete([]string{cacheKey(h.info.StructureID, key)})
	return nil
}

func (h *StoreHandle) Delete(key []byte) error {
	if h.txn.readonly {
		return ErrReadonly
	}
	if b, ok := h.meta.(*brokenMutableTree); ok {
		return wrapIO(b.err)
	}
	h.meta.Delete(key)
	h.txn.env.storeGetCache.Delete([]string{cacheKey(h.info.StructureID, key)})
	return nil
}

func (h *StoreHandle) ForEach(fn func(key, value []byte) bool) {
	h.meta.ForEach(fn)
}

// brokenMutableTree stands in for a store whose recorded root could not be
// loaded (err set), or for the temporary empty store OpenStore returns on a
// readonly environment (err nil). Its own methods do nothing;
// StoreHandle.Get/Put/Delete check for it and return err.
type brokenMutableTree struct{ err error }

func (b *brokenMutableTree) Get(key []byte) ([]byte, bool)   { return nil, false }
func (b *brokenMutableTree) Put(key, value []byte)           {}
func (b *brokenMutableTree) Delete(key []byte)               {}
func (b *brokenMutableTree) ForEach(fn func(k, v []byte) bool) {}
func (b *brokenMutableTree) ExpiredLoggables() []int64       { return nil }

// DeferredTask is a caller-supplied task the coordinator runs once it is
// certain no live transaction can still observe the MetaTree version in
// effect when the task was submitted (see ExecuteTransactionSafeTask): the
// task is stamped with the newest live transaction's root at submission
// time and drained once the oldest live root has advanced past it.
type DeferredTask struct {
	Run      func()
	stampRoot int64
	hasStamp bool
}
