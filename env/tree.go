package env

import (
	"bytes"
	"encoding/gob"
	"sort"
	"sync"
)

// Tree is the external B-tree collaborator's narrow contract: load a
// previously-saved snapshot by its log address, derive a mutable working
// copy from it, and save a mutable copy back out as a new snapshot.
//
// MutableTree carries the expired-loggable bookkeeping a real B-tree would
// produce as a byproduct of copy-on-write node splitting/merging: the set
// of log addresses superseded by the save that GC should reclaim once no
// live transaction can still observe them.
type Tree interface {
	// Load returns the Tree snapshot rooted at rootAddress.
	Load(rootAddress int64) (Tree, error)
	// Mutable returns a working copy seeded from this snapshot.
	Mutable() MutableTree
	// Save persists m as a new snapshot and returns its root address. The
	// addresses superseded by this save are available via
	// m.ExpiredLoggables() immediately after Save returns.
	Save(m MutableTree) (rootAddress int64, err error)
}

// MutableTree is a transaction-private working copy of a Tree, mutated
// freely by a single writer and discarded on abort.
type MutableTree interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte)
	Delete(key []byte)
	// ForEach visits entries in key order; fn returning false stops the
	// iteration early.
	ForEach(fn func(key, value []byte) bool)
	// ExpiredLoggables returns the log addresses this working copy's Save
	// superseded. Populated only after Save has been called.
	ExpiredLoggables() []int64
}

// MemTreeStore is the default Tree implementation: a tree's snapshot is a
// whole-map gob blob appended to a Log, not a real node-level B-tree. Every
// Save therefore produces exactly one new log record, and the prior root
// (if any) is the single expired loggable fed back to the caller — a
// deliberate simplification, since the persistent B-tree proper is treated
// as an external collaborator by this package and is out of its scope.
type MemTreeStore struct {
	log Log
}

// NewMemTreeStore returns a Tree backed by log: Save appends snapshot blobs
// to it, Load reads them back by address.
func NewMemTreeStore(log Log) *MemTreeStore {
	return &MemTreeStore{log: log}
}

type treeSnapshot struct {
	entries map[string][]byte
}

func (s *MemTreeStore) Load(rootAddress int64) (Tree, error) {
	data, err := s.log.Read(rootAddress)
	if err != nil {
		return nil, wrapIO(err)
	}
	var entries map[string][]byte
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&entries); err != nil {
		return nil, wrapIO(err)
	}
	return &loadedTree{store: s, root: rootAddress, entries: entries}, nil
}

// loadedTree is a Tree value bound to a specific, already-loaded snapshot.
type loadedTree struct {
	store   *MemTreeStore
	root    int64
	entries map[string][]byte
}

func (t *loadedTree) Load(rootAddress int64) (Tree, error) {
	return t.store.Load(rootAddress)
}

func (t *loadedTree) Mutable() MutableTree {
	m := &mutableTree{
		store:        t.store,
		priorRoot:    t.root,
		hasPriorRoot: true,
		entries:      make(map[string][]byte, len(t.entries)),
	}
	for k, v := range t.entries {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.entries[k] = cp
	}
	return m
}

func (t *loadedTree) Save(m MutableTree) (int64, error) {
	return t.store.Save(m)
}

// NewEmptyTree returns a fresh, unrooted Tree (no prior saved snapshot),
// the starting point for a newly-created store.
func (s *MemTreeStore) NewEmptyTree() Tree {
	return &loadedTree{store: s, entries: map[string][]byte{}}
}

type mutableTree struct {
	mu           sync.Mutex
	store        *MemTreeStore
	priorRoot    int64
	hasPriorRoot bool
	entries      map[string][]byte
	expired      []int64
	saved        bool
}

func (m *mutableTree) Get(key []byte) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[string(key)]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true
}

func (m *mutableTree) Put(key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.entries[string(key)] = cp
}

func (m *mutableTree) Delete(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, string(key))
}

func (m *mutableTree) ForEach(fn func(key, value []byte) bool) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := m.entries
	m.mu.Unlock()

	for _, k := range keys {
		if !fn([]byte(k), entries[k]) {
			return
		}
	}
}

func (m *mutableTree) ExpiredLoggables() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

func (s *MemTreeStore) Save(mt MutableTree) (int64, error) {
	m, ok := mt.(*mutableTree)
	if !ok {
		return 0, wrapIO(errNotOurMutableTree)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.entries); err != nil {
		return 0, wrapIO(err)
	}
	addr, err := s.log.Append(buf.Bytes())
	if err != nil {
		return 0, wrapIO(err)
	}

	if m.hasPriorRoot {
		m.expired = []int64{m.priorRoot}
	} else {
		m.expired = nil
	}
	m.priorRoot = addr
	m.hasPriorRoot = true
	m.saved = true
	return addr, nil
}

var errNotOurMutableTree = &storeErr{"MutableTree not produced by this MemTreeStore"}

type storeErr struct{ s string }

func (e *storeErr) Error() string { return e.s }
