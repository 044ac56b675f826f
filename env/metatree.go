package env

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/sharedcode/exodb"
)

// TreeMetaInfo is the per-store record kept in the MetaTree: its
// structure-id, the duplicates/prefixing flags fixed at creation, the
// address of its own tree root, and a PublicID that identifies the store
// across TruncateStore calls even though those reallocate StructureID.
type TreeMetaInfo struct {
	StructureID  int64
	Duplicates   bool
	Prefixing    bool
	RootAddress  int64
	HasRoot      bool
	PublicID     exodb.UUID
}

// MetaTree is an immutable snapshot of store-name to TreeMetaInfo. Every
// committed version of the environment corresponds to exactly one MetaTree
// root address; the coordinator never mutates a MetaTree in place, only
// ever builds and publishes a new one.
type MetaTree struct {
	Root  int64
	Stores map[string]TreeMetaInfo
}

// clone returns a MetaTree with an independently-mutable Stores map,
// leaving the receiver untouched.
func (mt MetaTree) clone() MetaTree {
	cp := make(map[string]TreeMetaInfo, len(mt.Stores))
	for k, v := range mt.Stores {
		cp[k] = v
	}
	return MetaTree{Root: mt.Root, Stores: cp}
}

// createMetaTree loads the MetaTree from log at rootAddress (if any root is
// recorded), returning the initial MetaTree and the highest structureId
// observed across its stores so the coordinator can seed its allocation
// counter above every id already in use.
func createMetaTree(log Log, store *MemTreeStore) (MetaTree, int64, error) {
	addr, ok := log.Tip()
	if !ok {
		return MetaTree{Stores: map[string]TreeMetaInfo{}}, metaTreeStructureID, nil
	}

	tree, err := store.Load(addr)
	if err != nil {
		return MetaTree{}, 0, err
	}

	stores := map[string]TreeMetaInfo{}
	var maxID int64 = metaTreeStructureID
	m := tree.Mutable()
	m.ForEach(func(key, value []byte) bool {
		info, err := decodeTreeMetaInfo(value)
		if err == nil {
			stores[string(key)] = info
			if info.StructureID > maxID {
				maxID = info.StructureID
			}
		}
		return true
	})

	return MetaTree{Root: addr, Stores: stores}, maxID, nil
}

// metaTreeStructureID is the distinguished structure-id reserved for the
// MetaTree itself: store structure-ids are always allocated above it.
const metaTreeStructureID = 1

// structureIDAllocator hands out monotonically increasing structure-ids,
// skipping any id whose low byte is zero.
type structureIDAllocator struct {
	mu   sync.Mutex
	next int64
}

func newStructureIDAllocator(seed int64) *structureIDAllocator {
	return &structureIDAllocator{next: seed}
}

func (a *structureIDAllocator) allocate() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		a.next++
		if a.next&0xff != 0 {
			return a.next
		}
	}
}

func encodeTreeMetaInfo(info TreeMetaInfo) []byte {
	var buf bytes.Buffer
	// gob.Encoder on this fixed struct never errors for these
	// plain scalar fields.
	_ = gob.NewEncoder(&buf).Encode(info)
	return buf.Bytes()
}

func decodeTreeMetaInfo(data []byte) (TreeMetaInfo, error) {
	var info TreeMetaInfo
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&info)
	return info, err
}
