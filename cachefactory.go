package exodb

// CacheType selects the backing implementation a Cache-producing factory
// should build: purely in-process, or fronted by a shared Redis instance
// for a Clustered deployment (see DatabaseType).
type CacheType int

const (
	// InMemory represents an in-process cache.
	InMemory CacheType = iota
	// Redis represents a Redis-backed cache.
	Redis
)

// CacheFactory builds a Cache implementation. A backend package registers
// one per CacheType (rediscache.Register does so for Redis) so the
// environment coordinator can build its StoreGetCache for a Clustered
// deployment without importing a concrete backend package directly.
type CacheFactory func() Cache

var globalCacheFactory CacheFactory
var cacheRegistry = make(map[CacheType]CacheFactory)

// RegisterCache registers a cache factory for a given type.
func RegisterCache(t CacheType, f CacheFactory) {
	cacheRegistry[t] = f
}

// setCacheFactory sets the global cache factory function.
func setCacheFactory(f CacheFactory) {
	globalCacheFactory = f
}

// SetCacheFactory sets the global cache factory based on the provided type.
func SetCacheFactory(t CacheType) {
	if f, ok := cacheRegistry[t]; ok {
		setCacheFactory(f)
	}
}

// NewCacheClient creates a new cache client using the registered factory.
// It returns nil if no factory is registered.
func NewCacheClient() Cache {
	if globalCacheFactory == nil {
		return nil
	}
	return globalCacheFactory()
}
