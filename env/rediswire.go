package env

import (
	"context"

	"github.com/sharedcode/exodb"
	"github.com/sharedcode/exodb/cache"
)

// redisBackedStoreCache adapts an exodb.Cache (typically a rediscache
// client, registered by the application via exodb.RegisterCache) to the
// cache.Cache[string, []byte] shape StoreGetCache needs, for a Clustered
// DatabaseType deployment where multiple coordinator processes share one
// log location and want a warm cache kept in sync via Redis. It is still
// never authoritative: a Get failure or miss is treated exactly like an
// empty cache, never as a coordinator error.
type redisBackedStoreCache struct {
	backing exodb.Cache
}

func newRedisBackedStoreCache(backing exodb.Cache) cache.Cache[string, []byte] {
	return &redisBackedStoreCache{backing: backing}
}

func (r *redisBackedStoreCache) Clear() {}

func (r *redisBackedStoreCache) Set(items []exodb.KeyValuePair[string, []byte]) {
	ctx := context.Background()
	for _, item := range items {
		_ = r.backing.Set(ctx, item.Key, string(item.Value), 0)
	}
}

func (r *redisBackedStoreCache) Get(keys []string) [][]byte {
	ctx := context.Background()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if found, v, err := r.backing.Get(ctx, k); err == nil && found {
			out[i] = []byte(v)
		}
	}
	return out
}

func (r *redisBackedStoreCache) Delete(keys []string) {
	_, _ = r.backing.Delete(context.Background(), keys)
}

func (r *redisBackedStoreCache) Count() int { return 0 }

func (r *redisBackedStoreCache) IsFull() bool { return false }

func (r *redisBackedStoreCache) Evict() {}

func (r *redisBackedStoreCache) HitRate() float64 { return 0 }
