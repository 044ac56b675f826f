package env

import (
	"context"
	"time"

	"testing"

	"github.com/sharedcode/exodb"
)

type fakeCache struct {
	data map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string]string{}} }

func (f *fakeCache) Ping(ctx context.Context) error { return nil }

func (f *fakeCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeCache) Get(ctx context.Context, key string) (bool, string, error) {
	v, ok := f.data[key]
	return ok, v, nil
}

func (f *fakeCache) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	return f.Get(ctx, key)
}

func (f *fakeCache) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	return nil
}

func (f *fakeCache) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	return false, nil
}

func (f *fakeCache) GetStructEx(ctx context.Context, key string, target any, expiration time.Duration) (bool, error) {
	return false, nil
}

func (f *fakeCache) Delete(ctx context.Context, keys []string) (bool, error) {
	found := false
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			found = true
			delete(f.data, k)
		}
	}
	return found, nil
}

func TestRedisBackedStoreCacheSetGet(t *testing.T) {
	backing := newFakeCache()
	c := newRedisBackedStoreCache(backing)

	c.Set([]exodb.KeyValuePair[string, []byte]{{Key: "a", Value: []byte("1")}})
	got := c.Get([]string{"a", "missing"})
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if string(got[0]) != "1" {
		t.Fatalf("expected a=1, got %q", got[0])
	}
	if got[1] != nil {
		t.Fatalf("expected a miss for an unset key, got %q", got[1])
	}
}

func TestRedisBackedStoreCacheDelete(t *testing.T) {
	backing := newFakeCache()
	c := newRedisBackedStoreCache(backing)
	c.Set([]exodb.KeyValuePair[string, []byte]{{Key: "a", Value: []byte("1")}})

	c.Delete([]string{"a"})
	got := c.Get([]string{"a"})
	if got[0] != nil {
		t.Fatalf("expected a to be gone after delete, got %q", got[0])
	}
}

func TestRedisBackedStoreCacheToleratesBackingMiss(t *testing.T) {
	c := newRedisBackedStoreCache(newFakeCache())
	if got := c.Get([]string{"nope"}); len(got) != 1 || got[0] != nil {
		t.Fatalf("expected a clean miss, got %v", got)
	}
	// Stubbed defaults must not panic.
	c.Clear()
	c.Evict()
	if c.Count() != 0 {
		t.Fatalf("expected Count() stub to be 0")
	}
	if c.IsFull() {
		t.Fatalf("expected IsFull() stub to be false")
	}
	if c.HitRate() != 0 {
		t.Fatalf("expected HitRate() stub to be 0")
	}
}
