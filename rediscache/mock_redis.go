package rediscache

import (
	"context"
	"time"

	"github.com/sharedcode/exodb"
)

type mockRedis struct {
	lookup map[string][]byte
}

// NewMockClient returns an in-memory stand-in for a Redis-backed Cache,
// used in tests that exercise the cache-miss-tolerant call paths without a
// live Redis server.
func NewMockClient() exodb.Cache {
	return &mockRedis{
		lookup: make(map[string][]byte),
	}
}

// Unused by exodb's coordinator; stubs only for now.
func (m mockRedis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return nil
}
func (m mockRedis) Get(ctx context.Context, key string) (bool, string, error) {
	return false, "", nil
}
func (m mockRedis) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	return false, "", nil
}
func (m mockRedis) Ping(ctx context.Context) error {
	return nil
}

func (m *mockRedis) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ba, err := marshaler.Marshal(value)
	if err != nil {
		return err
	}
	m.lookup[key] = ba
	return nil
}

func (m *mockRedis) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	ba, ok := m.lookup[key]
	if !ok {
		return false, nil
	}
	return true, marshaler.Unmarshal(ba, target)
}

// GetStructEx only supports GetStruct; it ignores the expiration.
func (m *mockRedis) GetStructEx(ctx context.Context, key string, target interface{}, expiration time.Duration) (bool, error) {
	return m.GetStruct(ctx, key, target)
}

func (m *mockRedis) Delete(ctx context.Context, keys []string) (bool, error) {
	found := false
	for _, k := range keys {
		if _, ok := m.lookup[k]; ok {
			found = true
			delete(m.lookup, k)
		}
	}
	return found, nil
}
