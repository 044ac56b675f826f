package exodb

import (
	"context"
	"time"
)

// Cache is the minimal key/value caching contract a StoreGetCache or
// TreeNodesCache backend must satisfy. It is intentionally narrow: plain
// string/byte gets and sets with an expiration, plus a struct-valued
// convenience pair built on the package Marshaler. Implementations never
// need to be authoritative — every caller must tolerate a miss.
type Cache interface {
	// Ping verifies connectivity to the backing store, if any.
	Ping(ctx context.Context) error
	// Set stores value under key with the given expiration (0 = no expiry).
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get retrieves the value for key; found is false on a cache miss.
	Get(ctx context.Context, key string) (found bool, value string, err error)
	// GetEx behaves like Get but also refreshes the entry's expiration.
	GetEx(ctx context.Context, key string, expiration time.Duration) (found bool, value string, err error)
	// SetStruct marshals value and stores it under key.
	SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error
	// GetStruct unmarshals the cached value for key into target.
	GetStruct(ctx context.Context, key string, target any) (found bool, err error)
	// GetStructEx behaves like GetStruct but also refreshes the entry's expiration.
	GetStructEx(ctx context.Context, key string, target any, expiration time.Duration) (found bool, err error)
	// Delete removes the given keys; found reports whether any existed.
	Delete(ctx context.Context, keys []string) (found bool, err error)
}

// CloseableCache is a Cache bound to a connection the caller owns and must
// close when done with it.
type CloseableCache interface {
	Cache
	Close() error
}
