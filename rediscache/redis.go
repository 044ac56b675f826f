// Package rediscache provides a Redis-backed exodb.Cache implementation,
// used to back StoreGetCache when the environment is configured for a
// Clustered DatabaseType (TreeNodesCache stays in-process). The commit algorithm never
// depends on this cache; it is a pass-through performance layer that every
// caller must tolerate missing.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/exodb"
)

var marshaler = exodb.NewMarshaler()

// Register wires this package's NewClient into the root CacheFactory
// registry under exodb.Redis, so Environment.rebuildCaches can pick it up
// for a Clustered DatabaseType without importing this package directly.
// Call it once, after OpenConnection, typically from an application's
// startup code.
func Register() {
	exodb.RegisterCache(exodb.Redis, NewClient)
	exodb.SetCacheFactory(exodb.Redis)
}

type client struct {
	conn    *Connection
	isOwner bool
}

// NewClient returns a Cache bound to the package-level singleton
// connection. Call OpenConnection first.
func NewClient() exodb.Cache {
	return &client{
		conn: connection,
	}
}

// NewConnectionClient opens a new, independently owned Redis connection and
// returns a client wrapper for it. Useful when a caller wants a cache
// dedicated to a different Redis cluster than the package-level singleton,
// e.g. one reserved for TreeNodesCache separate from StoreGetCache.
func NewConnectionClient(options Options) exodb.CloseableCache {
	c := openConnection(options)
	return &client{
		conn:    c,
		isOwner: true,
	}
}

// Close releases this client's connection if it owns one.
func (c *client) Close() error {
	if !c.isOwner || c.conn == nil {
		return nil
	}
	err := closeConnection(c.conn)
	c.conn = nil
	return err
}

func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

// Ping verifies connectivity (a PONG should be returned).
func (c client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("redis connection is not open, can't use this client")
	}
	_, err := c.conn.Client.Ping(ctx).Result()
	return err
}

// Clear flushes the selected Redis database. Caution: this is global to
// whatever shares that database, not scoped to this cache's keys.
func (c client) Clear(ctx context.Context) error {
	return c.conn.Client.FlushDB(ctx).Err()
}

// Set executes the Redis SET command.
func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("redis connection is not open, can't use this client")
	}
	// No caching if expiration < 0.
	if expiration < 0 {
		return nil
	}
	return c.conn.Client.Set(ctx, key, value, expiration).Err()
}

// Get executes the Redis GET command.
func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	if c.conn == nil {
		return false, "", fmt.Errorf("redis connection is not open, can't use this client")
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// GetEx executes the Redis GETEX command.
func (c client) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	if c.conn == nil {
		return false, "", fmt.Errorf("redis connection is not open, can't use this client")
	}
	s, err := c.conn.Client.GetEx(ctx, key, expiration).Result()
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// SetStruct marshals value and executes the Redis SET command.
func (c client) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("redis connection is not open, can't use this client")
	}
	if expiration < 0 {
		return nil
	}
	ba, err := marshaler.Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, key, ba, expiration).Err()
}

// GetStruct executes the Redis GET command and unmarshals into target.
func (c client) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("redis connection is not open, can't use this client")
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := c.conn.Client.Get(ctx, key).Bytes()
	if err == nil {
		err = marshaler.Unmarshal(ba, target)
	}
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}

// GetStructEx executes the Redis GETEX command and unmarshals into target.
func (c client) GetStructEx(ctx context.Context, key string, target interface{}, expiration time.Duration) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("redis connection is not open, can't use this client")
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := c.conn.Client.GetEx(ctx, key, expiration).Bytes()
	if err == nil {
		err = marshaler.Unmarshal(ba, target)
	}
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}

// Delete executes the Redis DEL command.
func (c client) Delete(ctx context.Context, keys []string) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("redis connection is not open, can't use this client")
	}
	rs := c.conn.Client.Del(ctx, keys...)
	err := rs.Err()
	r := err == nil && rs.Val() > 0
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}
