// Package exodb provides the shared types and helpers used across the exodb
// embedded storage engine: errors, UUIDs, key/value pair helpers, marshaling,
// logging setup, retry/backoff, and the pluggable cache-factory registry.
// The environment coordinator, meta-tree, and transaction machinery live in
// the env subpackage; a generic MRU cache lives in the cache subpackage;
// an optional Redis-backed cache lives in the rediscache subpackage.
//
// This package is foundational: other packages build on it, but it has no
// dependency on them.
package exodb

// Timeout model
//
// Environment operations (including transaction commits) take no context
// and are not bounded by a timer. The configured transaction timeout only
// drives the stuck-transaction monitor, which logs transactions older than
// the timeout and never aborts them. Cancellation is always cooperative:
// Abort is safe to call on every exit path.
