package env

import (
	"fmt"
	"sync"
	"time"
)

// LogConfig is the mutable subset of a Log's configuration the
// coordinator forwards cache-invalidation-style notifications to.
type LogConfig interface {
	// SetSyncPeriod adjusts how often the log flushes to stable storage.
	SetSyncPeriod(d time.Duration)
	// SetDurableWrite toggles fsync-per-write durability.
	SetDurableWrite(durable bool)
}

// Log is the append-only record store the coordinator consumes. The
// physical log is an external collaborator; only this narrow contract is
// used by the coordinator itself.
type Log interface {
	// HighAddress returns the next free offset.
	HighAddress() int64
	// SetHighAddress forcibly rewinds (or advances) the log's high
	// address, used to roll back a failed commit.
	SetHighAddress(addr int64) error
	// Clear discards all records and resets HighAddress to 0.
	Clear() error
	// Close releases the log's resources.
	Close() error
	// Location returns the log's storage location (a path, or a
	// descriptive name for in-memory logs).
	Location() string
	// Created returns the log's creation timestamp.
	Created() time.Time
	// CacheHitRate reports the log's own internal page/block cache hit
	// rate, if it maintains one; 0 otherwise.
	CacheHitRate() float64
	// Config returns the log's mutable configuration.
	Config() LogConfig
	// DiskUsage returns the bytes currently occupied by this log's
	// backing storage.
	DiskUsage() int64

	// Append writes data as a new record and returns its address. The
	// record is considered durable according to the log's current
	// Config(); HighAddress() advances past it.
	Append(data []byte) (address int64, err error)
	// Read returns the record previously written at address.
	Read(address int64) ([]byte, error)

	// Tip returns the most recently committed MetaTree root address
	// recorded by the log, if any. This is a convenience used by
	// OpenEnvironment to locate the MetaTree on open; real external log
	// implementations typically derive this by replaying records from
	// HighAddress backward, a recovery mechanism out of this module's
	// scope. Default Log implementations persist it directly.
	Tip() (address int64, ok bool)
	// SetTip records addr as the latest committed MetaTree root.
	SetTip(addr int64) error
}

type memLogConfig struct {
	mu           sync.Mutex
	syncPeriod   time.Duration
	durableWrite bool
}

func (c *memLogConfig) SetSyncPeriod(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncPeriod = d
}

func (c *memLogConfig) SetDurableWrite(durable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durableWrite = durable
}

// MemLog is an in-memory Log implementation, used as the default backend
// for tests and for standalone use where durability across process
// restarts is not required.
type MemLog struct {
	mu        sync.RWMutex
	records   [][]byte
	created   time.Time
	tip       int64
	hasTip    bool
	hits      int64
	misses    int64
	cfg       *memLogConfig
	location  string
}

// NewMemLog returns an empty in-memory Log located at the given descriptive
// name (used only for diagnostics, since there is no filesystem path).
func NewMemLog(location string) *MemLog {
	return &MemLog{
		created:  time.Now(),
		cfg:      &memLogConfig{},
		location: location,
	}
}

func (l *MemLog) HighAddress() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.records))
}

func (l *MemLog) SetHighAddress(addr int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if addr < 0 || addr > int64(len(l.records)) {
		return fmt.Errorf("address %d out of range [0,%d]", addr, len(l.records))
	}
	l.records = l.records[:addr]
	return nil
}

func (l *MemLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.hasTip = false
	l.tip = 0
	return nil
}

func (l *MemLog) Close() error {
	return nil
}

func (l *MemLog) Location() string {
	return l.location
}

func (l *MemLog) Created() time.Time {
	return l.created
}

func (l *MemLog) CacheHitRate() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := l.hits + l.misses
	if total == 0 {
		return 0
	}
	return float64(l.hits) / float64(total)
}

func (l *MemLog) Config() LogConfig {
	return l.cfg
}

func (l *MemLog) DiskUsage() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var n int64
	for _, r := range l.records {
		n += int64(len(r))
	}
	return n
}

func (l *MemLog) Append(data []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr := int64(len(l.records))
	cp := make([]byte, len(data))
	copy(cp, data)
	l.records = append(l.records, cp)
	return addr, nil
}

func (l *MemLog) Read(address int64) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if address < 0 || address >= int64(len(l.records)) {
		l.misses++
		return nil, fmt.Errorf("no record at address %d", address)
	}
	l.hits++
	return l.records[address], nil
}

func (l *MemLog) Tip() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tip, l.hasTip
}

func (l *MemLog) SetTip(addr int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tip = addr
	l.hasTip = true
	return nil
}
