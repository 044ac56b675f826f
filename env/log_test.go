package env

import (
	"testing"
)

func TestMemLogAppendReadHighAddress(t *testing.T) {
	l := NewMemLog("test")
	a0, err := l.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if a0 != 0 {
		t.Fatalf("expected first address 0, got %d", a0)
	}
	if hi := l.HighAddress(); hi != 1 {
		t.Fatalf("expected high address 1, got %d", hi)
	}
	data, err := l.Read(a0)
	if err != nil || string(data) != "hello" {
		t.Fatalf("read: %q err=%v", data, err)
	}
}

func TestMemLogSetHighAddressRollback(t *testing.T) {
	l := NewMemLog("test")
	_, _ = l.Append([]byte("a"))
	_, _ = l.Append([]byte("b"))
	if err := l.SetHighAddress(1); err != nil {
		t.Fatalf("set high address: %v", err)
	}
	if hi := l.HighAddress(); hi != 1 {
		t.Fatalf("expected high address 1 after rollback, got %d", hi)
	}
	if _, err := l.Read(1); err == nil {
		t.Fatalf("expected record at truncated address to be gone")
	}
}

func TestMemLogTip(t *testing.T) {
	l := NewMemLog("test")
	if _, ok := l.Tip(); ok {
		t.Fatalf("expected no tip on a fresh log")
	}
	if err := l.SetTip(42); err != nil {
		t.Fatalf("set tip: %v", err)
	}
	addr, ok := l.Tip()
	if !ok || addr != 42 {
		t.Fatalf("expected tip 42, got %d ok=%v", addr, ok)
	}
}

func TestMemLogCacheHitRate(t *testing.T) {
	l := NewMemLog("test")
	a0, _ := l.Append([]byte("x"))
	_, _ = l.Read(a0)
	_, _ = l.Read(99)
	if hr := l.CacheHitRate(); hr != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", hr)
	}
}

func TestFileLogAppendReadPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenFileLog(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	addr, err := l.Append([]byte("payload"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2, err := OpenFileLog(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	data, err := l2.Read(addr)
	if err != nil || string(data) != "payload" {
		t.Fatalf("read after reopen: %q err=%v", data, err)
	}
	if hi := l2.HighAddress(); hi != 1 {
		t.Fatalf("expected high address 1 after reopen, got %d", hi)
	}
}

func TestFileLogClear(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenFileLog(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = l.Append([]byte("x"))
	if err := l.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if hi := l.HighAddress(); hi != 0 {
		t.Fatalf("expected high address 0 after clear, got %d", hi)
	}
}

func TestFileLogDurableWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenFileLog(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	l.Config().SetDurableWrite(true)

	addr, err := l.Append([]byte("durable-payload"))
	if err != nil {
		t.Fatalf("durable append: %v", err)
	}
	data, err := l.Read(addr)
	if err != nil || string(data) != "durable-payload" {
		t.Fatalf("read: %q err=%v", data, err)
	}
}
