package env

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLog is a file-backed Log. Records are framed as a 4-byte big-endian
// length prefix followed by the payload. When LogConfig.SetDurableWrite(true)
// is in effect, each append is fsync'd before Append returns, at the cost
// of one fsync per record.
type FileLog struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	index   []indexEntry
	created time.Time
	cfg     *memLogConfig
	hits    int64
	misses  int64
	tipAddr int64
	hasTip  bool
}

type indexEntry struct {
	fileOffset int64
	length     int64
}

const logFileExtension = ".xdlog"

// OpenFileLog opens (or creates) a file-backed log rooted at dir.
func OpenFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "data"+logFileExtension)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	fl := &FileLog{
		path:    path,
		f:       f,
		created: time.Now(),
		cfg:     &memLogConfig{},
		tipAddr: 0,
		hasTip:  false,
	}
	if err := fl.rebuildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return fl, nil
}

// rebuildIndex scans the framed records from the start of the file,
// reconstructing the logical address -> file offset index. Acceptable for
// the embedded, single-writer usage this module targets; a production log
// would persist the index rather than replay it.
func (l *FileLog) rebuildIndex() error {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var idx []indexEntry
	var header [4]byte
	var off int64
	for {
		n, err := io.ReadFull(l.f, header[:])
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return err
		}
		length := int64(binary.BigEndian.Uint32(header[:]))
		payloadOff := off + 4
		if _, err := l.f.Seek(length, io.SeekCurrent); err != nil {
			return err
		}
		idx = append(idx, indexEntry{fileOffset: payloadOff, length: length})
		off = payloadOff + length
	}
	l.index = idx
	return nil
}

func (l *FileLog) HighAddress() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.index))
}

func (l *FileLog) SetHighAddress(addr int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if addr < 0 || addr > int64(len(l.index)) {
		return fmt.Errorf("address %d out of range [0,%d]", addr, len(l.index))
	}
	var truncateAt int64
	if addr > 0 {
		e := l.index[addr-1]
		truncateAt = e.fileOffset + e.length
	}
	if err := l.f.Truncate(truncateAt); err != nil {
		return err
	}
	l.index = l.index[:addr]
	return nil
}

func (l *FileLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	l.index = nil
	return nil
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func (l *FileLog) Location() string {
	return filepath.Dir(l.path)
}

func (l *FileLog) Created() time.Time {
	return l.created
}

func (l *FileLog) CacheHitRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.hits + l.misses
	if total == 0 {
		return 0
	}
	return float64(l.hits) / float64(total)
}

func (l *FileLog) Config() LogConfig {
	return l.cfg
}

func (l *FileLog) DiskUsage() int64 {
	fi, err := os.Stat(l.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (l *FileLog) Append(data []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return 0, err
	}
	fileOff, err := l.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := l.f.Write(header[:]); err != nil {
		return 0, err
	}

	l.cfg.mu.Lock()
	durable := l.cfg.durableWrite
	l.cfg.mu.Unlock()

	if durable {
		if err := l.appendDurable(data); err != nil {
			return 0, err
		}
	} else {
		if _, err := l.f.Write(data); err != nil {
			return 0, err
		}
	}

	addr := int64(len(l.index))
	l.index = append(l.index, indexEntry{fileOffset: fileOff + 4, length: int64(len(data))})
	return addr, nil
}

// appendDurable writes data then fsyncs before returning, so the record is
// guaranteed on stable storage once Append reports success.
func (l *FileLog) appendDurable(data []byte) error {
	if _, err := l.f.Write(data); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *FileLog) Read(address int64) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if address < 0 || address >= int64(len(l.index)) {
		l.misses++
		return nil, fmt.Errorf("no record at address %d", address)
	}
	e := l.index[address]
	buf := make([]byte, e.length)
	if _, err := l.f.ReadAt(buf, e.fileOffset); err != nil {
		return nil, err
	}
	l.hits++
	return buf, nil
}

func (l *FileLog) Tip() (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tipAddr, l.hasTip
}

func (l *FileLog) SetTip(addr int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tipAddr = addr
	l.hasTip = true
	return nil
}
