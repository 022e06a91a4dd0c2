// Package disk implements raw, fixed-size page I/O against a single
// backing file. It is the buffer pool's only collaborator for durability;
// nothing above the buffer pool talks to it directly.
package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/hashindex/internal/fs"
	"github.com/calvinalkan/hashindex/internal/page"
)

// fileMagic and fileVersion identify the backing file format, following the
// fixed-header idiom (magic bytes, version, little-endian fixed fields)
// used for the cache file format in the reference pack's slot cache.
const (
	fileMagic   = "HIDX"
	fileVersion = uint32(1)
)

// File header field offsets, all within page 0.
const (
	offMagic      = 0  // [4]byte
	offVersion    = 4  // uint32
	offPageSize   = 8  // uint32
	offNextPageID = 12 // uint64, next id AllocatePage will hand out
)

// ErrIncompatible indicates the backing file's header does not match this
// package's expected format (bad magic, version, or page size).
var ErrIncompatible = errors.New("disk: incompatible file header")

// Manager owns the backing file and allocates/reads/writes fixed-size
// pages against it.
type Manager struct {
	fsys fs.FS
	file fs.File

	mu sync.Mutex

	nextPageID atomic.Int64
}

// Open opens (creating if necessary) the database file at path and
// validates or initializes its file-level header on page 0.
func Open(fsys fs.FS, path string) (*Manager, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("disk: checking %s: %w", path, err)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: opening %s: %w", path, err)
	}

	m := &Manager{fsys: fsys, file: f}

	if exists {
		if statErr := m.loadHeader(); statErr != nil {
			_ = f.Close()
			return nil, statErr
		}

		return m, nil
	}

	if initErr := m.writeHeader(1); initErr != nil {
		_ = f.Close()
		return nil, initErr
	}

	m.nextPageID.Store(1)

	return m, nil
}

func (m *Manager) loadHeader() error {
	buf := make([]byte, page.Size)

	if _, err := m.file.Seek(0, 0); err != nil {
		return fmt.Errorf("disk: seeking file header: %w", err)
	}

	n, err := m.file.Read(buf)
	if err != nil || n < offNextPageID+8 {
		return fmt.Errorf("%w: truncated header", ErrIncompatible)
	}

	if string(buf[offMagic:offMagic+4]) != fileMagic {
		return fmt.Errorf("%w: bad magic", ErrIncompatible)
	}

	if binary.LittleEndian.Uint32(buf[offVersion:]) != fileVersion {
		return fmt.Errorf("%w: unsupported version", ErrIncompatible)
	}

	if binary.LittleEndian.Uint32(buf[offPageSize:]) != uint32(page.Size) {
		return fmt.Errorf("%w: page size mismatch", ErrIncompatible)
	}

	next := binary.LittleEndian.Uint64(buf[offNextPageID:])
	m.nextPageID.Store(int64(next))

	return nil
}

func (m *Manager) writeHeader(nextPageID int64) error {
	buf := make([]byte, page.Size)
	copy(buf[offMagic:], fileMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], fileVersion)
	binary.LittleEndian.PutUint32(buf[offPageSize:], uint32(page.Size))
	binary.LittleEndian.PutUint64(buf[offNextPageID:], uint64(nextPageID))

	if _, err := m.file.Seek(0, 0); err != nil {
		return fmt.Errorf("disk: seeking file header: %w", err)
	}

	if _, err := m.file.Write(buf); err != nil {
		return fmt.Errorf("disk: writing file header: %w", err)
	}

	return nil
}

// AllocatePage returns a fresh, monotonically increasing page id. It only
// rewrites the file header's next-page-id field; it does not write the
// page itself, whose initial contents the caller writes via WritePage.
func (m *Manager) AllocatePage() page.ID {
	id := m.nextPageID.Add(1) - 1

	m.mu.Lock()
	_ = m.writeHeader(id + 1)
	m.mu.Unlock()

	return page.ID(id)
}

// ReadPage reads the page-sized block for id into buf, which must be at
// least page.Size bytes.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	if id <= 0 {
		return fmt.Errorf("disk: invalid page id %d", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	off := int64(id) * page.Size

	if _, err := m.file.Seek(off, 0); err != nil {
		return fmt.Errorf("disk: seeking page %d: %w", id, err)
	}

	n, err := m.file.Read(buf[:page.Size])
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("disk: reading page %d: %w", id, err)
	}

	// A page whose backing bytes were never written (e.g. a page that was
	// only ever zero-filled in memory and evicted without a flush prior to
	// this read) simply reads as zeros beyond EOF: Read at or past EOF
	// returns (0, io.EOF) or a short read, neither of which is a real error
	// here.
	for i := n; i < page.Size; i++ {
		buf[i] = 0
	}

	return nil
}

// WritePage writes data (exactly page.Size bytes) to id's slot in the
// backing file.
func (m *Manager) WritePage(id page.ID, data []byte) error {
	if id <= 0 {
		return fmt.Errorf("disk: invalid page id %d", id)
	}

	if len(data) != page.Size {
		return fmt.Errorf("disk: page %d: data length %d != page size %d", id, len(data), page.Size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	off := int64(id) * page.Size

	if _, err := m.file.Seek(off, 0); err != nil {
		return fmt.Errorf("disk: seeking page %d: %w", id, err)
	}

	if _, err := m.file.Write(data); err != nil {
		return fmt.Errorf("disk: writing page %d: %w", id, err)
	}

	return nil
}

// DeallocatePage is best-effort bookkeeping only: this implementation never
// reclaims disk space or reissues a deallocated id, consistent with the
// index's own non-goal of shrinkage.
func (m *Manager) DeallocatePage(page.ID) {}

// Shutdown flushes metadata and closes the backing file.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("disk: syncing: %w", err)
	}

	if err := m.file.Close(); err != nil {
		return fmt.Errorf("disk: closing: %w", err)
	}

	return nil
}
