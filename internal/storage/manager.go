package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileSet resolves a table to the file backing it on disk. Grounded on the
// teacher's segment-based FileSet, simplified to one file per table since
// tables here are not expected to outgrow a single OS file.
type FileSet interface {
	OpenTable(tableID uint32) (*os.File, error)
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet stores each table as Dir/<tableID>.tbl, opened once and kept
// alive for the lifetime of the process.
type LocalFileSet struct {
	Dir string

	mu    sync.Mutex
	files map[uint32]*os.File
}

// NewLocalFileSet prepares a file set rooted at dir, creating it if needed.
func NewLocalFileSet(dir string) (*LocalFileSet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalFileSet{Dir: dir, files: make(map[uint32]*os.File)}, nil
}

func (fs *LocalFileSet) OpenTable(tableID uint32) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if f, ok := fs.files[tableID]; ok {
		return f, nil
	}
	path := filepath.Join(fs.Dir, fmt.Sprintf("%d.tbl", tableID))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	fs.files[tableID] = f
	return f, nil
}

// CloseAll closes every table file currently open.
func (fs *LocalFileSet) CloseAll() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var firstErr error
	for id, f := range fs.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(fs.files, id)
	}
	return firstErr
}

// Manager maps a PageID to an (offset in its table's file) and performs the
// actual reads and writes. It knows nothing about caching or transactions;
// it is the bottom of the stack that everything else is built on.
type Manager struct {
	fs FileSet
}

// NewManager wires a Manager to the given FileSet.
func NewManager(fs FileSet) *Manager {
	return &Manager{fs: fs}
}

func (m *Manager) offsetOf(id PageID) int64 {
	return int64(id.PageNum) * int64(PageSize)
}

// ReadPage loads one page from disk. A read past the current end of file
// is treated as a zero-filled, uninitialized page rather than an error, so
// callers can request a page that has never been written yet.
func (m *Manager) ReadPage(id PageID) (*Page, error) {
	f, err := m.fs.OpenTable(id.TableID)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, PageSize)
	n, err := f.ReadAt(buf, m.offsetOf(id))
	if err != nil && err != io.EOF {
		return nil, err
	}
	for i := n; i < PageSize; i++ {
		buf[i] = 0
	}
	return NewPageFromBytes(id, buf), nil
}

// WritePage persists a page's current bytes at its location.
func (m *Manager) WritePage(p *Page) error {
	f, err := m.fs.OpenTable(p.ID.TableID)
	if err != nil {
		return err
	}
	n, err := f.WriteAt(p.Buf, m.offsetOf(p.ID))
	if err != nil {
		return err
	}
	if n != PageSize {
		return io.ErrShortWrite
	}
	return nil
}

// Sync forces a table's file to stable storage. The buffer pool calls this
// after writing a page back as part of a commit; the WAL record for that
// page has already been forced by then, so the log is always durable
// ahead of the data it describes.
func (m *Manager) Sync(tableID uint32) error {
	f, err := m.fs.OpenTable(tableID)
	if err != nil {
		return err
	}
	return f.Sync()
}

// CountPages returns the number of pages currently allocated to a table.
func (m *Manager) CountPages(tableID uint32) (uint32, error) {
	f, err := m.fs.OpenTable(tableID)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return uint32(info.Size() / int64(PageSize)), nil
}

// AllocatePage returns a fresh, initialized page at the end of the table,
// writing it once so CountPages reflects the new page immediately.
func (m *Manager) AllocatePage(tableID uint32) (*Page, error) {
	n, err := m.CountPages(tableID)
	if err != nil {
		return nil, err
	}
	id := PageID{TableID: tableID, PageNum: n}
	p := NewPage(id)
	if err := m.WritePage(p); err != nil {
		return nil, err
	}
	return p, nil
}
