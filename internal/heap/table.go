// Package heap implements a heap file: an unordered collection of tuples
// spread across a table's pages, accessed exclusively through the buffer
// pool so every read and write is subject to locking and WAL discipline.
package heap

import (
	"errors"
	"log/slog"

	"go.uber.org/atomic"

	"github.com/arkdb/txstore/internal/bufferpool"
	"github.com/arkdb/txstore/internal/storage"
	"github.com/arkdb/txstore/internal/txn"
)

// RID identifies one tuple: the page it lives on and its slot within that
// page.
type RID struct {
	PageID storage.PageID
	Slot   int
}

var ErrTableClosed = errors.New("heap: table is closed")

var _ bufferpool.DbFile = (*File)(nil)

// File is one table's heap file: its identity, its row layout, and the
// buffer pool and storage manager it reads and writes pages through.
type File struct {
	tableID uint32
	desc    storage.TupleDesc

	bp  *bufferpool.Pool
	mgr *storage.Manager

	closed atomic.Bool
}

// Open wires a heap file to its table ID, row descriptor, and the shared
// buffer pool and storage manager the whole database uses.
func Open(tableID uint32, desc storage.TupleDesc, bp *bufferpool.Pool, mgr *storage.Manager) *File {
	return &File{tableID: tableID, desc: desc, bp: bp, mgr: mgr}
}

func (f *File) TableID() uint32 { return f.tableID }

func (f *File) ensureOpen() error {
	if f.closed.Load() {
		return ErrTableClosed
	}
	return nil
}

// InsertTuple encodes values against the file's TupleDesc and appends the
// result to the last page with room, allocating a new page if none has
// space. It implements bufferpool.DbFile.
func (f *File) InsertTuple(tid txn.TransactionID, tup storage.Tuple) (storage.PageID, int, error) {
	if err := f.ensureOpen(); err != nil {
		return storage.PageID{}, 0, err
	}

	encoded, err := storage.EncodeTuple(f.desc, tup)
	if err != nil {
		return storage.PageID{}, 0, err
	}

	n, err := f.mgr.CountPages(f.tableID)
	if err != nil {
		return storage.PageID{}, 0, err
	}

	// Try the last existing page first, since that's where InsertTuple
	// usually finds room; only allocate a fresh page once every existing
	// one is full. An empty file has no last page to try, so start at 0.
	start := uint32(0)
	if n > 0 {
		start = n - 1
	}

	for pageNum := start; ; pageNum++ {
		pid := storage.PageID{TableID: f.tableID, PageNum: pageNum}

		pg, err := f.bp.GetPage(tid, pid, bufferpool.Write)
		if err != nil {
			return storage.PageID{}, 0, err
		}

		slot, err := pg.InsertTuple(encoded)
		if errors.Is(err, storage.ErrNoSpace) {
			continue
		}
		if err != nil {
			return storage.PageID{}, 0, err
		}

		pg.SetDirty(tid, true)
		return pid, slot, nil
	}
}

// DeleteTuple marks a slot deleted. It implements bufferpool.DbFile.
func (f *File) DeleteTuple(tid txn.TransactionID, pid storage.PageID, slot int) error {
	if err := f.ensureOpen(); err != nil {
		return err
	}
	pg, err := f.bp.GetPage(tid, pid, bufferpool.Write)
	if err != nil {
		return err
	}
	if err := pg.DeleteTuple(slot); err != nil {
		return err
	}
	pg.SetDirty(tid, true)
	return nil
}

// GetTuple reads one tuple by RID under a shared lock.
func (f *File) GetTuple(tid txn.TransactionID, rid RID) (storage.Tuple, error) {
	if err := f.ensureOpen(); err != nil {
		return storage.Tuple{}, err
	}
	pg, err := f.bp.GetPage(tid, rid.PageID, bufferpool.Read)
	if err != nil {
		return storage.Tuple{}, err
	}
	raw, err := pg.ReadTuple(rid.Slot)
	if err != nil {
		return storage.Tuple{}, err
	}
	return storage.DecodeTuple(f.desc, raw)
}

// UpdateTuple overwrites a tuple in place under an exclusive lock.
func (f *File) UpdateTuple(tid txn.TransactionID, rid RID, tup storage.Tuple) error {
	if err := f.ensureOpen(); err != nil {
		return err
	}
	encoded, err := storage.EncodeTuple(f.desc, tup)
	if err != nil {
		return err
	}
	pg, err := f.bp.GetPage(tid, rid.PageID, bufferpool.Write)
	if err != nil {
		return err
	}
	if err := pg.UpdateTuple(rid.Slot, encoded); err != nil {
		return err
	}
	pg.SetDirty(tid, true)
	return nil
}

// Scan visits every live tuple in the file, in page then slot order,
// calling fn for each. A shared lock is taken on every page visited.
func (f *File) Scan(tid txn.TransactionID, fn func(rid RID, tup storage.Tuple) error) error {
	if err := f.ensureOpen(); err != nil {
		return err
	}

	n, err := f.mgr.CountPages(f.tableID)
	if err != nil {
		return err
	}

	for pageNum := uint32(0); pageNum < n; pageNum++ {
		pid := storage.PageID{TableID: f.tableID, PageNum: pageNum}
		pg, err := f.bp.GetPage(tid, pid, bufferpool.Read)
		if err != nil {
			return err
		}
		for slot := 0; slot < pg.NumSlots(); slot++ {
			raw, err := pg.ReadTuple(slot)
			if errors.Is(err, storage.ErrBadSlot) {
				continue
			}
			if err != nil {
				return err
			}
			tup, err := storage.DecodeTuple(f.desc, raw)
			if err != nil {
				return err
			}
			if err := fn(RID{PageID: pid, Slot: slot}, tup); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close marks the file closed. Any resident pages are left for the buffer
// pool to manage; Close does not itself flush anything.
func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	slog.Debug("heap: table closed", "tableID", f.tableID)
	return nil
}
