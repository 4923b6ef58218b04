// Package bufferpool implements the transactional buffer pool: the single
// chokepoint every page read or write passes through, responsible for
// page-granularity locking, caching pages in memory, and forcing the
// write-ahead log ahead of any data page it writes back to disk.
package bufferpool

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/arkdb/txstore/internal/cache"
	"github.com/arkdb/txstore/internal/lock"
	"github.com/arkdb/txstore/internal/storage"
	"github.com/arkdb/txstore/internal/txn"
	"github.com/arkdb/txstore/internal/wal"
)

const DefaultCapacity = 128

var (
	// ErrBufferFull is returned when every resident page is dirty and none
	// can be evicted to make room for the one requested.
	ErrBufferFull = errors.New("bufferpool: no clean page available to evict")

	// ErrUnknownTable is returned when a caller names a table the pool's
	// catalog does not know about.
	ErrUnknownTable = errors.New("bufferpool: unknown table")
)

// Permission is the access mode a caller wants on a page: Read for a
// shared lock, Write for an exclusive one.
type Permission int

const (
	Read Permission = iota
	Write
)

func (p Permission) lockMode() lock.Mode {
	if p == Write {
		return lock.Exclusive
	}
	return lock.Shared
}

// DbFile is the per-table interface the pool delegates insertTuple and
// deleteTuple to; internal/heap.File implements it. Declared here
// rather than imported from internal/heap to avoid a package cycle: heap
// needs *Pool to call GetPage, so bufferpool cannot import heap back.
type DbFile interface {
	TableID() uint32
	InsertTuple(tid txn.TransactionID, tup storage.Tuple) (storage.PageID, int, error)
	DeleteTuple(tid txn.TransactionID, pid storage.PageID, slot int) error
}

// Catalog resolves a table ID to the DbFile that implements it. Declared
// here for the same reason as DbFile; internal/catalog.Catalog implements
// it.
type Catalog interface {
	Lookup(tableID uint32) (DbFile, bool)
}

// Pool is the BufferPool facade: GetPage, InsertTuple, DeleteTuple,
// TransactionComplete, and the flush/discard family, all built on a
// LockTable, a PageCache, a StorageManager, and a WAL.
type Pool struct {
	locks *lock.Table
	mgr   *storage.Manager
	log   *wal.Log
	cat   Catalog

	mu    sync.Mutex
	cache *cache.Cache

	// AcquireTimeout bounds how long getPage waits for a lock before
	// treating the wait as a probable deadlock. Zero uses the LockTable's
	// own default.
	AcquireTimeout time.Duration
}

// New wires a Pool to its dependencies. The pool starts without a catalog;
// attach one with SetCatalog, since the catalog and the pool are typically
// constructed together and need to reference each other.
func New(mgr *storage.Manager, log *wal.Log, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		locks: lock.NewTable(),
		mgr:   mgr,
		log:   log,
		cache: cache.New(capacity),
	}
}

// SetCatalog attaches the catalog insertTuple/deleteTuple delegate to.
func (p *Pool) SetCatalog(cat Catalog) { p.cat = cat }

// Begin records the start of a transaction in the WAL. Callers are not
// required to call this before their first GetPage, but doing so gives
// recovery a Begin record to bound scans by.
func (p *Pool) Begin(tid txn.TransactionID) error {
	_, err := p.log.LogBegin(tid)
	return err
}

// GetPage returns the page identified by pid, acquiring the lock mode
// implied by perm first. If the page is not resident it is loaded from
// disk, evicting a clean victim first if the cache is full.
//
// Lock acquisition always happens before the pool's own mutex is taken,
// and never the reverse, so a blocked Acquire can never be holding the
// mutex another goroutine's GetPage needs.
func (p *Pool) GetPage(tid txn.TransactionID, pid storage.PageID, perm Permission) (*storage.Page, error) {
	if err := p.locks.Acquire(tid, pid, perm.lockMode(), p.AcquireTimeout); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pg, ok := p.cache.Get(pid); ok {
		return pg, nil
	}

	if p.cache.Len() >= p.cache.Capacity() {
		if err := p.evictLocked(); err != nil {
			return nil, err
		}
	}

	pg, err := p.mgr.ReadPage(pid)
	if err != nil {
		return nil, err
	}
	p.cache.Put(pid, pg)
	return pg, nil
}

// evictLocked picks a clean resident page and drops it from the cache.
// p.mu must be held. Dirty pages are never chosen: a transaction's
// uncommitted changes must never be forced to disk ahead of its commit,
// so eviction can only steal space back from pages nobody still owes a
// flush.
func (p *Pool) evictLocked() error {
	victim, ok := p.cache.ChooseEvictionVictim()
	if !ok {
		return ErrBufferFull
	}
	p.cache.Remove(victim)
	return nil
}

// Evict forces one clean page out of the cache, if any is available. It
// exists for tests that want to exercise eviction deterministically
// without filling the pool to capacity first.
func (p *Pool) Evict() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictLocked()
}

// InsertTuple delegates to the DbFile registered for tableID.
func (p *Pool) InsertTuple(tid txn.TransactionID, tableID uint32, tup storage.Tuple) (storage.PageID, int, error) {
	df, ok := p.lookupTable(tableID)
	if !ok {
		return storage.PageID{}, 0, ErrUnknownTable
	}
	return df.InsertTuple(tid, tup)
}

// DeleteTuple delegates to the DbFile owning pid.
func (p *Pool) DeleteTuple(tid txn.TransactionID, pid storage.PageID, slot int) error {
	df, ok := p.lookupTable(pid.TableID)
	if !ok {
		return ErrUnknownTable
	}
	return df.DeleteTuple(tid, pid, slot)
}

func (p *Pool) lookupTable(tableID uint32) (DbFile, bool) {
	if p.cat == nil {
		return nil, false
	}
	return p.cat.Lookup(tableID)
}

// TransactionComplete ends tid, committing its changes if commit is true
// and discarding them otherwise, then releases every lock tid holds.
//
// Commit logs each of tid's dirty pages and forces that update record
// before writing the page back to its table file, then appends and forces
// tid's commit record once every page has been attempted, so recovery
// redoes tid only after the commit record is durable. Abort
// restores each dirty page's bytes from its before-image in place, so no
// disk I/O is needed to undo work that never left memory.
//
// Errors encountered while flushing individual pages are collected and
// returned together rather than aborting the whole sweep early, so a
// single bad page doesn't leave the rest of the transaction's pages
// neither flushed nor released.
func (p *Pool) TransactionComplete(tid txn.TransactionID, commit bool) error {
	pages := p.locks.PagesHeldBy(tid)

	var errs error
	if commit {
		errs = p.commitPages(tid, pages)
		lsn, err := p.log.LogCommit(tid)
		if err == nil {
			err = p.log.Flush(lsn)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	} else {
		p.abortPages(pages)
		if _, err := p.log.LogAbort(tid); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	p.locks.ReleaseAll(tid)
	return errs
}

func (p *Pool) commitPages(tid txn.TransactionID, pages []storage.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for _, pid := range pages {
		pg, ok := p.cache.Get(pid)
		if !ok {
			continue
		}
		by, dirty := pg.IsDirty()
		if !dirty || by != tid {
			continue
		}

		lsn, err := p.log.LogUpdate(tid, pid.TableID, pid.PageNum, pg.BeforeImage(), pg.Buf)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := p.log.Flush(lsn); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := p.mgr.WritePage(pg); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := p.mgr.Sync(pid.TableID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		pg.SetDirty(0, false)
		pg.CaptureBeforeImage()
	}
	return errs
}

func (p *Pool) abortPages(pages []storage.PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pid := range pages {
		pg, ok := p.cache.Get(pid)
		if !ok {
			continue
		}
		if _, dirty := pg.IsDirty(); dirty {
			pg.RestoreFromBeforeImage()
			pg.SetDirty(0, false)
		}
	}
}

// FlushPage forces pid's page to disk if it is resident and dirty,
// whichever transaction dirtied it, logging its update record first. It bypasses transaction bookkeeping entirely and
// is meant for shutdown and test code, not normal operation: calling it
// on a page still owned by an in-flight transaction breaks that
// transaction's atomicity if the process later aborts it.
func (p *Pool) FlushPage(pid storage.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushPageLocked(pid)
}

func (p *Pool) flushPageLocked(pid storage.PageID) error {
	pg, ok := p.cache.Get(pid)
	if !ok {
		return nil
	}
	by, dirty := pg.IsDirty()
	if !dirty {
		return nil
	}
	lsn, err := p.log.LogUpdate(by, pid.TableID, pid.PageNum, pg.BeforeImage(), pg.Buf)
	if err != nil {
		return err
	}
	if err := p.log.Flush(lsn); err != nil {
		return err
	}
	if err := p.mgr.WritePage(pg); err != nil {
		return err
	}
	pg.SetDirty(0, false)
	pg.CaptureBeforeImage()
	return nil
}

// FlushAllPages forces every dirty resident page to disk. Like FlushPage,
// this is test/shutdown-only: it ignores which transaction owns each
// page's changes, so using it mid-workload can publish a transaction's
// writes before that transaction has committed.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	keys := p.cache.Keys()
	p.mu.Unlock()

	var errs error
	for _, pid := range keys {
		p.mu.Lock()
		err := p.flushPageLocked(pid)
		p.mu.Unlock()
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// FlushPages forces only the dirty pages currently held by tid, without
// releasing its locks or ending the transaction. This is the stricter of
// the two semantics the design considered: flushing every resident page
// regardless of ownership would let one transaction's FlushPages publish
// another's uncommitted writes.
func (p *Pool) FlushPages(tid txn.TransactionID) error {
	pages := p.locks.PagesHeldBy(tid)

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for _, pid := range pages {
		pg, ok := p.cache.Get(pid)
		if !ok {
			continue
		}
		if by, dirty := pg.IsDirty(); !dirty || by != tid {
			continue
		}
		if err := p.flushPageLocked(pid); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// DiscardPage drops pid from the cache without flushing it, losing any
// uncommitted changes it carried. Used by recovery and by tests that want
// to simulate a page falling out of memory.
func (p *Pool) DiscardPage(pid storage.PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(pid)
}

// UnsafeReleasePage releases tid's lock on pid without flushing or
// discarding anything. Violates two-phase locking's own discipline by
// construction, so it exists only for tests that need to simulate a
// transaction giving up a lock mid-flight.
func (p *Pool) UnsafeReleasePage(tid txn.TransactionID, pid storage.PageID) {
	p.locks.Release(tid, pid)
}

// Recover replays the WAL against the pool's StorageManager, for use at
// startup before any transaction is allowed to begin.
func (p *Pool) Recover() error {
	return p.log.Recover(recoverWriter{p.mgr})
}

type recoverWriter struct{ mgr *storage.Manager }

func (w recoverWriter) WritePage(tableID, pageNum uint32, buf []byte) error {
	pg := storage.NewPageFromBytes(storage.PageID{TableID: tableID, PageNum: pageNum}, buf)
	return w.mgr.WritePage(pg)
}
