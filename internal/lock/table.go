// Package lock implements page-granularity two-phase locking for the
// buffer pool, plus the transaction-to-pages bookkeeping the pool consults
// at commit and abort time.
package lock

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/arkdb/txstore/internal/storage"
	"github.com/arkdb/txstore/internal/txn"
)

// ErrTimeout is returned by Acquire when a lock request could not be
// granted before its deadline. The caller is expected to treat this as a
// probable deadlock and abort the requesting transaction. No wait-for graph
// is maintained; a randomized timeout is the sole deadlock resolution.
var ErrTimeout = errors.New("lock: acquire timed out")

// Mode is the granularity of access a transaction wants on a page.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// state is the lock state of a single page: who holds it, and in what mode.
// Shared locks may be held by many transactions at once; Exclusive locks by
// exactly one, and never alongside a Shared holder.
type state struct {
	holders map[txn.TransactionID]Mode
}

func newState() *state {
	return &state{holders: make(map[txn.TransactionID]Mode)}
}

func (s *state) isExclusivelyHeld() bool {
	for _, m := range s.holders {
		if m == Exclusive {
			return true
		}
	}
	return false
}

func (s *state) soleHolder() (txn.TransactionID, bool) {
	if len(s.holders) != 1 {
		return 0, false
	}
	for tid := range s.holders {
		return tid, true
	}
	return 0, false
}

// canGrant reports whether tid can be granted mode on a page in this state
// right now, without needing to wait.
func (s *state) canGrant(tid txn.TransactionID, mode Mode) bool {
	if len(s.holders) == 0 {
		return true
	}
	if existing, already := s.holders[tid]; already {
		if existing == Exclusive || mode == Shared {
			return true
		}
		// tid holds Shared and wants Exclusive: only safe to upgrade
		// in place if tid is the only holder.
		_, sole := s.soleHolder()
		return sole
	}
	if mode == Shared {
		return !s.isExclusivelyHeld()
	}
	return false
}

// Table is the LockTable: one instance shared by every transaction in the
// buffer pool. A single mutex and condition variable guard all page lock
// state, so that lock-state transitions and the transaction tracker update
// atomically together.
type Table struct {
	mu    sync.Mutex
	cond  *sync.Cond
	pages map[storage.PageID]*state

	// held is the transaction tracker: which pages each transaction
	// currently holds a lock on, maintained under the same mutex as pages
	// so the two structures can never disagree about who holds what.
	held map[txn.TransactionID]map[storage.PageID]struct{}

	// DefaultTimeout bounds how long Acquire waits when the caller passes
	// a zero timeout. Jittered so that transactions deadlocked on each
	// other don't retry in lockstep.
	DefaultTimeout time.Duration
}

// NewTable constructs an empty LockTable.
func NewTable() *Table {
	t := &Table{
		pages:          make(map[storage.PageID]*state),
		held:           make(map[txn.TransactionID]map[storage.PageID]struct{}),
		DefaultTimeout: 1500 * time.Millisecond,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Table) jitteredTimeout(max time.Duration) time.Duration {
	if max <= 0 {
		max = t.DefaultTimeout
	}
	// Uniform jitter in [max/2, max] so competing waiters don't wake in
	// lockstep and re-collide on the same page forever.
	half := max / 2
	return half + time.Duration(rand.Int63n(int64(half+1)))
}

// Acquire blocks until tid is granted mode on pid, or until the timeout
// elapses, in which case ErrTimeout is returned and no lock is held. A
// zero maxWait uses Table.DefaultTimeout.
func (t *Table) Acquire(tid txn.TransactionID, pid storage.PageID, mode Mode, maxWait time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(t.jitteredTimeout(maxWait))

	for {
		s, ok := t.pages[pid]
		if !ok {
			s = newState()
			t.pages[pid] = s
		}

		if s.canGrant(tid, mode) {
			// An Exclusive holder asking for Shared keeps Exclusive.
			if s.holders[tid] != Exclusive {
				s.holders[tid] = mode
			}
			t.trackLocked(tid, pid)
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		if !t.waitWithTimeout(remaining) {
			return ErrTimeout
		}
	}
}

// waitWithTimeout blocks on t.cond for at most d, returning false if the
// deadline was hit without a wakeup. t.mu must be held on entry and is
// held again on return. sync.Cond has no native timeout, so a helper
// goroutine fires a Broadcast when d elapses to force a re-check.
func (t *Table) waitWithTimeout(d time.Duration) bool {
	timer := time.AfterFunc(d, func() {
		t.cond.Broadcast()
	})
	defer timer.Stop()

	start := time.Now()
	t.cond.Wait()
	return time.Since(start) < d
}

func (t *Table) trackLocked(tid txn.TransactionID, pid storage.PageID) {
	set, ok := t.held[tid]
	if !ok {
		set = make(map[storage.PageID]struct{})
		t.held[tid] = set
	}
	set[pid] = struct{}{}
}

// Release drops tid's lock on pid, if any, and wakes any waiters that may
// now be grantable.
func (t *Table) Release(tid txn.TransactionID, pid storage.PageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(tid, pid)
	t.cond.Broadcast()
}

func (t *Table) releaseLocked(tid txn.TransactionID, pid storage.PageID) {
	if s, ok := t.pages[pid]; ok {
		delete(s.holders, tid)
		if len(s.holders) == 0 {
			delete(t.pages, pid)
		}
	}
	if set, ok := t.held[tid]; ok {
		delete(set, pid)
		if len(set) == 0 {
			delete(t.held, tid)
		}
	}
}

// ReleaseAll drops every lock tid holds, as happens at transaction commit
// or abort. It returns the set of pages that were released.
func (t *Table) ReleaseAll(tid txn.TransactionID) []storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.held[tid]
	pages := make([]storage.PageID, 0, len(set))
	for pid := range set {
		pages = append(pages, pid)
	}
	for _, pid := range pages {
		t.releaseLocked(tid, pid)
	}
	t.cond.Broadcast()
	return pages
}

// Holds reports whether tid currently holds a lock on pid, and in what
// mode.
func (t *Table) Holds(tid txn.TransactionID, pid storage.PageID) (Mode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.pages[pid]
	if !ok {
		return 0, false
	}
	mode, ok := s.holders[tid]
	return mode, ok
}

// PagesHeldBy returns the pages tid currently holds a lock on. This is the
// Transaction Tracker's read side: the buffer pool consults it at commit
// and abort to know which resident pages belong to the finishing
// transaction.
func (t *Table) PagesHeldBy(tid txn.TransactionID) []storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.held[tid]
	pages := make([]storage.PageID, 0, len(set))
	for pid := range set {
		pages = append(pages, pid)
	}
	return pages
}
