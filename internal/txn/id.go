// Package txn defines the identity of an in-flight transaction. The
// per-transaction bookkeeping built on top of it (which pages a
// transaction holds locks on) lives in internal/lock, since it must be
// maintained under the same mutex as the lock table itself.
package txn

import (
	"fmt"

	"go.uber.org/atomic"
)

// TransactionID is opaque, comparable, and immutable for a transaction's
// lifetime. The zero value is never issued by New and is reserved to mean
// "no transaction" where a sentinel is convenient (e.g. a clean page's dirty
// marker).
type TransactionID uint64

func (id TransactionID) String() string {
	return fmt.Sprintf("tid(%d)", uint64(id))
}

var counter atomic.Uint64

// New allocates a fresh, process-unique TransactionID.
func New() TransactionID {
	return TransactionID(counter.Inc())
}
