package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkdb/txstore/internal/bufferpool"
	"github.com/arkdb/txstore/internal/storage"
	"github.com/arkdb/txstore/internal/txn"
	"github.com/arkdb/txstore/internal/wal"
)

func newTestFile(t *testing.T) (*File, *bufferpool.Pool) {
	t.Helper()

	fs, err := storage.NewLocalFileSet(t.TempDir())
	require.NoError(t, err)
	mgr := storage.NewManager(fs)

	l, err := wal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	pool := bufferpool.New(mgr, l, bufferpool.DefaultCapacity)

	desc := storage.TupleDesc{Fields: []storage.FieldType{
		{Name: "id", Kind: storage.KindInt64},
		{Name: "name", Kind: storage.KindText},
	}}
	return Open(1, desc, pool, mgr), pool
}

func TestFile_InsertAndGet(t *testing.T) {
	f, pool := newTestFile(t)
	tid := txn.New()

	rid, _, err := f.InsertTuple(tid, storage.Tuple{Values: []any{int64(1), "a"}})
	require.NoError(t, err)
	require.NoError(t, pool.TransactionComplete(tid, true))

	readTid := txn.New()
	tup, err := f.GetTuple(readTid, RID{PageID: rid, Slot: 0})
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), "a"}, tup.Values)
	require.NoError(t, pool.TransactionComplete(readTid, true))
}

func TestFile_UpdateAndDelete(t *testing.T) {
	f, pool := newTestFile(t)
	tid := txn.New()

	pid, slot, err := f.InsertTuple(tid, storage.Tuple{Values: []any{int64(1), "a"}})
	require.NoError(t, err)
	rid := RID{PageID: pid, Slot: slot}

	require.NoError(t, f.UpdateTuple(tid, rid, storage.Tuple{Values: []any{int64(1), "b"}}))
	tup, err := f.GetTuple(tid, rid)
	require.NoError(t, err)
	require.Equal(t, "b", tup.Values[1])

	require.NoError(t, f.DeleteTuple(tid, rid.PageID, rid.Slot))
	require.NoError(t, pool.TransactionComplete(tid, true))

	readTid := txn.New()
	_, err = f.GetTuple(readTid, rid)
	require.ErrorIs(t, err, storage.ErrBadSlot)
	require.NoError(t, pool.TransactionComplete(readTid, true))
}

func TestFile_InsertAcrossTransactionsReusesLastPage(t *testing.T) {
	f, pool := newTestFile(t)

	t1 := txn.New()
	pid1, _, err := f.InsertTuple(t1, storage.Tuple{Values: []any{int64(1), "a"}})
	require.NoError(t, err)
	require.NoError(t, pool.TransactionComplete(t1, true))

	n, err := f.mgr.CountPages(f.TableID())
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)

	// A later transaction's insert must land on the same, still-open page
	// rather than forcing the file to grow by a page per transaction.
	t2 := txn.New()
	pid2, _, err := f.InsertTuple(t2, storage.Tuple{Values: []any{int64(2), "b"}})
	require.NoError(t, err)
	require.NoError(t, pool.TransactionComplete(t2, true))

	require.Equal(t, pid1, pid2)
	n, err = f.mgr.CountPages(f.TableID())
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)
}

func TestFile_Scan(t *testing.T) {
	f, pool := newTestFile(t)
	tid := txn.New()

	_, _, err := f.InsertTuple(tid, storage.Tuple{Values: []any{int64(1), "a"}})
	require.NoError(t, err)
	_, _, err = f.InsertTuple(tid, storage.Tuple{Values: []any{int64(2), "b"}})
	require.NoError(t, err)
	require.NoError(t, pool.TransactionComplete(tid, true))

	scanTid := txn.New()
	var seen []int64
	err = f.Scan(scanTid, func(rid RID, tup storage.Tuple) error {
		seen = append(seen, tup.Values[0].(int64))
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, seen)
	require.NoError(t, pool.TransactionComplete(scanTid, true))
}
