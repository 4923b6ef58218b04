package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkdb/txstore/internal/bufferpool"
	"github.com/arkdb/txstore/internal/storage"
	"github.com/arkdb/txstore/internal/txn"
	"github.com/arkdb/txstore/internal/wal"
)

func newTestCatalog(t *testing.T) (*Catalog, *bufferpool.Pool) {
	t.Helper()

	fs, err := storage.NewLocalFileSet(t.TempDir())
	require.NoError(t, err)
	mgr := storage.NewManager(fs)

	l, err := wal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	pool := bufferpool.New(mgr, l, bufferpool.DefaultCapacity)

	cat, err := Open(t.TempDir(), pool, mgr)
	require.NoError(t, err)
	return cat, pool
}

func testDesc() storage.TupleDesc {
	return storage.TupleDesc{Fields: []storage.FieldType{
		{Name: "id", Kind: storage.KindInt64},
	}}
}

func TestCatalog_CreateAndOpenTable(t *testing.T) {
	cat, _ := newTestCatalog(t)

	f, err := cat.CreateTable("widgets", testDesc())
	require.NoError(t, err)
	require.Equal(t, uint32(0), f.TableID())

	opened, err := cat.OpenTable("widgets")
	require.NoError(t, err)
	require.Equal(t, f.TableID(), opened.TableID())
}

func TestCatalog_CreateTableTwiceFails(t *testing.T) {
	cat, _ := newTestCatalog(t)

	_, err := cat.CreateTable("widgets", testDesc())
	require.NoError(t, err)

	_, err = cat.CreateTable("widgets", testDesc())
	require.ErrorIs(t, err, ErrTableExists)
}

func TestCatalog_OpenMissingTableFails(t *testing.T) {
	cat, _ := newTestCatalog(t)

	_, err := cat.OpenTable("ghost")
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestCatalog_LookupSatisfiesBufferPoolDelegate(t *testing.T) {
	cat, pool := newTestCatalog(t)

	f, err := cat.CreateTable("widgets", testDesc())
	require.NoError(t, err)

	tid := txn.New()
	_, _, err = pool.InsertTuple(tid, f.TableID(), storage.Tuple{Values: []any{int64(9)}})
	require.NoError(t, err)
	require.NoError(t, pool.TransactionComplete(tid, true))
}
