package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	fs, err := NewLocalFileSet(t.TempDir())
	require.NoError(t, err)
	return NewManager(fs)
}

func TestManager_ReadPageBeyondEOFIsZeroFilled(t *testing.T) {
	mgr := newTestManager(t)

	pg, err := mgr.ReadPage(PageID{TableID: 1, PageNum: 5})
	require.NoError(t, err)
	require.Equal(t, HeaderSize, pg.lower())
}

func TestManager_WriteThenReadRoundTrips(t *testing.T) {
	mgr := newTestManager(t)

	pid := PageID{TableID: 1, PageNum: 0}
	pg := NewPage(pid)
	_, err := pg.InsertTuple([]byte("roundtrip"))
	require.NoError(t, err)

	require.NoError(t, mgr.WritePage(pg))

	reread, err := mgr.ReadPage(pid)
	require.NoError(t, err)
	raw, err := reread.ReadTuple(0)
	require.NoError(t, err)
	require.Equal(t, []byte("roundtrip"), raw)
}

func TestManager_CountAndAllocatePage(t *testing.T) {
	mgr := newTestManager(t)

	n, err := mgr.CountPages(7)
	require.NoError(t, err)
	require.Zero(t, n)

	pg, err := mgr.AllocatePage(7)
	require.NoError(t, err)
	require.Equal(t, uint32(0), pg.ID.PageNum)

	n, err = mgr.CountPages(7)
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)
}
