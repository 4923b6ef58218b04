package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkdb/txstore/internal/storage"
	"github.com/arkdb/txstore/internal/txn"
)

func TestCache_PutGetContains(t *testing.T) {
	c := New(2)
	pid := storage.PageID{TableID: 1, PageNum: 0}
	pg := storage.NewPage(pid)

	require.False(t, c.Contains(pid))
	c.Put(pid, pg)
	require.True(t, c.Contains(pid))

	got, ok := c.Get(pid)
	require.True(t, ok)
	require.Same(t, pg, got)
}

func TestCache_RemoveAndLen(t *testing.T) {
	c := New(2)
	pid := storage.PageID{TableID: 1, PageNum: 0}
	c.Put(pid, storage.NewPage(pid))
	require.Equal(t, 1, c.Len())

	c.Remove(pid)
	require.Zero(t, c.Len())
	require.False(t, c.Contains(pid))
}

func TestCache_ChooseEvictionVictimSkipsDirtyPages(t *testing.T) {
	c := New(3)
	tid := txn.New()

	clean := storage.PageID{TableID: 1, PageNum: 0}
	dirty := storage.PageID{TableID: 1, PageNum: 1}

	cleanPage := storage.NewPage(clean)
	dirtyPage := storage.NewPage(dirty)
	dirtyPage.SetDirty(tid, true)

	// Insert dirty first so it's least-recently-used, then clean.
	c.Put(dirty, dirtyPage)
	c.Put(clean, cleanPage)

	// Touch clean again to move it to the front, leaving dirty at the back;
	// clean is still the only clean candidate overall.
	_, _ = c.Get(clean)

	victim, ok := c.ChooseEvictionVictim()
	require.True(t, ok)
	require.Equal(t, clean, victim)
}

func TestCache_ChooseEvictionVictimAllDirty(t *testing.T) {
	c := New(2)
	tid := txn.New()

	pid := storage.PageID{TableID: 1, PageNum: 0}
	pg := storage.NewPage(pid)
	pg.SetDirty(tid, true)
	c.Put(pid, pg)

	_, ok := c.ChooseEvictionVictim()
	require.False(t, ok)
}
