package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkdb/txstore/internal/txn"
)

func TestPage_InsertReadUpdateDelete(t *testing.T) {
	p := NewPage(PageID{TableID: 1, PageNum: 0})

	slot, err := p.InsertTuple([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	raw, err := p.ReadTuple(slot)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), raw)

	require.NoError(t, p.UpdateTuple(slot, []byte("hi")))
	raw, err = p.ReadTuple(slot)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), raw)

	require.NoError(t, p.DeleteTuple(slot))
	_, err = p.ReadTuple(slot)
	require.ErrorIs(t, err, ErrBadSlot)
}

func TestPage_InsertNoSpace(t *testing.T) {
	old := PageSize
	PageSize = HeaderSize + SlotSize + 4
	defer func() { PageSize = old }()

	p := NewPage(PageID{TableID: 1, PageNum: 0})
	_, err := p.InsertTuple([]byte("abcd"))
	require.NoError(t, err)

	_, err = p.InsertTuple([]byte("e"))
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestPage_DirtyMarkerAndBeforeImage(t *testing.T) {
	p := NewPage(PageID{TableID: 1, PageNum: 0})

	by, dirty := p.IsDirty()
	require.False(t, dirty)
	require.Zero(t, by)

	tid := txn.New()
	_, err := p.InsertTuple([]byte("payload"))
	require.NoError(t, err)
	p.SetDirty(tid, true)

	by, dirty = p.IsDirty()
	require.True(t, dirty)
	require.Equal(t, tid, by)

	before := p.BeforeImage()
	require.NotEqual(t, p.Buf, before)

	p.RestoreFromBeforeImage()
	require.Equal(t, before, p.Buf)
}

func TestPage_Clone(t *testing.T) {
	p := NewPage(PageID{TableID: 2, PageNum: 3})
	_, err := p.InsertTuple([]byte("x"))
	require.NoError(t, err)

	clone := p.Clone()
	clone.Buf[0] = 0xFF
	require.NotEqual(t, p.Buf[0], clone.Buf[0])
}
