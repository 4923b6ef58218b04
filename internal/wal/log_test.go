package wal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkdb/txstore/internal/txn"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func fullPage(fill byte) []byte {
	b := make([]byte, PageSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestLog_AppendAssignsIncreasingLSNs(t *testing.T) {
	l := newTestLog(t)
	tid := txn.New()

	lsn1, err := l.LogBegin(tid)
	require.NoError(t, err)
	lsn2, err := l.LogCommit(tid)
	require.NoError(t, err)
	require.Greater(t, lsn2, lsn1)
}

func TestLog_RecoverRedoesCommittedAndUndoesRest(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)

	committed := txn.New()
	aborted := txn.New()

	_, err = l.LogUpdate(committed, 1, 0, fullPage(0x00), fullPage(0xAA))
	require.NoError(t, err)
	lsn, err := l.LogCommit(committed)
	require.NoError(t, err)
	require.NoError(t, l.Flush(lsn))

	_, err = l.LogUpdate(aborted, 1, 1, fullPage(0x00), fullPage(0xBB))
	require.NoError(t, err)
	_, err = l.LogAbort(aborted)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = l2.Close() }()

	applied := map[uint32][]byte{}
	writer := writerFunc(func(tableID, pageNum uint32, buf []byte) error {
		applied[pageNum] = append([]byte(nil), buf...)
		return nil
	})

	require.NoError(t, l2.Recover(writer))
	require.True(t, bytes.Equal(fullPage(0xAA), applied[0]))
	require.True(t, bytes.Equal(fullPage(0x00), applied[1]))
}

type writerFunc func(tableID, pageNum uint32, buf []byte) error

func (f writerFunc) WritePage(tableID, pageNum uint32, buf []byte) error {
	return f(tableID, pageNum, buf)
}
