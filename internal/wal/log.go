// Package wal is the write-ahead log the buffer pool forces before letting
// a committed transaction's dirty pages reach disk, and replays at startup
// to redo committed work and undo whatever a crash interrupted.
//
// Kept independent of the storage package: a record names a page by
// (tableID, pageNum) rather than storage.PageID, and carries raw byte
// slices rather than *storage.Page.
package wal

import (
	"bufio"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/arkdb/txstore/internal/txn"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
)

const (
	magicU32   uint32 = 0x54584c47 // "TXLG"
	versionU16 uint16 = 1

	recBegin  uint8 = 1
	recUpdate uint8 = 2
	recCommit uint8 = 3
	recAbort  uint8 = 4

	// PageSize must track storage.PageSize. Kept as an independent
	// constant rather than an import to keep this package free of a
	// storage dependency.
	PageSize = 4096

	fixedHeaderLen = 4 + 2 + 1 + 1 + 4 + 4 + 8 + 8 // magic ver typ rsv totalLen crc lsn tid
)

func putU16(b []byte, off int, v uint16) { b[off] = byte(v); b[off+1] = byte(v >> 8) }
func getU16(b []byte, off int) uint16    { return uint16(b[off]) | uint16(b[off+1])<<8 }
func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
func getU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
func putU64(b []byte, off int, v uint64) {
	putU32(b, off, uint32(v))
	putU32(b, off+4, uint32(v>>32))
}
func getU64(b []byte, off int) uint64 {
	return uint64(getU32(b, off)) | uint64(getU32(b, off+4))<<32
}

// Log is an append-only, fsync-backed sequence of records.
type Log struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	lsn     uint64
	flushed uint64
}

// Open opens or creates the log file at dir/wal.log, recovering the last
// assigned LSN from whatever records are already there.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := &Log{f: f, path: path}
	_ = l.initLastLSN()
	return l, nil
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// LogBegin appends a record marking the start of tid.
func (l *Log) LogBegin(tid txn.TransactionID) (uint64, error) {
	return l.append(recBegin, tid, nil)
}

// LogCommit appends a record marking tid as committed. Once this record is
// durable (see Flush), recovery will redo tid's updates rather than undo
// them.
func (l *Log) LogCommit(tid txn.TransactionID) (uint64, error) {
	return l.append(recCommit, tid, nil)
}

// LogAbort appends a record marking tid as aborted.
func (l *Log) LogAbort(tid txn.TransactionID) (uint64, error) {
	return l.append(recAbort, tid, nil)
}

// LogUpdate appends an update record carrying both the before- and
// after-image of one page, so recovery can redo (apply after) or undo
// (apply before) the change depending on whether tid ultimately committed.
// before and after must each be exactly PageSize bytes.
func (l *Log) LogUpdate(tid txn.TransactionID, tableID, pageNum uint32, before, after []byte) (uint64, error) {
	if len(before) != PageSize || len(after) != PageSize {
		return 0, ErrBadRecord
	}
	payload := make([]byte, 4+4+PageSize+PageSize)
	putU32(payload, 0, tableID)
	putU32(payload, 4, pageNum)
	copy(payload[8:], before)
	copy(payload[8+PageSize:], after)
	return l.append(recUpdate, tid, payload)
}

func (l *Log) append(typ uint8, tid txn.TransactionID, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return 0, errors.New("wal: log is closed")
	}

	l.lsn++
	lsn := l.lsn

	totalLen := fixedHeaderLen + len(payload)
	buf := make([]byte, totalLen)
	off := 0

	putU32(buf, off, magicU32)
	off += 4
	putU16(buf, off, versionU16)
	off += 2
	buf[off] = typ
	off++
	buf[off] = 0 // reserved
	off++
	putU32(buf, off, uint32(totalLen))
	off += 4

	crcOff := off
	off += 4 // crc placeholder

	putU64(buf, off, lsn)
	off += 8
	putU64(buf, off, uint64(tid))
	off += 8

	copy(buf[off:], payload)

	crc := crc32.ChecksumIEEE(buf[crcOff+4:])
	putU32(buf, crcOff, crc)

	if _, err := l.f.Write(buf); err != nil {
		return 0, err
	}
	return lsn, nil
}

// Flush forces every record up to and including lsn to stable storage.
// The buffer pool must call this before writing a committing transaction's
// dirty pages back to their table files.
func (l *Log) Flush(upto uint64) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	if upto == 0 || upto <= l.flushed {
		return nil
	}
	if err := l.f.Sync(); err != nil {
		return err
	}
	l.flushed = upto
	return nil
}

// record is a decoded log entry.
type record struct {
	typ     uint8
	lsn     uint64
	tid     txn.TransactionID
	tableID uint32
	pageNum uint32
	before  []byte
	after   []byte
}

func readOne(r *bufio.Reader) (*record, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if getU32(hdr[:], 0) != magicU32 {
		return nil, ErrBadMagic
	}

	var verB [2]byte
	if _, err := io.ReadFull(r, verB[:]); err != nil {
		return nil, err
	}
	if getU16(verB[:], 0) != versionU16 {
		return nil, ErrBadRecord
	}

	typ, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadByte(); err != nil {
		return nil, err
	}

	var lenB [4]byte
	if _, err := io.ReadFull(r, lenB[:]); err != nil {
		return nil, err
	}
	totalLen := int(getU32(lenB[:], 0))
	if totalLen < fixedHeaderLen {
		return nil, ErrBadRecord
	}

	var crcB [4]byte
	if _, err := io.ReadFull(r, crcB[:]); err != nil {
		return nil, err
	}
	wantCRC := getU32(crcB[:], 0)

	restLen := totalLen - (4 + 2 + 1 + 1 + 4 + 4)
	rest := make([]byte, restLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}
	if crc32.ChecksumIEEE(rest) != wantCRC {
		return nil, ErrBadCRC
	}

	lsn := getU64(rest, 0)
	tid := txn.TransactionID(getU64(rest, 8))
	rec := &record{typ: typ, lsn: lsn, tid: tid}

	if typ == recUpdate {
		body := rest[16:]
		if len(body) != 4+4+PageSize+PageSize {
			return nil, ErrBadRecord
		}
		rec.tableID = getU32(body, 0)
		rec.pageNum = getU32(body, 4)
		rec.before = body[8 : 8+PageSize]
		rec.after = body[8+PageSize : 8+2*PageSize]
	}
	return rec, nil
}

func (l *Log) initLastLSN() error {
	f, err := os.Open(l.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	var last uint64
	for {
		rec, err := readOne(r)
		if err != nil {
			break
		}
		if rec.lsn > last {
			last = rec.lsn
		}
	}
	if last > 0 {
		l.lsn = last
		l.flushed = last
	}
	return nil
}

// Applier writes a recovered page image back to its table file.
type Applier interface {
	WritePage(tableID, pageNum uint32, pageBytes []byte) error
}

// Recover replays the log against writer: transactions that reached a
// commit record are redone (their after-images are reapplied, in log
// order), and transactions that did not are undone (their before-images
// are reapplied, in reverse log order), matching the standard redo-commit
// / undo-the-rest recovery rule.
func (l *Log) Recover(writer Applier) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)

	committed := make(map[txn.TransactionID]bool)
	var updates []*record

	for {
		rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrShortRead) {
				break
			}
			return err
		}
		switch rec.typ {
		case recCommit:
			committed[rec.tid] = true
		case recUpdate:
			updates = append(updates, rec)
		}
	}

	for _, rec := range updates {
		if committed[rec.tid] {
			if err := writer.WritePage(rec.tableID, rec.pageNum, rec.after); err != nil {
				return err
			}
		}
	}
	for i := len(updates) - 1; i >= 0; i-- {
		rec := updates[i]
		if !committed[rec.tid] {
			if err := writer.WritePage(rec.tableID, rec.pageNum, rec.before); err != nil {
				return err
			}
		}
	}
	return nil
}
