package storage

import (
	"github.com/arkdb/txstore/internal/txn"
)

// Page layout constants. Pages are slotted:
//
//	+------------------+ 0
//	| header           |
//	| line pointers [] | <-- Lower
//	+------------------+
//	|   free space     |
//	+------------------+ <-- Upper
//	|   tuple data     | (grows down from the end of the page)
//	+------------------+ PageSize
const (
	DefaultPageSize = 4096
	HeaderSize      = 12
	SlotSize        = 6
)

// PageSize is a process-wide, mutable knob, adjustable for tests only;
// production configuration should go through config.Config instead.
var PageSize = DefaultPageSize

func getU16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func putU16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func getU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func getU64(b []byte, off int) uint64 {
	return uint64(getU32(b, off)) | uint64(getU32(b, off+4))<<32
}

func putU64(b []byte, off int, v uint64) {
	putU32(b, off, uint32(v))
	putU32(b, off+4, uint32(v>>32))
}

// DirtyMark records whether a page carries uncommitted changes and, if so,
// which transaction made them. A clean page's marker has Dirty == false and
// By's value is meaningless.
type DirtyMark struct {
	By    txn.TransactionID
	Dirty bool
}

// Page is the in-memory representation of one fixed-size disk block. Beyond
// the raw bytes, the buffer pool observes two extra attributes: the dirty
// marker and a before-image snapshot captured at the last commit (used to
// build WAL update records for the next transaction that dirties the page).
type Page struct {
	ID   PageID
	Buf  []byte
	mark DirtyMark

	// beforeImage is the page's content as of the last time it was clean
	// (freshly read from disk, or just after a commit). It is what the WAL
	// records as the "before" half of an update record.
	beforeImage []byte
}

// NewPage allocates a zeroed, initialized page for the given identity.
func NewPage(id PageID) *Page {
	buf := make([]byte, PageSize)
	p := &Page{ID: id, Buf: buf}
	p.init()
	p.beforeImage = cloneBytes(buf)
	return p
}

// NewPageFromBytes wraps an existing buffer (e.g. just read from disk) as a
// Page. The buffer is copied so callers can reuse theirs.
func NewPageFromBytes(id PageID, buf []byte) *Page {
	p := &Page{ID: id, Buf: cloneBytes(buf)}
	if p.isUninitialized() {
		p.init()
	}
	p.beforeImage = cloneBytes(p.Buf)
	return p
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (p *Page) init() {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	putU32(p.Buf, 0, p.ID.TableID)
	putU32(p.Buf, 4, p.ID.PageNum)
	putU16(p.Buf, 8, HeaderSize) // lower
	putU16(p.Buf, 10, uint16(len(p.Buf)))
}

func (p *Page) isUninitialized() bool {
	return getU16(p.Buf, 8) == 0 && getU16(p.Buf, 10) == 0
}

func (p *Page) lower() int { return int(getU16(p.Buf, 8)) }
func (p *Page) setLower(v int) {
	putU16(p.Buf, 8, uint16(v))
}

func (p *Page) upper() int { return int(getU16(p.Buf, 10)) }
func (p *Page) setUpper(v int) {
	putU16(p.Buf, 10, uint16(v))
}

// NumSlots returns the number of slots ever allocated on the page,
// including deleted ones.
func (p *Page) NumSlots() int {
	return (p.lower() - HeaderSize) / SlotSize
}

func (p *Page) slotOffset(i int) int { return HeaderSize + i*SlotSize }

func (p *Page) getSlot(i int) (offset, length int, deleted bool) {
	o := p.slotOffset(i)
	return int(getU16(p.Buf, o)), int(getU16(p.Buf, o+2)), getU16(p.Buf, o+4) != 0
}

func (p *Page) putSlot(i, offset, length int, deleted bool) {
	o := p.slotOffset(i)
	putU16(p.Buf, o, uint16(offset))
	putU16(p.Buf, o+2, uint16(length))
	flag := uint16(0)
	if deleted {
		flag = 1
	}
	putU16(p.Buf, o+4, flag)
}

// InsertTuple appends tup to the page, returning its slot number.
func (p *Page) InsertTuple(tup []byte) (int, error) {
	need := len(tup) + SlotSize
	if p.upper()-p.lower() < need {
		return -1, ErrNoSpace
	}
	newUpper := p.upper() - len(tup)
	copy(p.Buf[newUpper:], tup)
	p.setUpper(newUpper)

	slot := p.NumSlots()
	p.putSlot(slot, newUpper, len(tup), false)
	p.setLower(p.lower() + SlotSize)
	return slot, nil
}

// ReadTuple returns the bytes stored at slot.
func (p *Page) ReadTuple(slot int) ([]byte, error) {
	if slot < 0 || slot >= p.NumSlots() {
		return nil, ErrBadSlot
	}
	offset, length, deleted := p.getSlot(slot)
	if deleted || length == 0 {
		return nil, ErrBadSlot
	}
	return p.Buf[offset : offset+length], nil
}

// UpdateTuple overwrites the tuple at slot, appending a new copy if the new
// value does not fit in the original space.
func (p *Page) UpdateTuple(slot int, tup []byte) error {
	offset, length, deleted := p.getSlot(slot)
	if deleted || length == 0 {
		return ErrBadSlot
	}
	if len(tup) <= length {
		copy(p.Buf[offset:], tup)
		p.putSlot(slot, offset, len(tup), false)
		return nil
	}
	newUpper := p.upper() - len(tup)
	if newUpper < p.lower() {
		return ErrNoSpace
	}
	copy(p.Buf[newUpper:], tup)
	p.setUpper(newUpper)
	p.putSlot(slot, newUpper, len(tup), false)
	return nil
}

// DeleteTuple marks slot as deleted.
func (p *Page) DeleteTuple(slot int) error {
	offset, length, deleted := p.getSlot(slot)
	if deleted || length == 0 {
		return ErrBadSlot
	}
	p.putSlot(slot, offset, length, true)
	return nil
}

// IsDirty reports the page's current dirty marker.
func (p *Page) IsDirty() (txn.TransactionID, bool) {
	return p.mark.By, p.mark.Dirty
}

// SetDirty stamps the page as dirtied by tid, or clears the marker when
// dirty is false.
func (p *Page) SetDirty(tid txn.TransactionID, dirty bool) {
	p.mark = DirtyMark{By: tid, Dirty: dirty}
}

// BeforeImage returns the page's content as of the last time it was clean.
func (p *Page) BeforeImage() []byte {
	return p.beforeImage
}

// CaptureBeforeImage snapshots the page's current bytes as its new
// before-image. Called after a commit's flush, so the *next* transaction
// that dirties the page has a correct undo/redo pair (spec §9, "before-image
// handling").
func (p *Page) CaptureBeforeImage() {
	p.beforeImage = cloneBytes(p.Buf)
}

// RestoreFromBeforeImage overwrites the page's live bytes with its
// before-image, used when discarding an aborted transaction's changes
// in-place rather than evicting the cache entry outright.
func (p *Page) RestoreFromBeforeImage() {
	copy(p.Buf, p.beforeImage)
}

// Clone returns a deep copy of the page that shares no bytes with the
// live, still-mutable page.
func (p *Page) Clone() *Page {
	return &Page{
		ID:          p.ID,
		Buf:         cloneBytes(p.Buf),
		mark:        p.mark,
		beforeImage: cloneBytes(p.beforeImage),
	}
}
