package storage

import "fmt"

// PageID identifies a page within a table. It is a plain value type so it
// can be used directly as a map key: equality and hashing fall out of Go's
// struct comparison.
type PageID struct {
	TableID uint32
	PageNum uint32
}

func (id PageID) String() string {
	return fmt.Sprintf("page(%d,%d)", id.TableID, id.PageNum)
}
