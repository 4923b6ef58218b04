package storage

import "errors"

var (
	// ErrNoSpace is returned by Page.InsertTuple when the page has no room
	// left for another tuple.
	ErrNoSpace = errors.New("storage: page has no free space for tuple")

	// ErrBadSlot is returned by Page.ReadTuple for a slot that is out of
	// range or has been deleted.
	ErrBadSlot = errors.New("storage: slot is empty, deleted, or out of range")

	// ErrPageNotFound names the condition of a page identifier that does
	// not resolve to any table known to the catalog. No function in this
	// module returns it.
	ErrPageNotFound = errors.New("storage: page not found")
)
