package bufferpool

import "errors"

var (
	// ErrUnknownFile is returned when an operation references a file id
	// that was never registered with RegisterFile.
	ErrUnknownFile = errors.New("bufferpool: unknown file id")

	// ErrPinned is returned by operations that require a page to be
	// unpinned (eviction, purge) when it still has outstanding pins.
	ErrPinned = errors.New("bufferpool: page is pinned")
)
