package pagefile

import "errors"

// Sentinel errors. Callers compare with errors.Is: some are returned
// bare, others wrapped with additional context via fmt.Errorf.
var (
	// ErrLocked is returned by Open when another open already holds the
	// file's exclusive lock.
	ErrLocked = errors.New("pagefile: file already locked by another open")

	// ErrBadMagic is returned by Open when the file's header magic does
	// not match "PSDN".
	ErrBadMagic = errors.New("pagefile: bad header magic")

	// ErrHeaderCRC is returned by Open when the header's checksum does
	// not match its contents.
	ErrHeaderCRC = errors.New("pagefile: header checksum mismatch")

	// ErrPageSizeMismatch is returned by Open when the requested page
	// size does not match the size recorded in an existing file's
	// header.
	ErrPageSizeMismatch = errors.New("pagefile: page size mismatch")

	// ErrOutOfRange is returned by ReadPage/WritePage/FreePage when the
	// page id is outside the file's capacity or is not currently
	// allocated.
	ErrOutOfRange = errors.New("pagefile: page id out of range or not allocated")

	// ErrCapacityExceeded is returned by AllocatePage when the file's
	// bitmap has no free slot left.
	ErrCapacityExceeded = errors.New("pagefile: capacity exceeded")

	// ErrPayloadTooLarge is returned by SetPayload when the supplied
	// payload exceeds the header's reserved payload capacity.
	ErrPayloadTooLarge = errors.New("pagefile: payload exceeds reserved capacity")

	// ErrClosed is returned by AllocatePage, FreePage, ReadPage,
	// WritePage, SetPayload and Sync once Close has been called.
	ErrClosed = errors.New("pagefile: file is closed")
)
