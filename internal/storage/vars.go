package storage

import "errors"

const (
	OneKB = 1 << 10
	OneMB = 1 << 20
	OneGB = 1 << 30

	SegmentSize       = 1 << 30                // 1 GiB
	PageSize          = 1 << 13                // 8 KiB
	MaxPagePerSegment = SegmentSize / PageSize // 131,072 pages/segment
	HeaderSize        = 12
	SlotSize          = 6 // offset, length, flags (3 * uint16)
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

var (
	ErrStorageIO     = errors.New("storage: I/O error")
	ErrPageNotFound  = errors.New("storage: page not found")
	ErrWrongSize     = errors.New("storage: buffer size != PageSize")
	ErrSegmentClosed = errors.New("storage: segment is closed")

	ErrTupleTooLarge = errors.New("page: tuple too large for inline")
	ErrNoSpace       = errors.New("page: not enough free space")
	ErrBadSlot       = errors.New("page: invalid slot")
	ErrCorruption    = errors.New("page: corrupt slot or tuple bounds")
)
