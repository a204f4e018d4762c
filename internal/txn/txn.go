package txn

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrAborted means the transaction must be rolled back by its owner, usually
// because a lock wait hit the deadlock timeout.
var ErrAborted = errors.New("txn: transaction aborted")

var counter atomic.Uint64

// ID identifies a transaction for locking and dirty-page attribution.
// The zero value is never handed out by NewID.
type ID uint64

func NewID() ID {
	return ID(counter.Add(1))
}

func (id ID) String() string {
	return fmt.Sprintf("txn-%d", uint64(id))
}

// Permissions is the access mode requested when fetching a page.
type Permissions uint8

const (
	ReadOnly Permissions = iota
	ReadWrite
)

func (p Permissions) String() string {
	switch p {
	case ReadOnly:
		return "READ_ONLY"
	case ReadWrite:
		return "READ_WRITE"
	default:
		return fmt.Sprintf("Permissions(%d)", uint8(p))
	}
}
