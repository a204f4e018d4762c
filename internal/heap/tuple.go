package heap

import "fmt"

// RID (row id) locates a row inside a heap file:
// PageNo: page number within the file
// Slot  : slot index on that page
type RID struct {
	PageNo uint32
	Slot   uint16
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageNo, r.Slot)
}

// Tuple is a decoded row together with where it lives.
type Tuple struct {
	RID    RID
	Values []any
}
