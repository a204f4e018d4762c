package heap

import (
	"errors"

	"github.com/tuannm99/heapscan/internal/iterator"
	"github.com/tuannm99/heapscan/internal/txn"
)

var ErrIteratorClosed = errors.New("heap: iterator is closed")

type iterState uint8

const (
	stateInert iterState = iota
	stateOpen
	stateClosed
)

func (s iterState) String() string {
	switch s {
	case stateInert:
		return "inert"
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Iterator walks a heap file one page at a time, fetching each page
// read-only from the pool only when the previous one is used up. At most
// one page is pinned by the iterator at any moment.
//
// Reads before Open or after Close report exhaustion. Errors from the pool
// (storage failures, txn.ErrAborted) are returned as received.
type Iterator struct {
	file  *File
	pages PageAccess
	tid   txn.ID

	state  iterState
	pageNo uint32
	pinned bool        // pageNo is pinned in pages
	cursor *PageCursor // nil until pageNo is fetched

	la *iterator.Lookahead[Tuple]
}

var _ iterator.Closeable[Tuple] = (*Iterator)(nil)

// NewIterator binds the iterator; nothing is fetched until Open.
func NewIterator(f *File, pages PageAccess, tid txn.ID) *Iterator {
	it := &Iterator{file: f, pages: pages, tid: tid}
	it.la = iterator.NewLookahead(it.readNext)
	return it
}

// Open positions the iterator on page 0. Calling it again restarts the scan.
func (it *Iterator) Open() error {
	if it.state == stateClosed {
		return ErrIteratorClosed
	}
	return it.start()
}

// Rewind restarts from page 0 with a freshly fetched page, so the rows
// reflect the file as it is now. It does nothing unless the iterator is open.
func (it *Iterator) Rewind() error {
	if it.state != stateOpen {
		return nil
	}
	return it.start()
}

func (it *Iterator) start() error {
	it.la.Reset()
	if err := it.release(); err != nil {
		return err
	}
	it.state = stateInert
	it.pageNo = 0

	n, err := it.file.NumPages()
	if err != nil {
		return err
	}
	if n > 0 {
		if err := it.fetch(0); err != nil {
			return err
		}
	}
	it.state = stateOpen
	return nil
}

// Close unpins the current page and drops every reference the iterator
// holds. Later reads report exhaustion. Closing twice is a no-op.
func (it *Iterator) Close() error {
	if it.state == stateClosed {
		return nil
	}
	err := it.release()
	it.la.Reset()
	it.pageNo = 0
	it.file, it.pages, it.tid = nil, nil, 0
	it.state = stateClosed
	return err
}

func (it *Iterator) HasNext() (bool, error) {
	return it.la.HasNext()
}

// Next returns iterator.ErrExhausted when there are no more rows.
func (it *Iterator) Next() (Tuple, error) {
	return it.la.Next()
}

// readNext produces the next row or reports the end. Empty pages are
// skipped in a loop; the page count is re-read before every advance.
func (it *Iterator) readNext() (Tuple, bool, error) {
	if it.state != stateOpen {
		return Tuple{}, false, nil
	}
	for {
		if it.cursor != nil {
			t, ok, err := it.cursor.Next()
			if err != nil || ok {
				return t, ok, err
			}
		}

		n, err := it.file.NumPages()
		if err != nil {
			return Tuple{}, false, err
		}
		next := it.pageNo + 1
		if it.cursor == nil {
			// current page not fetched yet: empty file at open, or a failed fetch
			next = it.pageNo
		}
		if next >= n {
			return Tuple{}, false, nil
		}
		if err := it.fetch(next); err != nil {
			return Tuple{}, false, err
		}
	}
}

// fetch unpins the current page and pins pageNo in its place.
func (it *Iterator) fetch(pageNo uint32) error {
	if err := it.release(); err != nil {
		return err
	}
	it.pageNo = pageNo

	p, err := it.pages.GetPage(it.tid, it.file.pageID(pageNo), txn.ReadOnly)
	if err != nil {
		return err
	}
	it.pinned = true
	hp := NewHeapPage(p, it.file.Schema)
	it.cursor = hp.Cursor()
	return nil
}

func (it *Iterator) release() error {
	it.cursor = nil
	if !it.pinned {
		return nil
	}
	it.pinned = false
	return it.pages.Unpin(it.tid, it.file.pageID(it.pageNo), false)
}

// PageNo reports the page the iterator is positioned on.
func (it *Iterator) PageNo() uint32 { return it.pageNo }

// State reports "inert", "open" or "closed".
func (it *Iterator) State() string { return it.state.String() }
