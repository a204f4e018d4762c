package heap

import (
	"errors"

	"github.com/tuannm99/heapscan/internal/iterator"
	"github.com/tuannm99/heapscan/internal/record"
	"github.com/tuannm99/heapscan/internal/storage"
	"github.com/tuannm99/heapscan/internal/txn"
)

// PageAccess is the buffer pool as seen from a heap file. Pages returned by
// GetPage stay pinned until the matching Unpin.
type PageAccess interface {
	GetPage(tid txn.ID, pid storage.PageID, perm txn.Permissions) (*storage.Page, error)
	Unpin(tid txn.ID, pid storage.PageID, dirty bool) error
}

// File is a heap file descriptor: name, schema and where its pages live.
// It holds no pages itself; every page access goes through a PageAccess
// under a transaction.
type File struct {
	Name   string
	Schema record.Schema
	SM     *storage.StorageManager
	FS     storage.FileSet

	id storage.FileID
}

func NewFile(name string, schema record.Schema, sm *storage.StorageManager, fs storage.FileSet) *File {
	return &File{
		Name:   name,
		Schema: schema,
		SM:     sm,
		FS:     fs,
		id:     storage.FileIDOf(fs),
	}
}

func (f *File) ID() storage.FileID { return f.id }

func (f *File) pageID(pageNo uint32) storage.PageID {
	return storage.PageID{File: f.id, PageNo: pageNo}
}

// NumPages reads the current page count from storage, so it sees pages
// appended after a scan started.
func (f *File) NumPages() (uint32, error) {
	return f.SM.CountPages(f.FS)
}

// Insert always prefers the last page; when it is full a fresh page is
// appended to the file.
func (f *File) Insert(pages PageAccess, tid txn.ID, values []any) (RID, error) {
	n, err := f.NumPages()
	if err != nil {
		return RID{}, err
	}
	var pageNo uint32
	if n == 0 {
		if pageNo, err = f.SM.AppendPage(f.FS); err != nil {
			return RID{}, err
		}
	} else {
		pageNo = n - 1
	}

	for {
		pid := f.pageID(pageNo)
		p, err := pages.GetPage(tid, pid, txn.ReadWrite)
		if err != nil {
			return RID{}, err
		}

		hp := NewHeapPage(p, f.Schema)
		slot, err := hp.InsertRow(values)
		if errors.Is(err, storage.ErrNoSpace) {
			_ = pages.Unpin(tid, pid, false)
			if pageNo, err = f.SM.AppendPage(f.FS); err != nil {
				return RID{}, err
			}
			continue
		}
		if err != nil {
			_ = pages.Unpin(tid, pid, false)
			return RID{}, err
		}

		if err := pages.Unpin(tid, pid, true); err != nil {
			return RID{}, err
		}
		return RID{PageNo: pageNo, Slot: uint16(slot)}, nil
	}
}

func (f *File) Get(pages PageAccess, tid txn.ID, rid RID) ([]any, error) {
	pid := f.pageID(rid.PageNo)
	p, err := pages.GetPage(tid, pid, txn.ReadOnly)
	if err != nil {
		return nil, err
	}
	hp := NewHeapPage(p, f.Schema)
	row, err := hp.ReadRow(int(rid.Slot))
	_ = pages.Unpin(tid, pid, false)
	return row, err
}

// Update rewrites a row in place or redirects it within its page. The RID
// does not change.
func (f *File) Update(pages PageAccess, tid txn.ID, rid RID, values []any) error {
	pid := f.pageID(rid.PageNo)
	p, err := pages.GetPage(tid, pid, txn.ReadWrite)
	if err != nil {
		return err
	}
	hp := NewHeapPage(p, f.Schema)
	err = hp.UpdateRow(int(rid.Slot), values)
	if uerr := pages.Unpin(tid, pid, err == nil); err == nil {
		err = uerr
	}
	return err
}

func (f *File) Delete(pages PageAccess, tid txn.ID, rid RID) error {
	pid := f.pageID(rid.PageNo)
	p, err := pages.GetPage(tid, pid, txn.ReadWrite)
	if err != nil {
		return err
	}
	hp := NewHeapPage(p, f.Schema)
	err = hp.DeleteRow(int(rid.Slot))
	if uerr := pages.Unpin(tid, pid, err == nil); err == nil {
		err = uerr
	}
	return err
}

func (f *File) Iterator(pages PageAccess, tid txn.ID) *Iterator {
	return NewIterator(f, pages, tid)
}

// Scan calls fn for every row in page then slot order. It stops at the
// first error from fn or from storage.
func (f *File) Scan(pages PageAccess, tid txn.ID, fn func(Tuple) error) (err error) {
	it := f.Iterator(pages, tid)
	if err := it.Open(); err != nil {
		return err
	}
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()
	return iterator.ForEach[Tuple](it, fn)
}
