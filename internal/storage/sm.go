package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
)

// StorageManager maps a logical page number -> (segment, offset).
// It does no caching; the buffer pool sits on top of it.
type StorageManager struct {
	// serializes AppendPage so two writers never claim the same page number
	appendMu sync.Mutex
}

func NewStorageManager() *StorageManager {
	return &StorageManager{}
}

func locate(pageNo uint32) (segNo int32, offset int64) {
	segNo = int32(pageNo / MaxPagePerSegment)
	offset = int64(pageNo%MaxPagePerSegment) * PageSize
	return segNo, offset
}

func closeSegment(s Segment) {
	if err := s.Close(); err != nil {
		slog.Warn("storage: close segment", "err", err)
	}
}

// ReadPage reads exactly one page into dst. Reading past the end of the
// relation returns ErrPageNotFound.
func (sm *StorageManager) ReadPage(fset FileSet, pageNo uint32, dst []byte) error {
	if len(dst) != PageSize {
		return ErrWrongSize
	}
	segNo, off := locate(pageNo)
	seg, err := fset.OpenSegment(segNo, false)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s page %d", ErrPageNotFound, fset.Key(), pageNo)
	}
	if err != nil {
		return fmt.Errorf("%w: open segment %d: %w", ErrStorageIO, segNo, err)
	}
	defer closeSegment(seg)

	n, err := seg.ReadAt(dst, off)
	if n == PageSize {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s page %d", ErrPageNotFound, fset.Key(), pageNo)
	}
	return fmt.Errorf("%w: read page %d: %w", ErrStorageIO, pageNo, err)
}

// WritePage writes exactly one page at the location computed from pageNo.
func (sm *StorageManager) WritePage(fset FileSet, pageNo uint32, src []byte) error {
	if len(src) != PageSize {
		return ErrWrongSize
	}
	segNo, off := locate(pageNo)
	seg, err := fset.OpenSegment(segNo, true)
	if err != nil {
		return fmt.Errorf("%w: open segment %d: %w", ErrStorageIO, segNo, err)
	}
	defer closeSegment(seg)

	n, err := seg.WriteAt(src, off)
	if err != nil {
		return fmt.Errorf("%w: write page %d: %w", ErrStorageIO, pageNo, err)
	}
	if n != PageSize {
		return fmt.Errorf("%w: write page %d: %w", ErrStorageIO, pageNo, io.ErrShortWrite)
	}
	return nil
}

// LoadPage reads a page into a fresh buffer. An all-zero page is initialized
// in memory with its page number.
func (sm *StorageManager) LoadPage(fset FileSet, pageNo uint32) (*Page, error) {
	buf := make([]byte, PageSize)
	if err := sm.ReadPage(fset, pageNo, buf); err != nil {
		return nil, err
	}
	p := &Page{Buf: buf}
	if p.IsUninitialized() {
		p.init(pageNo)
	}
	return p, nil
}

func (sm *StorageManager) SavePage(fset FileSet, pageNo uint32, p *Page) error {
	return sm.WritePage(fset, pageNo, p.Buf)
}

// AppendPage writes an empty, initialized page after the last page of the
// relation and returns its page number.
func (sm *StorageManager) AppendPage(fset FileSet) (uint32, error) {
	sm.appendMu.Lock()
	defer sm.appendMu.Unlock()

	pageNo, err := sm.CountPages(fset)
	if err != nil {
		return 0, err
	}
	p, err := NewPage(make([]byte, PageSize), pageNo)
	if err != nil {
		return 0, err
	}
	if err := sm.SavePage(fset, pageNo, p); err != nil {
		return 0, err
	}
	return pageNo, nil
}

// CountPages computes total pages for a FileSet by walking segments
// Base, Base.1, ... until one is missing.
func (sm *StorageManager) CountPages(fset FileSet) (uint32, error) {
	var total uint32
	for segNo := int32(0); ; segNo++ {
		seg, err := fset.OpenSegment(segNo, false)
		if errors.Is(err, fs.ErrNotExist) {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("%w: open segment %d: %w", ErrStorageIO, segNo, err)
		}
		size, err := seg.Size()
		closeSegment(seg)
		if err != nil {
			return 0, fmt.Errorf("%w: stat segment %d: %w", ErrStorageIO, segNo, err)
		}
		total += uint32(size / PageSize)
		if size < SegmentSize {
			return total, nil
		}
	}
}
