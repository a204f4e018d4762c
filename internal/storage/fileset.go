package storage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dsnet/golib/memfile"
)

// Segment is one physical file of a relation (at most SegmentSize bytes).
type Segment interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Size() (int64, error)
}

// FileSet resolves the segments of one relation. OpenSegment with create=false
// returns an error matching fs.ErrNotExist when the segment does not exist.
type FileSet interface {
	Key() string
	OpenSegment(segNo int32, create bool) (Segment, error)
}

// SegFileName returns segment file name: seg 0 = base, seg N>0 = base.N
func SegFileName(base string, segNo int32) string {
	if segNo <= 0 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, segNo)
}

var (
	_ FileSet = LocalFileSet{}
	_ FileSet = (*MemFileSet)(nil)
)

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) Key() string {
	return filepath.Join(filepath.Clean(lfs.Dir), lfs.Base)
}

func (lfs LocalFileSet) OpenSegment(segNo int32, create bool) (Segment, error) {
	path := filepath.Join(lfs.Dir, SegFileName(lfs.Base, segNo))
	flags := os.O_RDWR
	if create {
		if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
			return nil, err
		}
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, FileMode0644)
	if err != nil {
		return nil, err
	}
	return localSegment{f}, nil
}

type localSegment struct {
	*os.File
}

func (s localSegment) Size() (int64, error) {
	info, err := s.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MemFileSet keeps segments in memory. Used by the "memory" storage mode and tests.
type MemFileSet struct {
	Name string

	mu   sync.Mutex
	segs map[int32]*memSegment
}

func NewMemFileSet(name string) *MemFileSet {
	return &MemFileSet{Name: name, segs: make(map[int32]*memSegment)}
}

func (m *MemFileSet) Key() string { return "mem:" + m.Name }

func (m *MemFileSet) OpenSegment(segNo int32, create bool) (Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.segs == nil {
		m.segs = make(map[int32]*memSegment)
	}
	seg, ok := m.segs[segNo]
	if !ok {
		if !create {
			return nil, &fs.PathError{Op: "open", Path: SegFileName(m.Key(), segNo), Err: fs.ErrNotExist}
		}
		seg = &memSegment{f: memfile.New(make([]byte, 0))}
		m.segs[segNo] = seg
	}
	return seg, nil
}

// memSegment is shared by every opener; Close is a no-op so the data survives.
type memSegment struct {
	mu sync.Mutex
	f  *memfile.File
}

func (s *memSegment) ReadAt(b []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.ReadAt(b, off)
}

func (s *memSegment) WriteAt(b []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.WriteAt(b, off)
}

func (s *memSegment) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.f.Bytes())), nil
}

func (s *memSegment) Close() error { return nil }
