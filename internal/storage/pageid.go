package storage

import (
	"cmp"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// FileID identifies one relation file set inside the buffer pool and lock tables.
type FileID uint32

// FileIDOf hashes the file set key, so the same file set always maps to the same id
// across restarts.
func FileIDOf(fs FileSet) FileID {
	return FileID(murmur3.Sum32([]byte(fs.Key())))
}

// PageID = (file, page number inside the file).
type PageID struct {
	File   FileID
	PageNo uint32
}

func (p PageID) String() string {
	return fmt.Sprintf("%08x:%d", uint32(p.File), p.PageNo)
}

// Compare orders page ids by file, then page number.
func (p PageID) Compare(o PageID) int {
	if p.File != o.File {
		return cmp.Compare(p.File, o.File)
	}
	return cmp.Compare(p.PageNo, o.PageNo)
}
