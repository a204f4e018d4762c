package engine

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tuannm99/heapscan/internal/record"
	"github.com/tuannm99/heapscan/internal/storage"
)

const metaSuffix = ".meta.json"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type TableMeta struct {
	Name      string        `json:"name"`
	Schema    record.Schema `json:"schema"`
	PageCount uint32        `json:"page_count"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// catalog stores table metadata. Local mode keeps one JSON file per table
// next to its segments; memory mode keeps it in a map.
type catalog interface {
	write(meta *TableMeta) error
	read(name string) (*TableMeta, error)
	remove(name string) error
	list() ([]string, error)
	fileSet(name string) storage.FileSet
}

type dirCatalog struct {
	dir string
}

func (c dirCatalog) metaPath(name string) string {
	return filepath.Join(c.dir, name+metaSuffix)
}

func (c dirCatalog) fileSet(name string) storage.FileSet {
	return storage.LocalFileSet{Dir: c.dir, Base: name}
}

// write overwrites the meta file for a given table.
func (c dirCatalog) write(meta *TableMeta) error {
	if err := os.MkdirAll(c.dir, storage.FileMode0755); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.metaPath(meta.Name), data, storage.FileMode0644)
}

func (c dirCatalog) read(name string) (*TableMeta, error) {
	data, err := os.ReadFile(c.metaPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrTableNotFound
	}
	if err != nil {
		return nil, err
	}

	var meta TableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// remove deletes the meta file and every segment of the table.
func (c dirCatalog) remove(name string) error {
	if err := os.Remove(c.metaPath(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrTableNotFound
		}
		return err
	}
	for segNo := int32(0); ; segNo++ {
		err := os.Remove(filepath.Join(c.dir, storage.SegFileName(name, segNo)))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c dirCatalog) list() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if n, ok := strings.CutSuffix(e.Name(), metaSuffix); ok && !e.IsDir() {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}

type memCatalog struct {
	metas map[string]*TableMeta
	files map[string]*storage.MemFileSet
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		metas: make(map[string]*TableMeta),
		files: make(map[string]*storage.MemFileSet),
	}
}

func (c *memCatalog) fileSet(name string) storage.FileSet {
	fs, ok := c.files[name]
	if !ok {
		fs = storage.NewMemFileSet(name)
		c.files[name] = fs
	}
	return fs
}

func (c *memCatalog) write(meta *TableMeta) error {
	meta.UpdatedAt = time.Now()
	cp := *meta
	c.metas[meta.Name] = &cp
	return nil
}

func (c *memCatalog) read(name string) (*TableMeta, error) {
	meta, ok := c.metas[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	cp := *meta
	return &cp, nil
}

func (c *memCatalog) remove(name string) error {
	if _, ok := c.metas[name]; !ok {
		return ErrTableNotFound
	}
	delete(c.metas, name)
	delete(c.files, name)
	return nil
}

func (c *memCatalog) list() ([]string, error) {
	names := make([]string, 0, len(c.metas))
	for n := range c.metas {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}
