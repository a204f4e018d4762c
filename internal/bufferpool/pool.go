package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sasha-s/go-deadlock"

	"github.com/tuannm99/heapscan/internal/clockx"
	"github.com/tuannm99/heapscan/internal/lock"
	"github.com/tuannm99/heapscan/internal/storage"
	"github.com/tuannm99/heapscan/internal/txn"
)

var DefaultCapacity = 128

var (
	ErrNoFreeFrame   = errors.New("bufferpool: no free frame available (all pinned or dirty)")
	ErrUnknownFile   = errors.New("bufferpool: file set not attached")
	ErrPageNotPinned = errors.New("bufferpool: page is not pinned")
	ErrPagePinned    = errors.New("bufferpool: page is pinned")

	ErrFileIDCollision = errors.New("bufferpool: file id already used by another file set")
)

type Replacer interface {
	RecordAccess(frameID int)
	SetEvictable(frameID int, evictable bool)
	Evict() (frameID int, ok bool)
	Remove(frameID int)
	Size() int
}

var _ Replacer = (*clockx.Clock)(nil)

type Frame struct {
	PID   storage.PageID
	Page  *storage.Page
	Dirty bool
	Pin   int32
}

type Stats struct {
	Fetches   uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

// Pool is the single shared buffer pool for every attached relation.
//
// GetPage takes the page lock for the transaction before pinning, so a
// caller may block there. Pages dirtied by a transaction are never evicted
// before it commits (no-steal); Abort restores them from disk.
type Pool struct {
	sm    *storage.StorageManager
	locks *lock.Manager
	log   *slog.Logger

	mu     deadlock.Mutex
	files  map[storage.FileID]storage.FileSet
	frames []*Frame               // len == capacity, nil == free slot
	table  map[storage.PageID]int // page -> frame index
	dirty  map[txn.ID]mapset.Set[storage.PageID]
	repl   Replacer
	stats  Stats
}

func NewPool(sm *storage.StorageManager, locks *lock.Manager, capacity int, logger *slog.Logger) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sm:     sm,
		locks:  locks,
		log:    logger,
		files:  make(map[storage.FileID]storage.FileSet),
		frames: make([]*Frame, capacity),
		table:  make(map[storage.PageID]int),
		dirty:  make(map[txn.ID]mapset.Set[storage.PageID]),
		repl:   clockx.New(capacity),
	}
}

// Attach registers a file set so its pages can be fetched, and returns the
// id used in storage.PageID for it. Attaching the same file set again is a
// no-op; a different file set hashing to an attached id is refused.
func (p *Pool) Attach(fs storage.FileSet) (storage.FileID, error) {
	id := storage.FileIDOf(fs)

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.files[id]; ok && prev.Key() != fs.Key() {
		p.log.Warn("bufferpool: file id collision", "id", id, "kept", prev.Key(), "new", fs.Key())
		return 0, fmt.Errorf("%w: %08x held by %s, wanted by %s",
			ErrFileIDCollision, uint32(id), prev.Key(), fs.Key())
	}
	p.files[id] = fs
	return id, nil
}

func (p *Pool) fileSet(id storage.FileID) (storage.FileSet, error) {
	fs, ok := p.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %08x", ErrUnknownFile, uint32(id))
	}
	return fs, nil
}

// GetPage locks pid for tid with perm, then pins and returns the page.
// Lock timeouts surface as txn.ErrAborted, load failures as storage errors.
func (p *Pool) GetPage(tid txn.ID, pid storage.PageID, perm txn.Permissions) (*storage.Page, error) {
	p.mu.Lock()
	fs, err := p.fileSet(pid.File)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := p.locks.Acquire(tid, pid, perm); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Fetches++

	// 1) hit
	if idx, ok := p.table[pid]; ok {
		f := p.frames[idx]
		f.Pin++
		p.repl.RecordAccess(idx)
		p.repl.SetEvictable(idx, false)
		p.stats.Hits++
		return f.Page, nil
	}
	p.stats.Misses++

	// 2) free slot, else 3) evict a clean unpinned frame
	idx := -1
	for i, f := range p.frames {
		if f == nil {
			idx = i
			break
		}
	}
	var victim *Frame
	if idx == -1 {
		v, ok := p.repl.Evict()
		if !ok {
			return nil, ErrNoFreeFrame
		}
		idx, victim = v, p.frames[v]
	}

	page, err := p.sm.LoadPage(fs, pid.PageNo)
	if err != nil {
		if victim != nil {
			// put victim back
			p.repl.RecordAccess(idx)
			p.repl.SetEvictable(idx, true)
		}
		return nil, err
	}

	if victim != nil {
		delete(p.table, victim.PID)
		p.stats.Evictions++
		p.log.Debug("bufferpool: evict", "victim", victim.PID, "for", pid)
	}
	p.frames[idx] = &Frame{PID: pid, Page: page, Pin: 1}
	p.table[pid] = idx
	p.repl.RecordAccess(idx)
	p.repl.SetEvictable(idx, false)
	return page, nil
}

// Unpin releases one pin. dirty=true records that tid modified the page.
func (p *Pool) Unpin(tid txn.ID, pid storage.PageID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.table[pid]
	if !ok || p.frames[idx].Pin == 0 {
		return fmt.Errorf("%w: %s", ErrPageNotPinned, pid)
	}
	f := p.frames[idx]
	if dirty {
		f.Dirty = true
		set, ok := p.dirty[tid]
		if !ok {
			set = mapset.NewThreadUnsafeSet[storage.PageID]()
			p.dirty[tid] = set
		}
		set.Add(pid)
	}
	f.Pin--
	p.repl.SetEvictable(idx, f.Pin == 0 && !f.Dirty)
	return nil
}

// flushLocked writes frame idx if dirty. Must hold p.mu.
func (p *Pool) flushLocked(idx int) error {
	f := p.frames[idx]
	if f == nil || !f.Dirty {
		return nil
	}
	fs, err := p.fileSet(f.PID.File)
	if err != nil {
		return err
	}
	if err := p.sm.SavePage(fs, f.PID.PageNo, f.Page); err != nil {
		return err
	}
	f.Dirty = false
	p.stats.Flushes++
	p.repl.SetEvictable(idx, f.Pin == 0)
	return nil
}

// FlushAll writes every dirty page, committed or not. Meant for shutdown
// after all transactions have finished.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.frames {
		if err := p.flushLocked(i); err != nil {
			return err
		}
	}
	clear(p.dirty)
	return nil
}

// FlushFile writes the dirty pages of one relation.
func (p *Pool) FlushFile(id storage.FileID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, f := range p.frames {
		if f == nil || f.PID.File != id {
			continue
		}
		if err := p.flushLocked(i); err != nil {
			return err
		}
	}
	return nil
}

// Commit forces the pages tid dirtied to disk and releases its locks.
// On a flush error the locks are kept; the caller should Abort.
//
// Pages are written in PageID order. Commit is not atomic across pages: if a
// flush fails partway, the pages written before the failure stay on disk, and
// Abort cannot undo them since it reloads from disk. There is no log to roll
// them back.
func (p *Pool) Commit(tid txn.ID) error {
	p.mu.Lock()
	if set, ok := p.dirty[tid]; ok {
		pids := set.ToSlice()
		slices.SortFunc(pids, storage.PageID.Compare)
		for _, pid := range pids {
			idx, ok := p.table[pid]
			if !ok {
				continue
			}
			if err := p.flushLocked(idx); err != nil {
				p.mu.Unlock()
				return fmt.Errorf("bufferpool: commit %s: %w", tid, err)
			}
		}
		delete(p.dirty, tid)
	}
	p.mu.Unlock()

	p.locks.ReleaseAll(tid)
	return nil
}

// Abort throws away tid's changes by reloading its dirty pages from disk,
// then releases its locks.
func (p *Pool) Abort(tid txn.ID) error {
	p.mu.Lock()
	var firstErr error
	if set, ok := p.dirty[tid]; ok {
		for _, pid := range set.ToSlice() {
			idx, ok := p.table[pid]
			if !ok {
				continue
			}
			f := p.frames[idx]
			fs, err := p.fileSet(pid.File)
			if err == nil {
				var disk *storage.Page
				if disk, err = p.sm.LoadPage(fs, pid.PageNo); err == nil {
					f.Page.CopyFrom(disk)
				}
			}
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("bufferpool: abort %s: %w", tid, err)
				}
				continue
			}
			f.Dirty = false
			p.repl.SetEvictable(idx, f.Pin == 0)
		}
		delete(p.dirty, tid)
	}
	p.mu.Unlock()

	p.locks.ReleaseAll(tid)
	return firstErr
}

// Discard drops an unpinned page from the pool without writing it.
func (p *Pool) Discard(pid storage.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.table[pid]
	if !ok {
		return nil
	}
	if p.frames[idx].Pin > 0 {
		return fmt.Errorf("%w: %s", ErrPagePinned, pid)
	}
	p.repl.Remove(idx)
	delete(p.table, pid)
	p.frames[idx] = nil
	for _, set := range p.dirty {
		set.Remove(pid)
	}
	return nil
}

// DiscardFile discards every resident page of a relation and forgets the
// file set. Used when a relation is dropped.
func (p *Pool) DiscardFile(id storage.FileID) error {
	p.mu.Lock()
	var pids []storage.PageID
	for pid := range p.table {
		if pid.File == id {
			pids = append(pids, pid)
		}
	}
	p.mu.Unlock()

	for _, pid := range pids {
		if err := p.Discard(pid); err != nil {
			return err
		}
	}

	p.mu.Lock()
	delete(p.files, id)
	p.mu.Unlock()
	return nil
}

// ReleasePage drops tid's lock on a page it only read.
func (p *Pool) ReleasePage(tid txn.ID, pid storage.PageID) {
	p.locks.Release(tid, pid)
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// PinCount reports the pin count of a resident page, or 0.
func (p *Pool) PinCount(pid storage.PageID) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.table[pid]; ok {
		return p.frames[idx].Pin
	}
	return 0
}
