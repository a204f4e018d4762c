package lock

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sasha-s/go-deadlock"

	"github.com/tuannm99/heapscan/internal/storage"
	"github.com/tuannm99/heapscan/internal/txn"
)

const DefaultTimeout = 2 * time.Second

type pageLock struct {
	holders   mapset.Set[txn.ID]
	exclusive bool
}

// Manager hands out page-level shared/exclusive locks under strict two-phase
// locking: a transaction keeps every lock until ReleaseAll.
//
// There is no waits-for graph. A request that cannot be granted within the
// timeout is treated as a deadlock victim and gets txn.ErrAborted.
type Manager struct {
	mu      deadlock.Mutex
	pages   map[storage.PageID]*pageLock
	held    map[txn.ID]mapset.Set[storage.PageID]
	changed chan struct{} // closed and replaced on every release
	timeout time.Duration
	log     *slog.Logger
}

func NewManager(timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pages:   make(map[storage.PageID]*pageLock),
		held:    make(map[txn.ID]mapset.Set[storage.PageID]),
		changed: make(chan struct{}),
		timeout: timeout,
		log:     logger,
	}
}

// Acquire blocks until tid holds a lock on pid strong enough for perm.
// ReadOnly asks for a shared lock, ReadWrite for an exclusive one; a sole
// shared holder is upgraded in place.
func (m *Manager) Acquire(tid txn.ID, pid storage.PageID, perm txn.Permissions) error {
	var timer *time.Timer
	for {
		m.mu.Lock()
		if m.tryGrant(tid, pid, perm) {
			m.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return nil
		}
		wait := m.changed
		m.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(m.timeout)
		}
		select {
		case <-wait:
		case <-timer.C:
			m.log.Warn("lock: wait timed out, aborting",
				"txn", tid, "page", pid, "perm", perm, "timeout", m.timeout)
			return fmt.Errorf("%w: %s waiting for %s on page %s", txn.ErrAborted, tid, perm, pid)
		}
	}
}

// tryGrant must be called with m.mu held.
func (m *Manager) tryGrant(tid txn.ID, pid storage.PageID, perm txn.Permissions) bool {
	pl, ok := m.pages[pid]
	if !ok {
		pl = &pageLock{holders: mapset.NewThreadUnsafeSet[txn.ID]()}
		m.pages[pid] = pl
	}
	mine := pl.holders.Contains(tid)

	switch perm {
	case txn.ReadOnly:
		if !mine && pl.exclusive {
			return false
		}
	default:
		switch {
		case mine && pl.exclusive:
		case pl.holders.Cardinality() == 0, mine && pl.holders.Cardinality() == 1:
			pl.exclusive = true
		default:
			return false
		}
	}

	pl.holders.Add(tid)
	pages, ok := m.held[tid]
	if !ok {
		pages = mapset.NewThreadUnsafeSet[storage.PageID]()
		m.held[tid] = pages
	}
	pages.Add(pid)
	return true
}

// Release drops tid's lock on a single page. Only safe for pages the
// transaction has not modified.
func (m *Manager) Release(tid txn.ID, pid storage.PageID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseLocked(tid, pid)
	if pages, ok := m.held[tid]; ok {
		pages.Remove(pid)
		if pages.Cardinality() == 0 {
			delete(m.held, tid)
		}
	}
	m.broadcastLocked()
}

// ReleaseAll drops every lock held by tid.
func (m *Manager) ReleaseAll(tid txn.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages, ok := m.held[tid]
	if !ok {
		return
	}
	for _, pid := range pages.ToSlice() {
		m.releaseLocked(tid, pid)
	}
	delete(m.held, tid)
	m.broadcastLocked()
}

func (m *Manager) releaseLocked(tid txn.ID, pid storage.PageID) {
	pl, ok := m.pages[pid]
	if !ok {
		return
	}
	pl.holders.Remove(tid)
	if pl.holders.Cardinality() == 0 {
		delete(m.pages, pid)
	}
}

func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Holds reports whether tid holds any lock on pid.
func (m *Manager) Holds(tid txn.ID, pid storage.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pl, ok := m.pages[pid]
	return ok && pl.holders.Contains(tid)
}

// HoldsExclusive reports whether tid holds the exclusive lock on pid.
func (m *Manager) HoldsExclusive(tid txn.ID, pid storage.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pl, ok := m.pages[pid]
	return ok && pl.exclusive && pl.holders.Contains(tid)
}

// HeldPages returns the pages tid holds locks on, ordered by file then page.
func (m *Manager) HeldPages(tid txn.ID) []storage.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages, ok := m.held[tid]
	if !ok {
		return nil
	}
	out := pages.ToSlice()
	slices.SortFunc(out, storage.PageID.Compare)
	return out
}
