package bufferpool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/heapscan/internal/lock"
	"github.com/tuannm99/heapscan/internal/storage"
	"github.com/tuannm99/heapscan/internal/txn"
)

// newTestPool builds a pool over one in-memory relation with nPages empty pages.
func newTestPool(t *testing.T, capacity, nPages int) (*Pool, storage.FileSet, storage.FileID) {
	t.Helper()

	sm := storage.NewStorageManager()
	fs := storage.NewMemFileSet(t.Name())
	for i := 0; i < nPages; i++ {
		_, err := sm.AppendPage(fs)
		require.NoError(t, err)
	}

	pool := NewPool(sm, lock.NewManager(50*time.Millisecond, nil), capacity, nil)
	id, err := pool.Attach(fs)
	require.NoError(t, err)
	return pool, fs, id
}

func pageID(id storage.FileID, n uint32) storage.PageID {
	return storage.PageID{File: id, PageNo: n}
}

func TestPool_GetPage_LoadsAndPins(t *testing.T) {
	pool, _, id := newTestPool(t, 4, 2)
	tid := txn.NewID()

	page1, err := pool.GetPage(tid, pageID(id, 0), txn.ReadOnly)
	require.NoError(t, err)
	require.NotNil(t, page1)
	require.Equal(t, uint32(0), page1.PageNo())

	idx, ok := pool.table[pageID(id, 0)]
	require.True(t, ok)
	frame := pool.frames[idx]
	require.Equal(t, int32(1), frame.Pin)
	require.False(t, frame.Dirty)

	// Second GetPage for the same page returns the same pointer and bumps the pin.
	page2, err := pool.GetPage(tid, pageID(id, 0), txn.ReadOnly)
	require.NoError(t, err)
	require.Same(t, page1, page2)
	require.Equal(t, int32(2), frame.Pin)

	st := pool.Stats()
	require.Equal(t, uint64(2), st.Fetches)
	require.Equal(t, uint64(1), st.Hits)
	require.Equal(t, uint64(1), st.Misses)
}

func TestPool_GetPage_UnknownFile(t *testing.T) {
	pool, _, _ := newTestPool(t, 2, 1)

	_, err := pool.GetPage(txn.NewID(), storage.PageID{File: 12345, PageNo: 0}, txn.ReadOnly)
	require.ErrorIs(t, err, ErrUnknownFile)
}

func TestPool_GetPage_PastEnd_PageNotFound(t *testing.T) {
	pool, _, id := newTestPool(t, 2, 1)

	_, err := pool.GetPage(txn.NewID(), pageID(id, 5), txn.ReadOnly)
	require.ErrorIs(t, err, storage.ErrPageNotFound)
	require.Empty(t, pool.table)
}

func TestPool_GetPage_Full_NoFreeFrameError(t *testing.T) {
	pool, _, id := newTestPool(t, 1, 2)
	tid := txn.NewID()

	_, err := pool.GetPage(tid, pageID(id, 0), txn.ReadOnly)
	require.NoError(t, err)

	// Page 0 is still pinned.
	_, err = pool.GetPage(tid, pageID(id, 1), txn.ReadOnly)
	require.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestPool_EvictsCleanUnpinnedFrame(t *testing.T) {
	pool, _, id := newTestPool(t, 1, 2)
	tid := txn.NewID()

	_, err := pool.GetPage(tid, pageID(id, 0), txn.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(tid, pageID(id, 0), false))

	page1, err := pool.GetPage(tid, pageID(id, 1), txn.ReadOnly)
	require.NoError(t, err)
	require.Equal(t, uint32(1), page1.PageNo())

	_, ok := pool.table[pageID(id, 0)]
	require.False(t, ok)
	require.Equal(t, uint64(1), pool.Stats().Evictions)
}

func TestPool_DirtyFrameNotEvictedBeforeCommit(t *testing.T) {
	pool, fs, id := newTestPool(t, 1, 2)
	tid := txn.NewID()

	page0, err := pool.GetPage(tid, pageID(id, 0), txn.ReadWrite)
	require.NoError(t, err)
	_, err = page0.InsertTuple([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(tid, pageID(id, 0), true))

	// The only frame is dirty and uncommitted.
	_, err = pool.GetPage(tid, pageID(id, 1), txn.ReadOnly)
	require.ErrorIs(t, err, ErrNoFreeFrame)

	require.NoError(t, pool.Commit(tid))

	onDisk, err := pool.sm.LoadPage(fs, 0)
	require.NoError(t, err)
	got, err := onDisk.ReadTuple(0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	// Clean now, so it can make room.
	tid2 := txn.NewID()
	_, err = pool.GetPage(tid2, pageID(id, 1), txn.ReadOnly)
	require.NoError(t, err)
}

func TestPool_Commit_ReleasesLocks(t *testing.T) {
	pool, _, id := newTestPool(t, 2, 1)
	tid := txn.NewID()

	_, err := pool.GetPage(tid, pageID(id, 0), txn.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(tid, pageID(id, 0), false))
	require.True(t, pool.locks.HoldsExclusive(tid, pageID(id, 0)))

	require.NoError(t, pool.Commit(tid))
	require.False(t, pool.locks.Holds(tid, pageID(id, 0)))
}

func TestPool_Abort_RestoresPageFromDisk(t *testing.T) {
	pool, _, id := newTestPool(t, 2, 1)
	tid := txn.NewID()

	page, err := pool.GetPage(tid, pageID(id, 0), txn.ReadWrite)
	require.NoError(t, err)
	_, err = page.InsertTuple([]byte("doomed"))
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(tid, pageID(id, 0), true))
	require.Equal(t, 1, page.NumSlots())

	require.NoError(t, pool.Abort(tid))

	// Same frame, rolled back contents.
	require.Equal(t, 0, page.NumSlots())
	idx := pool.table[pageID(id, 0)]
	require.False(t, pool.frames[idx].Dirty)
	require.False(t, pool.locks.Holds(tid, pageID(id, 0)))
}

func TestPool_GetPage_LockConflictAborts(t *testing.T) {
	pool, _, id := newTestPool(t, 2, 1)
	writer := txn.NewID()
	reader := txn.NewID()

	_, err := pool.GetPage(writer, pageID(id, 0), txn.ReadWrite)
	require.NoError(t, err)

	_, err = pool.GetPage(reader, pageID(id, 0), txn.ReadOnly)
	require.ErrorIs(t, err, txn.ErrAborted)
	require.Equal(t, int32(1), pool.PinCount(pageID(id, 0)))
}

func TestPool_Unpin_NotPinned(t *testing.T) {
	pool, _, id := newTestPool(t, 2, 1)
	tid := txn.NewID()

	err := pool.Unpin(tid, pageID(id, 0), false)
	require.ErrorIs(t, err, ErrPageNotPinned)

	_, err = pool.GetPage(tid, pageID(id, 0), txn.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(tid, pageID(id, 0), false))
	require.ErrorIs(t, pool.Unpin(tid, pageID(id, 0), false), ErrPageNotPinned)
}

func TestPool_FlushAll_WritesDirtyFrames(t *testing.T) {
	pool, fs, id := newTestPool(t, 2, 2)
	tid := txn.NewID()

	for n := uint32(0); n < 2; n++ {
		page, err := pool.GetPage(tid, pageID(id, n), txn.ReadWrite)
		require.NoError(t, err)
		_, err = page.InsertTuple([]byte{byte(10 + n)})
		require.NoError(t, err)
		require.NoError(t, pool.Unpin(tid, pageID(id, n), true))
	}

	require.NoError(t, pool.FlushAll())

	for n := uint32(0); n < 2; n++ {
		idx := pool.table[pageID(id, n)]
		require.False(t, pool.frames[idx].Dirty)

		reloaded, err := pool.sm.LoadPage(fs, n)
		require.NoError(t, err)
		got, err := reloaded.ReadTuple(0)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(10 + n)}, got)
	}
	require.Equal(t, uint64(2), pool.Stats().Flushes)
}

func TestPool_FlushFile_OnlyThatRelation(t *testing.T) {
	pool, fsA, idA := newTestPool(t, 4, 1)
	fsB := storage.NewMemFileSet("other")
	_, err := pool.sm.AppendPage(fsB)
	require.NoError(t, err)
	idB, err := pool.Attach(fsB)
	require.NoError(t, err)
	tid := txn.NewID()

	for _, id := range []storage.FileID{idA, idB} {
		page, err := pool.GetPage(tid, pageID(id, 0), txn.ReadWrite)
		require.NoError(t, err)
		_, err = page.InsertTuple([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, pool.Unpin(tid, pageID(id, 0), true))
	}

	require.NoError(t, pool.FlushFile(idA))

	a, err := pool.sm.LoadPage(fsA, 0)
	require.NoError(t, err)
	require.Equal(t, 1, a.NumSlots())
	b, err := pool.sm.LoadPage(fsB, 0)
	require.NoError(t, err)
	require.Equal(t, 0, b.NumSlots())
}

// Verify default capacity is used when capacity <= 0.
func TestNewPool_DefaultCapacity(t *testing.T) {
	pool := NewPool(storage.NewStorageManager(), lock.NewManager(0, nil), 0, nil)
	require.Len(t, pool.frames, DefaultCapacity)
}

func TestPool_Discard(t *testing.T) {
	pool, _, id := newTestPool(t, 2, 2)
	tid := txn.NewID()

	_, err := pool.GetPage(tid, pageID(id, 0), txn.ReadOnly)
	require.NoError(t, err)
	idx := pool.table[pageID(id, 0)]

	require.ErrorIs(t, pool.Discard(pageID(id, 0)), ErrPagePinned)

	require.NoError(t, pool.Unpin(tid, pageID(id, 0), false))
	require.NoError(t, pool.Discard(pageID(id, 0)))
	require.Nil(t, pool.frames[idx])

	// The freed slot is reused.
	_, err = pool.GetPage(tid, pageID(id, 1), txn.ReadOnly)
	require.NoError(t, err)
	require.Equal(t, idx, pool.table[pageID(id, 1)])
}

func TestPool_DiscardFile_Detaches(t *testing.T) {
	pool, _, id := newTestPool(t, 2, 1)
	tid := txn.NewID()

	_, err := pool.GetPage(tid, pageID(id, 0), txn.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(tid, pageID(id, 0), false))

	require.NoError(t, pool.DiscardFile(id))
	require.Empty(t, pool.table)

	_, err = pool.GetPage(tid, pageID(id, 0), txn.ReadOnly)
	require.ErrorIs(t, err, ErrUnknownFile)
}

func TestPool_Attach_RefusesIDCollision(t *testing.T) {
	pool, fs, id := newTestPool(t, 2, 1)

	again, err := pool.Attach(fs)
	require.NoError(t, err)
	require.Equal(t, id, again)

	// Occupy the id of another file set so that attaching it collides.
	other := storage.NewMemFileSet("other")
	pool.files[storage.FileIDOf(other)] = fs

	_, err = pool.Attach(other)
	require.ErrorIs(t, err, ErrFileIDCollision)
	require.Same(t, fs, pool.files[storage.FileIDOf(other)])
}

var errDiskFull = errors.New("disk full")

// failingWrites refuses writes at or past byte offset from in every segment.
type failingWrites struct {
	*storage.MemFileSet
	from int64
}

func (f *failingWrites) OpenSegment(segNo int32, create bool) (storage.Segment, error) {
	seg, err := f.MemFileSet.OpenSegment(segNo, create)
	if err != nil {
		return nil, err
	}
	return failingSegment{Segment: seg, from: f.from}, nil
}

type failingSegment struct {
	storage.Segment
	from int64
}

func (s failingSegment) WriteAt(b []byte, off int64) (int, error) {
	if off >= s.from {
		return 0, errDiskFull
	}
	return s.Segment.WriteAt(b, off)
}

func TestPool_Commit_PartialFlushSurvivesAbort(t *testing.T) {
	sm := storage.NewStorageManager()
	mem := storage.NewMemFileSet(t.Name())
	for i := 0; i < 2; i++ {
		_, err := sm.AppendPage(mem)
		require.NoError(t, err)
	}
	fs := &failingWrites{MemFileSet: mem, from: storage.PageSize}

	pool := NewPool(sm, lock.NewManager(50*time.Millisecond, nil), 4, nil)
	id, err := pool.Attach(fs)
	require.NoError(t, err)
	tid := txn.NewID()

	// Dirty page 1 first; commit still writes in page order.
	for _, n := range []uint32{1, 0} {
		page, err := pool.GetPage(tid, pageID(id, n), txn.ReadWrite)
		require.NoError(t, err)
		_, err = page.InsertTuple([]byte{byte(n)})
		require.NoError(t, err)
		require.NoError(t, pool.Unpin(tid, pageID(id, n), true))
	}

	err = pool.Commit(tid)
	require.ErrorIs(t, err, errDiskFull)
	require.ErrorIs(t, err, storage.ErrStorageIO)
	require.True(t, pool.locks.Holds(tid, pageID(id, 0)), "locks are kept after a failed commit")

	require.NoError(t, pool.Abort(tid))
	require.Empty(t, pool.locks.HeldPages(tid))

	// Page 0 reached disk before the failure and stays; page 1 rolled back.
	p0, err := sm.LoadPage(mem, 0)
	require.NoError(t, err)
	require.Equal(t, 1, p0.NumSlots())
	p1, err := sm.LoadPage(mem, 1)
	require.NoError(t, err)
	require.Equal(t, 0, p1.NumSlots())

	cached, err := pool.GetPage(txn.NewID(), pageID(id, 1), txn.ReadOnly)
	require.NoError(t, err)
	require.Equal(t, 0, cached.NumSlots())
}
