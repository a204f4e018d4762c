package heap

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/heapscan/internal/bufferpool"
	"github.com/tuannm99/heapscan/internal/iterator"
	"github.com/tuannm99/heapscan/internal/lock"
	"github.com/tuannm99/heapscan/internal/storage"
	"github.com/tuannm99/heapscan/internal/txn"
)

// newPoolFile wires a heap file to a real buffer pool over memory storage.
func newPoolFile(t *testing.T, capacity int) (*File, *bufferpool.Pool) {
	t.Helper()

	sm := storage.NewStorageManager()
	fs := storage.NewMemFileSet(t.Name())
	pool := bufferpool.NewPool(sm, lock.NewManager(50*time.Millisecond, nil), capacity, nil)
	id, err := pool.Attach(fs)
	require.NoError(t, err)

	f := NewFile("users", testSchema, sm, fs)
	require.Equal(t, id, f.ID())
	return f, pool
}

func TestFile_InsertGetUpdateDelete(t *testing.T) {
	f, pool := newPoolFile(t, 8)
	tid := txn.NewID()

	rid, err := f.Insert(pool, tid, []any{int64(1), "alice"})
	require.NoError(t, err)
	assert.Equal(t, RID{PageNo: 0, Slot: 0}, rid)

	row, err := f.Get(pool, tid, rid)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "alice"}, row)

	require.NoError(t, f.Update(pool, tid, rid, []any{int64(1), strings.Repeat("a", 300)}))
	row, err = f.Get(pool, tid, rid)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 300), row[1])

	require.NoError(t, f.Delete(pool, tid, rid))
	_, err = f.Get(pool, tid, rid)
	require.ErrorIs(t, err, storage.ErrBadSlot)

	require.NoError(t, pool.Commit(tid))
}

func TestFile_Insert_AppendsPageWhenFull(t *testing.T) {
	f, pool := newPoolFile(t, 8)
	tid := txn.NewID()

	name := strings.Repeat("n", 3000)
	var rids []RID
	for i := range 5 {
		rid, err := f.Insert(pool, tid, []any{int64(i), name})
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, pool.Commit(tid))

	n, err := f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	assert.Equal(t, uint32(2), rids[4].PageNo)
}

func TestFile_Insert_TooLarge(t *testing.T) {
	f, pool := newPoolFile(t, 4)
	tid := txn.NewID()

	_, err := f.Insert(pool, tid, []any{int64(1), strings.Repeat("x", storage.PageSize)})
	require.ErrorIs(t, err, storage.ErrTupleTooLarge)
	require.NoError(t, pool.Abort(tid))
}

func TestIterator_ThroughPool(t *testing.T) {
	f, pool := newPoolFile(t, 2)

	// three rows per page; commit each insert so no more than one page is dirty
	var want []int64
	name := strings.Repeat("p", 2500)
	for i := int64(1); i <= 9; i++ {
		tid := txn.NewID()
		_, err := f.Insert(pool, tid, []any{i, name})
		require.NoError(t, err)
		require.NoError(t, pool.Commit(tid))
		want = append(want, i)
	}

	// empty out page 1 entirely
	writer := txn.NewID()
	for slot := uint16(0); slot < 3; slot++ {
		require.NoError(t, f.Delete(pool, writer, RID{PageNo: 1, Slot: slot}))
	}
	want = append(want[:3], want[6:]...)
	require.NoError(t, pool.Commit(writer))

	reader := txn.NewID()
	it := f.Iterator(pool, reader)
	require.NoError(t, it.Open())

	all, err := iterator.Collect[Tuple](it)
	require.NoError(t, err)
	got := ids(t, all)
	assert.Equal(t, want, got)

	// Only the current page stays pinned, so a two-frame pool is enough.
	n, err := f.NumPages()
	require.NoError(t, err)
	for p := uint32(0); p < n; p++ {
		pin := pool.PinCount(storage.PageID{File: f.ID(), PageNo: p})
		if p == n-1 {
			assert.Equal(t, int32(1), pin)
		} else {
			assert.Zero(t, pin)
		}
	}

	require.NoError(t, it.Rewind())
	count, err := iterator.Count[Tuple](it)
	require.NoError(t, err)
	assert.Equal(t, len(want), count)

	require.NoError(t, it.Close())
	assert.Zero(t, pool.PinCount(storage.PageID{File: f.ID(), PageNo: n - 1}))
	require.NoError(t, pool.Commit(reader))
}

func TestIterator_ThroughPool_AbortsOnLockTimeout(t *testing.T) {
	f, pool := newPoolFile(t, 4)
	setup := txn.NewID()
	_, err := f.Insert(pool, setup, []any{int64(1), "a"})
	require.NoError(t, err)
	require.NoError(t, pool.Commit(setup))

	writer := txn.NewID()
	_, err = f.Insert(pool, writer, []any{int64(2), "b"})
	require.NoError(t, err)

	reader := txn.NewID()
	it := f.Iterator(pool, reader)
	err = it.Open()
	require.ErrorIs(t, err, txn.ErrAborted)

	require.NoError(t, it.Close())
	require.NoError(t, pool.Abort(reader))
	require.NoError(t, pool.Abort(writer))

	// The aborted insert is gone.
	again := txn.NewID()
	it = f.Iterator(pool, again)
	require.NoError(t, it.Open())
	all, err := iterator.Collect[Tuple](it)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(t, all))
	require.NoError(t, it.Close())
}

func TestFile_Scan(t *testing.T) {
	f, pool := newPoolFile(t, 4)
	tid := txn.NewID()
	for i := int64(1); i <= 4; i++ {
		_, err := f.Insert(pool, tid, []any{i, fmt.Sprint(i)})
		require.NoError(t, err)
	}

	var seen []int64
	err := f.Scan(pool, tid, func(tup Tuple) error {
		seen = append(seen, tup.Values[0].(int64))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, seen)

	stop := errors.New("stop")
	calls := 0
	err = f.Scan(pool, tid, func(Tuple) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Zero(t, pool.PinCount(storage.PageID{File: f.ID(), PageNo: 0}))
}
