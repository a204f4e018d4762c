package iterator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(n int) (ReadNextFunc[int], *int) {
	calls := 0
	i := 0
	return func() (int, bool, error) {
		calls++
		if i >= n {
			return 0, false, nil
		}
		i++
		return i, true, nil
	}, &calls
}

func TestLookahead_HasNextIsIdempotent(t *testing.T) {
	read, calls := counter(2)
	l := NewLookahead(read)

	for range 3 {
		ok, err := l.HasNext()
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 1, *calls)

	v, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, 1, v)
	v, err = l.Next()
	require.NoError(t, err)
	require.Equal(t, 2, v)

	_, err = l.Next()
	require.ErrorIs(t, err, ErrExhausted)
	ok, err := l.HasNext()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLookahead_ErrorNotCached(t *testing.T) {
	boom := errors.New("boom")
	fail := true
	l := NewLookahead(func() (string, bool, error) {
		if fail {
			return "", false, boom
		}
		return "ok", true, nil
	})

	_, err := l.HasNext()
	require.ErrorIs(t, err, boom)
	_, err = l.Next()
	require.ErrorIs(t, err, boom)

	fail = false
	v, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestLookahead_Reset(t *testing.T) {
	read, _ := counter(3)
	l := NewLookahead(read)

	ok, err := l.HasNext()
	require.NoError(t, err)
	require.True(t, ok)

	l.Reset()
	v, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, 2, v, "buffered element is dropped by Reset")
}

func TestHelpers(t *testing.T) {
	newSeq := func() *Lookahead[int] {
		data := []int{1, 2, 3, 4}
		return NewLookahead(func() (int, bool, error) {
			if len(data) == 0 {
				return 0, false, nil
			}
			v := data[0]
			data = data[1:]
			return v, true, nil
		})
	}

	all, err := Collect[int](newSeq())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, all)

	n, err := Count[int](newSeq())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	first, err := Take[int](newSeq(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, first)

	more, err := Take[int](newSeq(), 10)
	require.NoError(t, err)
	assert.Len(t, more, 4)

	boom := errors.New("stop")
	seen := 0
	err = ForEach[int](newSeq(), func(v int) error {
		seen++
		if v == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, seen)
}
