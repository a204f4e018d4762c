package iterator

import "errors"

// ErrExhausted is returned by Next when the sequence has nothing left. It is
// the normal end of a scan, not a fault.
var ErrExhausted = errors.New("iterator: no more elements")

// Seq is the read half of a lazy sequence.
type Seq[T any] interface {
	HasNext() (bool, error)
	Next() (T, error)
}

// Closeable is a Seq with the open/rewind/close lifecycle.
type Closeable[T any] interface {
	Seq[T]
	Open() error
	Rewind() error
	Close() error
}

// ReadNextFunc produces the next element. ok=false means end of sequence.
type ReadNextFunc[T any] func() (v T, ok bool, err error)

// Lookahead buffers one element ahead of a ReadNextFunc so HasNext can be
// called any number of times without consuming.
type Lookahead[T any] struct {
	read ReadNextFunc[T]
	next T
	has  bool
}

func NewLookahead[T any](read ReadNextFunc[T]) *Lookahead[T] {
	return &Lookahead[T]{read: read}
}

func (l *Lookahead[T]) HasNext() (bool, error) {
	if l.has {
		return true, nil
	}
	v, ok, err := l.read()
	if err != nil || !ok {
		return false, err
	}
	l.next, l.has = v, true
	return true, nil
}

func (l *Lookahead[T]) Next() (T, error) {
	var zero T
	ok, err := l.HasNext()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrExhausted
	}
	v := l.next
	l.next, l.has = zero, false
	return v, nil
}

// Reset drops the buffered element, if any.
func (l *Lookahead[T]) Reset() {
	var zero T
	l.next, l.has = zero, false
}
