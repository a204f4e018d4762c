package iterator

// Iterate drives it until exhaustion. fn returns false to stop early.
// The iterator must already be open.
func Iterate[T any](it Seq[T], fn func(T) (bool, error)) error {
	for {
		ok, err := it.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		v, err := it.Next()
		if err != nil {
			return err
		}
		cont, err := fn(v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

func ForEach[T any](it Seq[T], fn func(T) error) error {
	return Iterate(it, func(v T) (bool, error) {
		return true, fn(v)
	})
}

// Take returns up to n elements.
func Take[T any](it Seq[T], n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]T, 0, n)
	err := Iterate(it, func(v T) (bool, error) {
		out = append(out, v)
		return len(out) < n, nil
	})
	return out, err
}

// Collect drains it into memory.
func Collect[T any](it Seq[T]) ([]T, error) {
	var out []T
	err := ForEach(it, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

func Count[T any](it Seq[T]) (int, error) {
	n := 0
	err := ForEach(it, func(T) error {
		n++
		return nil
	})
	return n, err
}
