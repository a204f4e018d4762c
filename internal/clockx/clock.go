package clockx

type frame struct {
	present   bool
	evictable bool
	ref       bool
}

// Clock implements CLOCK (second-chance) replacement over frame ids [0..capacity).
// It is not safe for concurrent use; the buffer pool calls it under its latch.
type Clock struct {
	frames []frame
	hand   int
	size   int // evictable frames
}

func New(capacity int) *Clock {
	if capacity <= 0 {
		capacity = 1
	}
	return &Clock{frames: make([]frame, capacity)}
}

func (c *Clock) Capacity() int { return len(c.frames) }

// Size returns the number of frames that Evict may currently pick.
func (c *Clock) Size() int { return c.size }

func (c *Clock) valid(id int) bool { return id >= 0 && id < len(c.frames) }

// RecordAccess marks id as present and recently used.
func (c *Clock) RecordAccess(id int) {
	if !c.valid(id) {
		return
	}
	c.frames[id].present = true
	c.frames[id].ref = true
}

// SetEvictable is ignored for frames never recorded.
func (c *Clock) SetEvictable(id int, evictable bool) {
	if !c.valid(id) || !c.frames[id].present || c.frames[id].evictable == evictable {
		return
	}
	c.frames[id].evictable = evictable
	if evictable {
		c.size++
	} else {
		c.size--
	}
}

// Evict picks a victim and stops tracking it.
func (c *Clock) Evict() (int, bool) {
	n := len(c.frames)
	if c.size == 0 {
		return -1, false
	}
	// two sweeps: first clears ref bits, second must find a victim
	for range 2 * n {
		idx := c.hand
		c.hand = (c.hand + 1) % n

		f := &c.frames[idx]
		if !f.present || !f.evictable {
			continue
		}
		if f.ref {
			f.ref = false
			continue
		}
		*f = frame{}
		c.size--
		return idx, true
	}
	return -1, false
}

func (c *Clock) Remove(id int) {
	if !c.valid(id) || !c.frames[id].present {
		return
	}
	if c.frames[id].evictable {
		c.size--
	}
	c.frames[id] = frame{}
}
