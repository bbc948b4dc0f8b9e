package entities

// Cached is a read-through cache for one value derived from a snapshot.
// The value is keyed to the coordinator's last-update-success counter, a
// monotonically increasing logical clock, so it is recomputed exactly once
// per published snapshot no matter how often it is read. Keying off the
// counter instead of snapshot object identity avoids stale hits when the
// runtime reuses a reclaimed allocation.
type Cached[T any] struct {
	value T
	at    uint64
	valid bool
}

// Get returns the cached value, recomputing it only when the logical clock
// moved since the last computation.
func (c *Cached[T]) Get(clock uint64, compute func() T) T {
	if !c.valid || c.at != clock {
		c.value = compute()
		c.at = clock
		c.valid = true
	}
	return c.value
}

// Invalidate forces the next Get to recompute.
func (c *Cached[T]) Invalidate() {
	c.valid = false
}
