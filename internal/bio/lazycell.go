package bio

import "sync"

// LazyCell is the once-cell memoization primitive backing every lazy format
// reader. Readers are single-threaded by contract; sync.Once just keeps a
// stray concurrent call from double-computing instead of racing.
type LazyCell[T any] struct {
	once  sync.Once
	value T
	err   error
}

// Get populates the cell on first call via compute, then returns the cached
// result on every subsequent call.
func (c *LazyCell[T]) Get(compute func() (T, error)) (T, error) {
	c.once.Do(func() {
		c.value, c.err = compute()
	})
	return c.value, c.err
}
