package logger

import "sync/atomic"

// Every downsamples hot-path logging. Hit reports true for the 1st event and
// then once per N events after it.
type Every struct {
	n     uint64
	count atomic.Uint64
}

func NewEvery(n uint64) *Every {
	if n == 0 {
		n = 1
	}
	return &Every{n: n}
}

// Hit counts one event and returns the running total and whether to log it.
func (e *Every) Hit() (uint64, bool) {
	c := e.count.Add(1)
	return c, c%e.n == 1 || e.n == 1
}

func (e *Every) Count() uint64 {
	return e.count.Load()
}
