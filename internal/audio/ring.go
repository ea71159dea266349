package audio

import (
	"sync"
	"time"
)

type sample interface {
	~int16 | ~int32
}

// ring is a bounded sample buffer between a driver callback and a blocking
// reader. A full ring drops its oldest samples.
type ring[T sample] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int
	tail     int
	count    int
	dropped  uint64
	shutdown bool
}

func newRing[T sample](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &ring[T]{buf: make([]T, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *ring[T]) Close() {
	r.mu.Lock()
	r.shutdown = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *ring[T]) Reset() {
	r.mu.Lock()
	r.head, r.tail, r.count = 0, 0, 0
	r.shutdown = false
	r.mu.Unlock()
}

func (r *ring[T]) Write(data []T) {
	r.mu.Lock()
	defer func() {
		r.cond.Broadcast()
		r.mu.Unlock()
	}()

	for _, v := range data {
		if r.count == len(r.buf) {
			r.head = (r.head + 1) % len(r.buf)
			r.count--
			r.dropped++
		}
		r.buf[r.tail] = v
		r.tail = (r.tail + 1) % len(r.buf)
		r.count++
	}
}

// ReadFull waits until len(dst) samples are buffered or timeout elapses, then
// copies what is available. ok is false once the ring is closed.
func (r *ring[T]) ReadFull(dst []T, timeout time.Duration) (n int, ok bool) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.count < len(dst) && !r.shutdown && time.Now().Before(deadline) {
		r.cond.Wait()
	}
	if r.shutdown {
		return 0, false
	}

	n = min(len(dst), r.count)
	for i := 0; i < n; i++ {
		dst[i] = r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
	}
	r.count -= n
	return n, true
}

func (r *ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
