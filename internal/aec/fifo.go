package aec

import "sync/atomic"

// ReferenceFIFO is a bounded single-producer single-consumer sample queue.
// The producer is the speaker sink, the consumer is the TX task. Writes that
// do not fit are truncated (drop-newest); the producer never reads.
type ReferenceFIFO struct {
	buf []int16
	// Monotonic counters; buf index is counter % len(buf).
	head atomic.Uint64 // next read, owned by the consumer
	tail atomic.Uint64 // next write, owned by the producer
}

func NewReferenceFIFO(capacity int) *ReferenceFIFO {
	if capacity < 1 {
		capacity = 1
	}
	return &ReferenceFIFO{buf: make([]int16, capacity)}
}

func (f *ReferenceFIFO) Cap() int {
	return len(f.buf)
}

func (f *ReferenceFIFO) Len() int {
	return int(f.tail.Load() - f.head.Load())
}

// Write appends as many samples as fit and returns how many were stored.
// Producer side only.
func (f *ReferenceFIFO) Write(src []int16) int {
	tail := f.tail.Load()
	free := len(f.buf) - int(tail-f.head.Load())
	n := len(src)
	if n > free {
		n = free
	}
	size := uint64(len(f.buf))
	for i := 0; i < n; i++ {
		f.buf[(tail+uint64(i))%size] = src[i]
	}
	f.tail.Store(tail + uint64(n))
	return n
}

// Read drains up to len(dst) samples. Consumer side only.
func (f *ReferenceFIFO) Read(dst []int16) int {
	head := f.head.Load()
	avail := int(f.tail.Load() - head)
	n := len(dst)
	if n > avail {
		n = avail
	}
	size := uint64(len(f.buf))
	for i := 0; i < n; i++ {
		dst[i] = f.buf[(head+uint64(i))%size]
	}
	f.head.Store(head + uint64(n))
	return n
}

// Drain discards everything currently queued. Consumer side only.
func (f *ReferenceFIFO) Drain() int {
	head := f.head.Load()
	tail := f.tail.Load()
	f.head.Store(tail)
	return int(tail - head)
}
