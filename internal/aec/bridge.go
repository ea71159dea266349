// Package aec adapts a 512-sample echo canceller to the 320-sample frames of
// the voice pipeline and owns the speaker reference stream.
package aec

import (
	"sync"

	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/pkg/logger"
)

const (
	ChunkSize    = protocol.AECChunkSize
	MicAccumSize = ChunkSize * 2
	OutRingSize  = 1024
)

// Bridge pumps mic audio through a Canceller in fixed chunks.
//
// PushReference may be called from the speaker goroutine at any time. The
// remaining methods belong to the TX task; mu only serializes them against a
// FlushReference issued while the speaker is stopped.
type Bridge struct {
	c   Canceller
	ref *ReferenceFIFO

	mu       sync.Mutex
	micAccum []int16
	micFill  int

	outRing  []int16
	outRead  int
	outWrite int
	outCount int

	refChunk []int16
	outChunk []int16
	preDelay int
}

// NewBridge returns a bridge around c. A nil canceller yields a bridge that
// reports not ready, and the TX task then encodes raw mic audio.
func NewBridge(c Canceller) *Bridge {
	b := &Bridge{
		c:        c,
		ref:      NewReferenceFIFO(protocol.ReferenceCap),
		micAccum: make([]int16, MicAccumSize),
		outRing:  make([]int16, OutRingSize),
		refChunk: make([]int16, ChunkSize),
		outChunk: make([]int16, ChunkSize),
		preDelay: protocol.AcousticDelay,
	}
	if c == nil {
		logger.Log.Warn("AEC unavailable, raw mic audio will be sent")
		return b
	}
	b.prime()
	logger.Log.Infof("AEC ready: chunk=%d samples, reference pre-delay=%d samples", ChunkSize, b.preDelay)
	return b
}

func (b *Bridge) Ready() bool {
	return b != nil && b.c != nil
}

// ReferenceLen reports how many reference samples are queued.
func (b *Bridge) ReferenceLen() int {
	return b.ref.Len()
}

// PushReference tees speaker output into the reference stream without
// blocking. Samples that do not fit are dropped.
func (b *Bridge) PushReference(samples []int16) {
	if !b.Ready() || len(samples) == 0 {
		return
	}
	b.ref.Write(samples)
}

// PushMic appends mic samples and runs the canceller over every complete
// chunk. It returns the number of cleaned samples waiting.
func (b *Bridge) PushMic(samples []int16) int {
	if !b.Ready() || len(samples) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(b.micAccum[b.micFill:], samples)
	b.micFill += n

	for b.micFill >= ChunkSize {
		b.runChunk()
		left := copy(b.micAccum, b.micAccum[ChunkSize:b.micFill])
		b.micFill = left
	}
	return b.outCount
}

func (b *Bridge) runChunk() {
	got := b.ref.Read(b.refChunk)
	for i := got; i < ChunkSize; i++ {
		b.refChunk[i] = 0
	}

	b.c.Process(b.micAccum[:ChunkSize], b.refChunk, b.outChunk)

	for _, s := range b.outChunk {
		if b.outCount == OutRingSize {
			break
		}
		b.outRing[b.outWrite] = s
		b.outWrite = (b.outWrite + 1) % OutRingSize
		b.outCount++
	}
}

// PopCleaned moves up to len(dst) cleaned samples into dst.
func (b *Bridge) PopCleaned(dst []int16) int {
	if !b.Ready() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(dst)
	if n > b.outCount {
		n = b.outCount
	}
	for i := 0; i < n; i++ {
		dst[i] = b.outRing[b.outRead]
		b.outRead = (b.outRead + 1) % OutRingSize
	}
	b.outCount -= n
	return n
}

// Reset clears the mic and output state. The reference is kept so echo from
// the most recent playback can still be cancelled.
func (b *Bridge) Reset() {
	if !b.Ready() {
		return
	}
	b.mu.Lock()
	b.resetLocked()
	b.mu.Unlock()
}

func (b *Bridge) resetLocked() {
	b.micFill = 0
	b.outRead, b.outWrite, b.outCount = 0, 0, 0
}

// FlushReference discards the reference and the mic/out state, then re-primes
// the standard pre-delay. Only call it while the speaker is stopped.
func (b *Bridge) FlushReference() {
	if !b.Ready() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := b.ref.Drain()
	b.resetLocked()
	b.prime()
	logger.Log.Debugf("AEC reference flushed (%d samples dropped)", dropped)
}

func (b *Bridge) prime() {
	var silence [256]int16
	for left := b.preDelay; left > 0; {
		n := min(left, len(silence))
		w := b.ref.Write(silence[:n])
		left -= w
		if w < n {
			break
		}
	}
}
