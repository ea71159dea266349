package network

import (
	"context"
	"errors"
	"time"

	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/pkg/logger"
)

var ErrQueueFull = errors.New("rx queue full")

// RxQueue is the bounded hand-off from the network RX goroutine to the play
// task. Overflow drops the newest packet.
type RxQueue struct {
	ch    chan []byte
	drops *logger.Every
	free  chan []byte
}

func NewRxQueue(depth int) *RxQueue {
	if depth <= 0 {
		depth = protocol.RxQueueDepth
	}
	q := &RxQueue{
		ch:    make(chan []byte, depth),
		drops: logger.NewEvery(50),
		// One spare per slot plus the item held by each side.
		free: make(chan []byte, depth+2),
	}
	return q
}

func (q *RxQueue) buffer() []byte {
	select {
	case b := <-q.free:
		return b[:0]
	default:
		return make([]byte, 0, protocol.MaxPacketSize)
	}
}

// Release returns a buffer obtained from Receive for reuse.
func (q *RxQueue) Release(b []byte) {
	if cap(b) < protocol.MaxPacketSize {
		return
	}
	select {
	case q.free <- b:
	default:
	}
}

// TrySend copies up to MaxPacketSize bytes of data and enqueues them without
// blocking.
func (q *RxQueue) TrySend(data []byte) error {
	if len(data) > protocol.MaxPacketSize {
		data = data[:protocol.MaxPacketSize]
	}
	item := append(q.buffer(), data...)
	select {
	case q.ch <- item:
		return nil
	default:
		q.Release(item)
		if total, ok := q.drops.Hit(); ok {
			var seq uint32
			if p, err := protocol.Parse(data); err == nil {
				seq = p.Sequence
			}
			logger.Log.Warnf("[RX] queue_full: dropped seq=%d, total_drops=%d", seq, total)
		}
		return ErrQueueFull
	}
}

// Receive waits up to timeout for the next packet.
func (q *RxQueue) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	select {
	case b := <-q.ch:
		return b, true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b := <-q.ch:
		return b, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Flush discards every queued packet and returns how many were dropped.
func (q *RxQueue) Flush() int {
	n := 0
	for {
		select {
		case b := <-q.ch:
			q.Release(b)
			n++
		default:
			return n
		}
	}
}

func (q *RxQueue) Len() int {
	return len(q.ch)
}

func (q *RxQueue) Cap() int {
	return cap(q.ch)
}

func (q *RxQueue) Drops() uint64 {
	return q.drops.Count()
}
