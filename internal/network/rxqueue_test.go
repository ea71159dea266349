package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/intercom/internal/protocol"
)

func packet(t *testing.T, seq uint32) []byte {
	t.Helper()
	p := &protocol.Packet{Sequence: seq, Payload: make([]byte, 40)}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func TestRxQueueDropsNewestWhenFull(t *testing.T) {
	q := NewRxQueue(3)
	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, q.TrySend(packet(t, i)))
	}
	assert.ErrorIs(t, q.TrySend(packet(t, 4)), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Drops())
	assert.Equal(t, 3, q.Len())

	for i := uint32(1); i <= 3; i++ {
		b, ok := q.Receive(context.Background(), time.Millisecond)
		require.True(t, ok)
		p, err := protocol.Parse(b)
		require.NoError(t, err)
		assert.Equal(t, i, p.Sequence)
		q.Release(b)
	}
}

func TestRxQueueCopiesInput(t *testing.T) {
	q := NewRxQueue(2)
	buf := packet(t, 7)
	require.NoError(t, q.TrySend(buf))
	for i := range buf {
		buf[i] = 0xFF
	}

	b, ok := q.Receive(context.Background(), time.Millisecond)
	require.True(t, ok)
	p, err := protocol.Parse(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), p.Sequence)
}

func TestRxQueueTruncatesOversize(t *testing.T) {
	q := NewRxQueue(1)
	require.NoError(t, q.TrySend(make([]byte, 400)))
	b, ok := q.Receive(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.Len(t, b, protocol.MaxPacketSize)
}

func TestRxQueueReceiveTimeout(t *testing.T) {
	q := NewRxQueue(0)
	assert.Equal(t, protocol.RxQueueDepth, q.Cap())

	start := time.Now()
	_, ok := q.Receive(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRxQueueReceiveCancelled(t *testing.T) {
	q := NewRxQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Receive(ctx, time.Second)
	assert.False(t, ok)
}

func TestRxQueueFlush(t *testing.T) {
	q := NewRxQueue(5)
	for i := uint32(0); i < 4; i++ {
		require.NoError(t, q.TrySend(packet(t, i)))
	}
	assert.Equal(t, 4, q.Flush())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Flush())
}
