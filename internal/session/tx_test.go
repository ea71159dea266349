package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/intercom/internal/aec"
	"github.com/pccr10001/intercom/internal/protocol"
)

func runTXFrames(h *harness, ctx context.Context, iterations int, wasTx bool) bool {
	for i := 0; i < iterations; i++ {
		wasTx = h.c.txIteration(ctx, wasTx)
	}
	return wasTx
}

func TestTransmitLeadInVoiceTrailOut(t *testing.T) {
	h := newHarness(t, defaultSettings())
	ctx := context.Background()

	require.NoError(t, h.c.PressPTT())
	assert.Equal(t, StateTransmitting, h.c.State())
	assert.Equal(t, LEDTransmitting, h.c.CurrentLED())

	wasTx := runTXFrames(h, ctx, 80, false)
	assert.True(t, wasTx)
	assert.Equal(t, 1, h.enc.resets)
	assert.Equal(t, 1, h.aec.resets)

	h.c.ReleasePTT()
	assert.Equal(t, StateIdle, h.c.State())
	runTXFrames(h, ctx, 1, wasTx)

	require.Len(t, h.net.sent, 15+80+10)
	for i, sp := range h.net.sent {
		assert.Equal(t, uint32(i), sp.pkt.Sequence, "sequence is contiguous")
		assert.Equal(t, localID, sp.pkt.DeviceID)
		assert.Equal(t, "multicast", sp.dest)
		switch {
		case i < 15, i >= 95:
			assert.True(t, sp.pkt.IsSilence(), "frame %d should be silence", i)
		default:
			assert.False(t, sp.pkt.IsSilence(), "frame %d should be voice", i)
		}
	}
	assert.Equal(t, uint32(105), h.c.Sequence())
}

func TestTransmitUnicastToResolvedRoom(t *testing.T) {
	s := defaultSettings()
	s.Target = "Kitchen"
	s.Priority = protocol.PriorityHigh
	h := newHarness(t, s)
	h.peers.rooms["Kitchen"] = "10.0.0.20"

	require.NoError(t, h.c.PressPTT())
	runTXFrames(h, context.Background(), 3, false)

	require.NotEmpty(t, h.net.sent)
	for _, sp := range h.net.sent {
		assert.Equal(t, "10.0.0.20", sp.dest)
		assert.Equal(t, protocol.PriorityHigh, sp.pkt.Priority)
	}
}

func TestTransmitFallsBackToMulticastForUnknownRoom(t *testing.T) {
	s := defaultSettings()
	s.Target = "Garage"
	h := newHarness(t, s)

	require.NoError(t, h.c.PressPTT())
	runTXFrames(h, context.Background(), 1, false)

	require.NotEmpty(t, h.net.sent)
	assert.Equal(t, "multicast", h.net.sent[0].dest)
}

func TestShortMicReadSendsNothing(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.mic.short = true

	require.NoError(t, h.c.PressPTT())
	runTXFrames(h, context.Background(), 5, false)

	assert.Len(t, h.net.sent, 15, "only the lead-in goes out")
}

func TestSequenceSurvivesSessions(t *testing.T) {
	h := newHarness(t, defaultSettings())
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		require.NoError(t, h.c.PressPTT())
		wasTx := runTXFrames(h, ctx, 2, false)
		h.c.ReleasePTT()
		runTXFrames(h, ctx, 1, wasTx)
	}

	var last int64 = -1
	for _, sp := range h.net.sent {
		assert.Greater(t, int64(sp.pkt.Sequence), last)
		last = int64(sp.pkt.Sequence)
	}
}

func TestIdleTXDoesNotSend(t *testing.T) {
	h := newHarness(t, defaultSettings())
	start := h.clock.Now()
	runTXFrames(h, context.Background(), 5, false)
	assert.Empty(t, h.net.sent)
	assert.Equal(t, 50*time.Millisecond, h.clock.Now().Sub(start))
}

const cleanedOffset = 10000

// offsetCanceller marks its output so cleaned frames can be told apart from
// the raw 1000-valued mic frames.
type offsetCanceller struct{}

func (offsetCanceller) Process(mic, ref, out []int16) {
	for i := range mic {
		out[i] = mic[i] + cleanedOffset
	}
}

func (offsetCanceller) Reset() {}

func TestTXFramesAreWhollyCleanedOrRaw(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.c.d.AEC = aec.NewBridge(offsetCanceller{})

	require.NoError(t, h.c.PressPTT())
	runTXFrames(h, context.Background(), 40, false)

	var kinds []string
	for i, f := range h.enc.frames {
		var raw, cleaned, zero int
		for _, v := range f {
			switch v {
			case 1000:
				raw++
			case 1000 + cleanedOffset:
				cleaned++
			case 0:
				zero++
			}
		}
		switch protocol.FrameSize {
		case zero:
			// silence frame for lead-in and trail-out
		case raw:
			kinds = append(kinds, "raw")
		case cleaned:
			kinds = append(kinds, "cleaned")
		default:
			t.Fatalf("encoded frame %d mixes samples: raw=%d cleaned=%d zero=%d", i, raw, cleaned, zero)
		}
	}

	require.Len(t, kinds, 40)
	assert.Equal(t, []string{"raw", "cleaned", "raw"}, kinds[:3])
	for i, k := range kinds[3:] {
		assert.Equal(t, "cleaned", k, "frame %d", i+3)
	}
	assert.Len(t, h.net.sent, 15+40)
}
