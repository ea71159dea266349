package codec

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/intercom/internal/protocol"
)

func sineFrame(freq, amp float64, offset int) []int16 {
	f := make([]int16, protocol.FrameSize)
	for i := range f {
		t := float64(offset+i) / protocol.SampleRate
		f[i] = int16(amp * math.Sin(2*math.Pi*freq*t))
	}
	return f
}

func peak(s []int16) float64 {
	var p float64
	for _, v := range s {
		p = math.Max(p, math.Abs(float64(v)))
	}
	return p
}

func TestSineRoundTripKeepsLevel(t *testing.T) {
	enc, err := NewEncoder(DefaultEncoderConfig())
	require.NoError(t, err)
	dec, err := NewDecoder()
	require.NoError(t, err)

	const amp = 16000.0
	pkt := make([]byte, protocol.MaxPayloadSize)
	pcm := make([]int16, protocol.FrameSize)

	var got float64
	for i := 0; i < 25; i++ {
		n, err := enc.Encode(context.Background(), sineFrame(440, amp, i*protocol.FrameSize), pkt)
		require.NoError(t, err)
		require.LessOrEqual(t, n, protocol.MaxPayloadSize)

		m, err := dec.Decode(pkt[:n], pcm)
		require.NoError(t, err)
		require.Equal(t, protocol.FrameSize, m)
		got = peak(pcm[:m])
	}

	db := 20 * math.Log10(got/amp)
	assert.InDelta(t, 0, db, 3)
}

func TestSilenceEncodesBelowThreshold(t *testing.T) {
	enc, err := NewEncoder(DefaultEncoderConfig())
	require.NoError(t, err)

	pkt := make([]byte, protocol.MaxPayloadSize)
	var n int
	for i := 0; i < 5; i++ {
		n, err = enc.Encode(context.Background(), make([]int16, protocol.FrameSize), pkt)
		require.NoError(t, err)
	}
	assert.Less(t, n, protocol.SilenceThreshold)
}

func TestEncodeRejectsWrongFrameSize(t *testing.T) {
	enc, err := NewEncoder(DefaultEncoderConfig())
	require.NoError(t, err)

	_, err = enc.Encode(context.Background(), make([]int16, 100), make([]byte, 256))
	assert.Error(t, err)
}

func TestEncoderBusyTimesOut(t *testing.T) {
	enc, err := NewEncoder(DefaultEncoderConfig())
	require.NoError(t, err)

	require.NoError(t, enc.sem.Acquire(context.Background(), 1))
	defer enc.sem.Release(1)

	_, err = enc.Encode(context.Background(), make([]int16, protocol.FrameSize), make([]byte, 256))
	assert.ErrorIs(t, err, ErrEncoderBusy)
	assert.ErrorIs(t, enc.Reset(context.Background()), ErrEncoderBusy)
}

func TestEncoderReset(t *testing.T) {
	enc, err := NewEncoder(DefaultEncoderConfig())
	require.NoError(t, err)

	pkt := make([]byte, 256)
	_, err = enc.Encode(context.Background(), sineFrame(300, 12000, 0), pkt)
	require.NoError(t, err)
	require.NoError(t, enc.Reset(context.Background()))

	n, err := enc.Encode(context.Background(), sineFrame(300, 12000, 0), pkt)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestConcealment(t *testing.T) {
	enc, err := NewEncoder(DefaultEncoderConfig())
	require.NoError(t, err)
	dec, err := NewDecoder()
	require.NoError(t, err)

	pcm := make([]int16, protocol.FrameSize)
	pkts := make([][]byte, 4)
	for i := range pkts {
		buf := make([]byte, 256)
		n, err := enc.Encode(context.Background(), sineFrame(500, 10000, i*protocol.FrameSize), buf)
		require.NoError(t, err)
		pkts[i] = buf[:n]
	}

	_, err = dec.Decode(pkts[0], pcm)
	require.NoError(t, err)

	n, err := dec.DecodePLC(pcm)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameSize, n)

	n, err = dec.DecodeFEC(pkts[3], pcm)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameSize, n)

	n, err = dec.Decode(pkts[3], pcm)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameSize, n)

	require.NoError(t, dec.Reset())
}
