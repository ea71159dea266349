package protocol

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIDFromMAC(t *testing.T) {
	mac := net.HardwareAddr{0x24, 0x6f, 0x28, 0x01, 0x02, 0x03}

	id, err := DeviceIDFromMAC(mac)
	require.NoError(t, err)

	assert.Equal(t, byte(0x24^0x28^0x02), id[6])
	assert.Equal(t, byte(0x6f^0x01^0x03), id[7])
	assert.Equal(t, "246f28010203", id.String()[:12])

	_, err = DeviceIDFromMAC(net.HardwareAddr{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidMACLength)
}

func TestParseDeviceID(t *testing.T) {
	id := DeviceID{1, 2, 3, 4, 5, 6, 7, 8}

	parsed, err := ParseDeviceID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, "01020304", id.Short())

	_, err = ParseDeviceID("xyz")
	assert.ErrorIs(t, err, ErrInvalidDeviceID)
}

func TestPacketWireLayout(t *testing.T) {
	p := &Packet{
		DeviceID: DeviceID{0xa, 0xb, 0xc, 0xd, 0xe, 0xf, 0x1, 0x2},
		Sequence: 0x01020304,
		Priority: PriorityEmergency,
		Payload:  []byte{0x55, 0x66},
	}

	data, err := p.Marshal()
	require.NoError(t, err)
	require.Len(t, data, HeaderLength+2)

	assert.Equal(t, []byte{0xa, 0xb, 0xc, 0xd, 0xe, 0xf, 0x1, 0x2}, data[:8])
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data[8:12])
	assert.Equal(t, byte(2), data[12])
	assert.Equal(t, []byte{0x55, 0x66}, data[13:])
}

func TestMarshalRejectsOversizedPayload(t *testing.T) {
	p := &Packet{Payload: make([]byte, MaxPayloadSize+1)}
	_, err := p.Marshal()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	p.Payload = make([]byte, MaxPayloadSize)
	data, err := p.Marshal()
	require.NoError(t, err)
	assert.Len(t, data, MaxPacketSize)
}

func TestParse(t *testing.T) {
	t.Run("short datagram", func(t *testing.T) {
		_, err := Parse([]byte{ProbeByte})
		assert.ErrorIs(t, err, ErrShortPacket)
	})

	t.Run("unknown priority clamps to normal", func(t *testing.T) {
		data := make([]byte, HeaderLength+20)
		data[12] = 9
		p, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, PriorityNormal, p.Priority)
	})

	t.Run("oversized datagram truncated", func(t *testing.T) {
		data := make([]byte, MaxPacketSize+40)
		p, err := Parse(data)
		require.NoError(t, err)
		assert.Len(t, p.Payload, MaxPayloadSize)
	})
}

func TestIsSilence(t *testing.T) {
	assert.True(t, (&Packet{Payload: make([]byte, 3)}).IsSilence())
	assert.True(t, (&Packet{Payload: make([]byte, 9)}).IsSilence())
	assert.False(t, (&Packet{Payload: make([]byte, 10)}).IsSilence())
}

func TestPeekHeader(t *testing.T) {
	p := &Packet{DeviceID: DeviceID{9}, Priority: PriorityHigh, Payload: []byte{1}}
	data, err := p.Marshal()
	require.NoError(t, err)

	id, pri, ok := PeekHeader(data)
	assert.True(t, ok)
	assert.Equal(t, DeviceID{9}, id)
	assert.Equal(t, PriorityHigh, pri)

	_, _, ok = PeekHeader(data[:5])
	assert.False(t, ok)
}
