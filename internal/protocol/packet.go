package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
)

var (
	ErrShortPacket      = errors.New("packet shorter than header")
	ErrPayloadTooLarge  = errors.New("opus payload exceeds packet size")
	ErrInvalidDeviceID  = errors.New("invalid device id")
	ErrInvalidMACLength = errors.New("mac address must be 6 bytes")
)

// DeviceID identifies one endpoint on the wire.
type DeviceID [DeviceIDLength]byte

// DeviceIDFromMAC folds a 6 byte hardware address into the 8 byte id:
// the MAC itself followed by the XOR of its even and odd bytes.
func DeviceIDFromMAC(mac net.HardwareAddr) (DeviceID, error) {
	var id DeviceID
	if len(mac) != 6 {
		return id, ErrInvalidMACLength
	}
	copy(id[:6], mac)
	id[6] = mac[0] ^ mac[2] ^ mac[4]
	id[7] = mac[1] ^ mac[3] ^ mac[5]
	return id, nil
}

func ParseDeviceID(s string) (DeviceID, error) {
	var id DeviceID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != DeviceIDLength {
		return id, fmt.Errorf("%w: %q", ErrInvalidDeviceID, s)
	}
	copy(id[:], b)
	return id, nil
}

func (id DeviceID) String() string {
	return hex.EncodeToString(id[:])
}

// Short is the 4 byte prefix used in log lines.
func (id DeviceID) Short() string {
	return hex.EncodeToString(id[:4])
}

func (id DeviceID) IsZero() bool {
	return id == DeviceID{}
}

type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityEmergency
)

// ClampPriority maps unknown wire values to Normal.
func ClampPriority(v uint8) Priority {
	if v > uint8(PriorityEmergency) {
		return PriorityNormal
	}
	return Priority(v)
}

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityEmergency:
		return "emergency"
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// Packet is one audio datagram.
// Layout: DeviceID(8) | Sequence(4, big-endian) | Priority(1) | Opus(0-243)
type Packet struct {
	DeviceID DeviceID
	Sequence uint32
	Priority Priority
	Payload  []byte
}

// IsSilence reports whether the payload is a silence frame. Opus encodes
// digital silence in a handful of bytes; voice frames are 20+.
func (p *Packet) IsSilence() bool {
	return len(p.Payload) < SilenceThreshold
}

// MarshalTo writes the packet into dst and returns the number of bytes used.
// dst must hold at least HeaderLength+len(Payload) bytes.
func (p *Packet) MarshalTo(dst []byte) (int, error) {
	if len(p.Payload) > MaxPayloadSize {
		return 0, ErrPayloadTooLarge
	}
	n := HeaderLength + len(p.Payload)
	if len(dst) < n {
		return 0, fmt.Errorf("buffer too small: %d < %d", len(dst), n)
	}
	copy(dst[:DeviceIDLength], p.DeviceID[:])
	binary.BigEndian.PutUint32(dst[8:12], p.Sequence)
	dst[12] = byte(p.Priority)
	copy(dst[HeaderLength:], p.Payload)
	return n, nil
}

func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, HeaderLength+len(p.Payload))
	n, err := p.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Parse decodes a datagram. The payload aliases data; datagrams longer than
// MaxPacketSize are truncated. Unknown priorities are clamped to Normal.
func Parse(data []byte) (*Packet, error) {
	if len(data) < HeaderLength {
		return nil, ErrShortPacket
	}
	if len(data) > MaxPacketSize {
		data = data[:MaxPacketSize]
	}
	p := &Packet{
		Sequence: binary.BigEndian.Uint32(data[8:12]),
		Priority: ClampPriority(data[12]),
		Payload:  data[HeaderLength:],
	}
	copy(p.DeviceID[:], data[:DeviceIDLength])
	return p, nil
}

// PeekHeader extracts the fields the RX filter needs without allocating.
func PeekHeader(data []byte) (DeviceID, Priority, bool) {
	var id DeviceID
	if len(data) < HeaderLength {
		return id, PriorityNormal, false
	}
	copy(id[:], data[:DeviceIDLength])
	return id, ClampPriority(data[12]), true
}
