package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/pccr10001/intercom/internal/protocol"
)

// Decoder is owned by the play task and is not safe for concurrent use.
type Decoder struct {
	dec *opus.Decoder
}

func NewDecoder() (*Decoder, error) {
	d := &Decoder{}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset discards decoder state, used when a new sender takes the channel.
func (d *Decoder) Reset() error {
	dec, err := opus.NewDecoder(protocol.SampleRate, protocol.Channels)
	if err != nil {
		return fmt.Errorf("opus decoder init: %w", err)
	}
	d.dec = dec
	return nil
}

// Decode writes the PCM of one packet into out and returns the sample count.
func (d *Decoder) Decode(data []byte, out []int16) (int, error) {
	n, err := d.dec.Decode(data, out)
	if err != nil {
		return 0, fmt.Errorf("opus decode: %w", err)
	}
	return n, nil
}

// DecodePLC synthesizes one missing frame from decoder state.
func (d *Decoder) DecodePLC(out []int16) (int, error) {
	frame := out[:protocol.FrameSize]
	if err := d.dec.DecodePLC(frame); err != nil {
		return 0, fmt.Errorf("opus plc: %w", err)
	}
	return len(frame), nil
}

// DecodeFEC reconstructs the frame before next from the redundancy carried
// in next.
func (d *Decoder) DecodeFEC(next []byte, out []int16) (int, error) {
	frame := out[:protocol.FrameSize]
	if err := d.dec.DecodeFEC(next, frame); err != nil {
		return 0, fmt.Errorf("opus fec: %w", err)
	}
	return len(frame), nil
}
