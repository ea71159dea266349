// Package codec wraps libopus for the 16 kHz mono voice pipeline.
package codec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"gopkg.in/hraban/opus.v2"

	"github.com/pccr10001/intercom/internal/protocol"
)

// LockTimeout bounds how long a caller waits for the encoder before the
// frame is dropped.
const LockTimeout = 50 * time.Millisecond

var ErrEncoderBusy = errors.New("encoder busy")

type EncoderConfig struct {
	Bitrate        int
	Complexity     int
	PacketLossPerc int
}

func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Bitrate:        protocol.DefaultBitrate,
		Complexity:     5,
		PacketLossPerc: 10,
	}
}

// Encoder is an Opus VoIP encoder shared by the TX task and diagnostic tone
// generators. Calls are serialized; a caller that cannot get the encoder
// within LockTimeout gets ErrEncoderBusy.
type Encoder struct {
	cfg EncoderConfig
	sem *semaphore.Weighted
	enc *opus.Encoder
}

func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	e := &Encoder{cfg: cfg, sem: semaphore.NewWeighted(1)}
	if err := e.init(); err != nil {
		return nil, err
	}
	return e, nil
}

// init builds a fresh libopus encoder; replacing the instance is how state
// is discarded.
func (e *Encoder) init() error {
	enc, err := opus.NewEncoder(protocol.SampleRate, protocol.Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("opus encoder init: %w", err)
	}
	e.enc = enc
	if err := e.enc.SetBitrate(e.cfg.Bitrate); err != nil {
		return fmt.Errorf("opus set bitrate %d: %w", e.cfg.Bitrate, err)
	}
	if err := e.enc.SetComplexity(e.cfg.Complexity); err != nil {
		return fmt.Errorf("opus set complexity %d: %w", e.cfg.Complexity, err)
	}
	if err := e.enc.SetInBandFEC(true); err != nil {
		return fmt.Errorf("opus enable fec: %w", err)
	}
	if err := e.enc.SetPacketLossPerc(e.cfg.PacketLossPerc); err != nil {
		return fmt.Errorf("opus set packet loss: %w", err)
	}
	return nil
}

func (e *Encoder) acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return ErrEncoderBusy
	}
	return nil
}

// Encode compresses one 320-sample frame into out and returns the length.
func (e *Encoder) Encode(ctx context.Context, pcm []int16, out []byte) (int, error) {
	if len(pcm) != protocol.FrameSize {
		return 0, fmt.Errorf("encode: frame has %d samples, want %d", len(pcm), protocol.FrameSize)
	}
	if err := e.acquire(ctx); err != nil {
		return 0, err
	}
	defer e.sem.Release(1)

	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return 0, fmt.Errorf("opus encode: %w", err)
	}
	return n, nil
}

// Reset drops all prediction history so a new TX session starts clean.
func (e *Encoder) Reset(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.sem.Release(1)
	return e.init()
}
