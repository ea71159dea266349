package session

import (
	"context"
	"errors"
	"time"

	"github.com/pccr10001/intercom/internal/codec"
	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/internal/settings"
)

const (
	micReadTimeout = 50 * time.Millisecond
	idlePoll       = 10 * time.Millisecond
	shortReadSleep = 5 * time.Millisecond
	frameYield     = time.Millisecond
)

func (c *Coordinator) runTX(ctx context.Context) {
	wasTx := false
	for ctx.Err() == nil {
		wasTx = c.txIteration(ctx, wasTx)
	}
}

// txIteration runs one pass of the TX task and returns whether it was
// transmitting.
func (c *Coordinator) txIteration(ctx context.Context, wasTx bool) bool {
	tx := c.transmitting.Load()
	switch {
	case tx && !wasTx:
		c.beginTX(ctx)
	case !tx && wasTx:
		c.sendSilence(ctx, c.cfg.TrailOut)
		c.log.Infof("TX ended at seq=%d", c.seq.Load())
	}
	if !tx {
		c.d.Clock.Sleep(idlePoll)
		return false
	}
	c.txFrame(ctx)
	return true
}

// beginTX resets the capture chain and primes receivers with lead-in
// silence.
func (c *Coordinator) beginTX(ctx context.Context) {
	if c.d.AGC != nil {
		c.d.AGC.Reset()
	}
	if c.d.AEC != nil {
		c.d.AEC.Reset()
	}
	if err := c.d.Encoder.Reset(ctx); err != nil {
		c.log.Warnf("encoder reset: %v", err)
	}
	c.encodeSilence(ctx)
	c.log.Infof("TX started at seq=%d, priority=%s", c.seq.Load(), c.d.Settings.Get().Priority)
	c.sendSilence(ctx, c.cfg.LeadIn)
}

// encodeSilence re-encodes the shared silence frame from the current
// encoder state.
func (c *Coordinator) encodeSilence(ctx context.Context) {
	zero := make([]int16, protocol.FrameSize)
	n, err := c.d.Encoder.Encode(ctx, zero, c.opusBuf)
	if err != nil || n <= 0 {
		c.log.Warnf("encode silence frame: %v", err)
		return
	}
	c.silence = append(c.silence[:0], c.opusBuf[:n]...)
}

func (c *Coordinator) sendSilence(ctx context.Context, frames int) {
	if len(c.silence) == 0 {
		return
	}
	for i := 0; i < frames && ctx.Err() == nil; i++ {
		c.sendPayload(c.silence, c.d.Settings.Get())
		c.d.Clock.Sleep(protocol.FrameDuration)
	}
}

func (c *Coordinator) txFrame(ctx context.Context) {
	s := c.d.Settings.Get()

	n, err := c.d.Mic.Read(c.pcm, micReadTimeout)
	if err != nil || n < protocol.FrameSize {
		c.d.Clock.Sleep(shortReadSleep)
		return
	}

	if s.AGC && c.d.AGC != nil {
		c.d.AGC.Process(c.pcm)
	}

	// A frame is either fully cleaned or fully raw.
	frame := c.pcm
	if c.d.AEC != nil && c.d.AEC.Ready() {
		if c.d.AEC.PushMic(c.pcm) >= protocol.FrameSize {
			c.d.AEC.PopCleaned(c.cleaned)
			frame = c.cleaned
		}
	}

	n, err = c.d.Encoder.Encode(ctx, frame, c.opusBuf)
	if err != nil || n <= 0 {
		if total, ok := c.encFail.Hit(); ok {
			if errors.Is(err, codec.ErrEncoderBusy) {
				c.log.Warnf("Encoder busy, frame dropped (total %d)", total)
			} else {
				c.log.Warnf("Encode failed: %v (total %d)", err, total)
			}
		}
		return
	}

	c.sendPayload(c.opusBuf[:n], s)
	c.d.Clock.Sleep(frameYield)
}

// sendPayload wraps payload with the header and sends it to the current
// target. The sequence advances whether or not the send succeeds.
func (c *Coordinator) sendPayload(payload []byte, s settings.Snapshot) {
	seq := c.seq.Add(1) - 1
	pkt := protocol.Packet{
		DeviceID: c.cfg.DeviceID,
		Sequence: seq,
		Priority: s.Priority,
		Payload:  payload,
	}
	n, err := pkt.MarshalTo(c.txBuf)
	if err != nil {
		c.log.Errorf("marshal seq=%d: %v", seq, err)
		return
	}

	dest := "multicast"
	if !s.Broadcast() && c.d.Peers != nil {
		if ip, ok := c.d.Peers.ResolveTarget(s.Target); ok {
			dest = ip
		}
	}
	if dest == "multicast" {
		err = c.d.Net.SendMulticast(c.txBuf[:n])
	} else {
		err = c.d.Net.SendUnicast(c.txBuf[:n], dest)
	}
	if err != nil {
		c.d.Metrics.TxFailure()
		if total, ok := c.sendFail.Hit(); ok {
			c.log.Warnf("[TX] send_failed: seq=%d dest=%s err=%v (total %d)", seq, dest, err, total)
		}
		return
	}
	c.d.Metrics.TxFrame(pkt.IsSilence())
	if _, ok := c.txLog.Hit(); ok {
		c.log.Debugf("[TX] seq=%d len=%d prio=%s dest=%s", seq, len(payload), s.Priority, dest)
	}
}
