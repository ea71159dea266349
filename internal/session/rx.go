package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pccr10001/intercom/internal/protocol"
)

const (
	playReceiveTimeout = 50 * time.Millisecond
	sinkWriteTimeout   = 20 * time.Millisecond
	idleCheckInterval  = 100 * time.Millisecond
	maxConcealFrames   = 4
)

// FilterRx is the network RX callback. It only rejects and enqueues; it
// never decodes or touches the sink.
func (c *Coordinator) FilterRx(data []byte) {
	id, prio, ok := protocol.PeekHeader(data)
	if !ok {
		return
	}
	if id == c.cfg.DeviceID {
		c.d.Metrics.RxFiltered("self")
		return
	}
	if c.transmitting.Load() {
		c.d.Metrics.RxFiltered("transmitting")
		return
	}
	if c.d.Settings.Get().DND && prio < protocol.PriorityEmergency {
		c.d.Metrics.RxFiltered("dnd")
		return
	}
	if err := c.d.Queue.TrySend(data); err != nil {
		c.d.Metrics.RxDrop()
		return
	}
	c.d.Metrics.RxAccepted()
}

func (c *Coordinator) runPlay(ctx context.Context) {
	for ctx.Err() == nil {
		b, ok := c.d.Queue.Receive(ctx, playReceiveTimeout)
		if !ok {
			continue
		}
		c.d.Metrics.SetQueueDepth(c.d.Queue.Len())
		if p, err := protocol.Parse(b); err == nil {
			c.handlePacket(p)
		}
		c.d.Queue.Release(b)
	}
}

// handlePacket applies the channel policy to one received packet and plays
// it when accepted.
func (c *Coordinator) handlePacket(p *protocol.Packet) {
	if c.d.Sink == nil || c.d.Decoder == nil {
		return
	}
	if c.transmitting.Load() {
		return
	}
	if len(p.Payload) == 0 {
		return
	}
	prio := protocol.ClampPriority(uint8(p.Priority))
	if c.d.Settings.Get().DND && prio < protocol.PriorityEmergency {
		return
	}
	silence := p.IsSilence()

	c.chMu.Lock()
	defer c.chMu.Unlock()
	// PressPTT sets transmitting under chMu; a press that won the lock first
	// owns the channel.
	if c.transmitting.Load() {
		c.d.Metrics.RxFiltered("transmitting")
		return
	}
	now := c.d.Clock.Now()

	if c.hasSender && c.sender != p.DeviceID && now.Sub(c.lastRx) > c.cfg.IdleTimeout {
		// The previous sender went quiet without the idle monitor noticing yet.
		c.releaseChannelLocked()
	}

	switch {
	case !c.hasSender:
		if silence {
			return
		}
		c.acquireLocked(p.DeviceID, prio)
	case c.sender != p.DeviceID:
		if silence || prio <= c.rxPriority {
			return
		}
		c.log.Warnw("Preempted by higher priority sender", zap.String("sender", p.DeviceID.Short()),
			zap.Stringer("priority", prio), zap.Stringer("active", c.rxPriority))
		c.d.Metrics.Preemption()
		c.releaseChannelLocked()
		c.d.Queue.Flush()
		c.acquireLocked(p.DeviceID, prio)
	}

	if prio == protocol.PriorityEmergency && !c.playing.Load() {
		c.d.Sink.ForceMaxVolumeUnmute()
		c.setLED(LEDEmergency)
	}

	gap := 0
	if c.seqInit {
		delta := int32(p.Sequence - c.lastSeq)
		if delta <= 0 {
			return
		}
		gap = int(delta) - 1
	}

	c.lastRx = now

	if !c.playing.Load() {
		if silence {
			c.lastSeq, c.seqInit = p.Sequence, true
			return
		}
		if err := c.d.Sink.Start(); err != nil {
			c.log.Errorf("Failed to start speaker: %v", err)
			c.setLED(LEDError)
			return
		}
		c.playing.Store(true)
		c.setState(StateReceiving)
		if prio != protocol.PriorityEmergency {
			c.setLED(LEDReceiving)
		}
		c.log.Infof("Receiving from %s (priority %s, seq=%d)", p.DeviceID.Short(), prio, p.Sequence)
	}

	if gap > 0 {
		if total, ok := c.gapLog.Hit(); ok {
			c.log.Debugw("[RX] sequence gap", zap.String("from", p.DeviceID.Short()),
				zap.Uint32("seq", p.Sequence), zap.Int("missing", gap), zap.Uint64("total", total))
		}
	}

	switch {
	case gap == 1:
		if n, err := c.d.Decoder.DecodeFEC(p.Payload, c.rxPCM); err == nil && n > 0 {
			c.d.Metrics.Decode("fec")
			c.writeLocked(c.rxPCM[:n])
		}
	case gap > 1 && gap <= maxConcealFrames:
		for i := 0; i < gap; i++ {
			if n, err := c.d.Decoder.DecodePLC(c.rxPCM); err == nil && n > 0 {
				c.d.Metrics.Decode("plc")
				c.writeLocked(c.rxPCM[:n])
			}
		}
	}

	n, err := c.d.Decoder.Decode(p.Payload, c.rxPCM)
	c.lastSeq, c.seqInit = p.Sequence, true
	if err != nil || n <= 0 {
		c.log.Debugf("decode seq=%d: %v", p.Sequence, err)
		return
	}
	c.d.Metrics.Decode("normal")
	c.writeLocked(c.rxPCM[:n])
	if total, ok := c.rxLog.Hit(); ok {
		c.log.Debugw("[RX] frame", zap.String("from", p.DeviceID.Short()), zap.Uint32("seq", p.Sequence),
			zap.Stringer("priority", prio), zap.Int("len", len(p.Payload)), zap.Uint64("total", total))
	}
}

// acquireLocked adopts sender as ActiveSender with fresh decoder state.
func (c *Coordinator) acquireLocked(sender protocol.DeviceID, prio protocol.Priority) {
	c.log.Debugw("Channel acquired", zap.String("sender", sender.Short()), zap.Stringer("priority", prio))
	c.sender, c.rxPriority, c.hasSender = sender, prio, true
	c.seqInit = false
	if err := c.d.Decoder.Reset(); err != nil {
		c.log.Warnf("decoder reset: %v", err)
	}
}

// writeLocked plays one decoded frame. A zero-length write while playing is
// retried once after restarting the sink; a second failure gives the
// channel up.
func (c *Coordinator) writeLocked(pcm []int16) {
	if !c.playing.Load() || c.transmitting.Load() {
		return
	}
	if c.d.Sink.Write(pcm, sinkWriteTimeout) > 0 {
		return
	}
	c.log.Warn("Speaker write returned 0, restarting output")
	c.d.Metrics.SinkRestart()
	c.d.Sink.Stop()
	if err := c.d.Sink.Start(); err == nil && c.d.Sink.Write(pcm, sinkWriteTimeout) > 0 {
		return
	}
	c.log.Error("Speaker restart failed, releasing channel")
	c.releaseChannelLocked()
	c.setLED(c.idleLED())
	c.setState(StateIdle)
}

// releaseChannelLocked stops playback, clears ActiveSender and ends any
// override.
func (c *Coordinator) releaseChannelLocked() {
	if c.hasSender {
		c.log.Debugw("Channel released", zap.String("sender", c.sender.Short()),
			zap.Stringer("priority", c.rxPriority), zap.Bool("playing", c.playing.Load()))
	}
	if c.playing.Load() {
		c.d.Sink.Stop()
		c.playing.Store(false)
	}
	c.hasSender = false
	c.rxPriority = protocol.PriorityNormal
	c.seqInit = false
	c.chimeUntil = time.Time{}
	c.restoreOverride()
}

func (c *Coordinator) runIdleMonitor(ctx context.Context) {
	t := time.NewTicker(idleCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.checkIdle()
		}
	}
}

// checkIdle releases a channel that has not received a frame within the idle
// timeout, and ends a call override once its chime window has passed.
func (c *Coordinator) checkIdle() {
	if c.d.Sink == nil || c.transmitting.Load() {
		return
	}
	c.chMu.Lock()
	defer c.chMu.Unlock()
	now := c.d.Clock.Now()

	if c.hasSender && now.Sub(c.lastRx) > c.cfg.IdleTimeout {
		wasPlaying := c.playing.Load()
		c.log.Infof("RX idle for %s, releasing channel from %s", now.Sub(c.lastRx).Round(time.Millisecond), c.sender.Short())
		c.releaseChannelLocked()
		if wasPlaying {
			c.setLED(c.idleLED())
			c.setState(StateIdle)
		}
		return
	}

	if !c.playing.Load() && !c.chimeUntil.IsZero() && now.After(c.chimeUntil) {
		c.chimeUntil = time.Time{}
		c.restoreOverride()
		c.setLED(c.idleLED())
	}
}
