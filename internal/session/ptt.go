package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/pccr10001/intercom/internal/protocol"
)

// PressPTT starts transmitting. A press while another sender holds the
// channel succeeds only with a strictly higher own priority; a press inside
// the post-call lockout is refused.
func (c *Coordinator) PressPTT() error {
	if !c.ready.Load() {
		return ErrNotReady
	}
	if c.transmitting.Load() {
		return nil
	}
	own := c.d.Settings.Get().Priority

	c.chMu.Lock()
	now := c.d.Clock.Now()
	if c.channelBusyLocked(now) {
		if own <= c.rxPriority {
			rx := c.rxPriority
			c.chMu.Unlock()
			c.log.Warnf("PTT refused: channel busy (own %s <= active %s)", own, rx)
			c.d.Metrics.Refusal("busy")
			c.toast("Channel Busy")
			c.setLED(LEDBusy)
			return ErrChannelBusy
		}
		c.log.Warnw("PTT preempts active sender", zap.String("sender", c.sender.Short()),
			zap.Stringer("own", own), zap.Stringer("active", c.rxPriority))
		c.releaseChannelLocked()
		c.d.Queue.Flush()
	} else {
		if c.inLockout(now) {
			c.chMu.Unlock()
			c.log.Warn("PTT refused: call lockout active")
			c.d.Metrics.Refusal("lockout")
			c.toast("Call in progress, wait")
			return ErrCallLockout
		}
		// A stale sender or a chime may still hold the sink.
		c.releaseChannelLocked()
		c.d.Queue.Flush()
	}
	c.transmitting.Store(true)
	c.chMu.Unlock()

	c.log.Infow("PTT pressed", zap.Stringer("priority", own), zap.String("target", c.d.Settings.Get().Target))
	c.setState(StateTransmitting)
	c.setLED(LEDTransmitting)
	return nil
}

// ReleasePTT stops transmitting; the TX task sends the trail-out. Releasing
// a refused press clears the busy indication.
func (c *Coordinator) ReleasePTT() {
	c.sustained.Store(false)
	if !c.transmitting.Swap(false) {
		if c.CurrentLED() == LEDBusy {
			c.chMu.Lock()
			c.setLED(c.channelLEDLocked())
			c.chMu.Unlock()
		}
		return
	}
	c.setState(StateIdle)
	c.setLED(c.idleLED())
}

// channelBusyLocked reports whether another sender owns the channel. A
// sender silent for longer than the idle timeout no longer counts and is
// released here.
func (c *Coordinator) channelBusyLocked(now time.Time) bool {
	if !c.hasSender {
		return false
	}
	if now.Sub(c.lastRx) > c.cfg.IdleTimeout {
		c.releaseChannelLocked()
		if c.State() == StateReceiving {
			c.setState(StateIdle)
		}
		return false
	}
	return true
}

// channelLEDLocked is the LED for the current receive state.
func (c *Coordinator) channelLEDLocked() LED {
	switch {
	case !c.playing.Load():
		return c.idleLED()
	case c.rxPriority == protocol.PriorityEmergency:
		return LEDEmergency
	default:
		return LEDReceiving
	}
}

func (c *Coordinator) inLockout(now time.Time) bool {
	sent := c.lastCallSent.Load()
	if sent == 0 {
		return false
	}
	return now.Sub(time.Unix(0, sent)) < c.cfg.CallLockout
}

// StartSustained transmits for frames*20ms as if PTT were held. Short runs
// block until done and report sync=true; longer runs return immediately and
// stop from a timer. A PTT release in the meantime wins.
func (c *Coordinator) StartSustained(frames int) (sync bool, err error) {
	if frames < 1 || frames > protocol.MaxSustainFrames {
		return false, ErrInvalidDuration
	}
	if c.transmitting.Load() {
		return false, ErrAlreadyTransmits
	}
	if err := c.PressPTT(); err != nil {
		return false, err
	}
	c.sustained.Store(true)
	d := time.Duration(frames) * protocol.FrameDuration
	c.log.Infof("Sustained TX for %d frames (%s)", frames, d)

	if frames <= protocol.SyncSustainLimit {
		c.d.Clock.Sleep(d)
		c.stopSustained()
		return true, nil
	}
	c.d.Clock.AfterFunc(d, c.stopSustained)
	return false, nil
}

func (c *Coordinator) stopSustained() {
	if c.sustained.CompareAndSwap(true, false) {
		c.ReleasePTT()
	}
}
