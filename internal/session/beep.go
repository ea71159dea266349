package session

import (
	"math"
	"time"

	"github.com/pccr10001/intercom/internal/protocol"
)

const (
	beepFreq      = 800
	beepAmplitude = 16384
	beepFrames    = 10
	beepTimeout   = 50 * time.Millisecond
)

// beepFrame is one 20 ms frame of the tone. The period divides the frame
// length, so consecutive frames join without a click.
var beepFrame = func() []int16 {
	f := make([]int16, protocol.FrameSize)
	for i := range f {
		f[i] = int16(beepAmplitude * math.Sin(2*math.Pi*beepFreq*float64(i)/protocol.SampleRate))
	}
	return f
}()

// Beep plays a 200 ms 800 Hz tone through the sink. It takes the channel
// from any active sender and does nothing while transmitting.
func (c *Coordinator) Beep() error {
	if c.d.Sink == nil {
		return ErrNotReady
	}
	if c.transmitting.Load() {
		c.log.Info("Beep skipped while transmitting")
		return nil
	}

	c.chMu.Lock()
	defer c.chMu.Unlock()

	c.d.Queue.Flush()
	if c.hasSender {
		c.log.Infof("Beep takes the channel from %s", c.sender.Short())
		c.releaseChannelLocked()
	}

	if err := c.d.Sink.Start(); err != nil {
		c.setLED(LEDError)
		return err
	}
	c.setLED(LEDReceiving)
	written := 0
	for i := 0; i < beepFrames; i++ {
		written += c.d.Sink.Write(beepFrame, beepTimeout)
	}
	c.d.Sink.Stop()
	if c.d.AEC != nil {
		c.d.AEC.FlushReference()
	}
	c.setLED(c.idleLED())
	if c.State() == StateReceiving {
		c.setState(StateIdle)
	}
	c.log.Infof("Beep played (%d samples)", written)
	return nil
}
