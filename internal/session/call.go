package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pccr10001/intercom/internal/bus"
	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/protocol"
)

// chimeWindow bounds how long a call keeps the forced volume when no chime
// stream arrives.
const chimeWindow = 3 * time.Second

// CallMessage is the payload of intercom/call.
type CallMessage struct {
	Target   string             `json:"target"`
	Caller   string             `json:"caller"`
	CallerID string             `json:"caller_id,omitempty"`
	Chime    string             `json:"chime,omitempty"`
	Priority *protocol.Priority `json:"priority,omitempty"`
}

// SendCall rings target, which is a room name or All Rooms. Broadcasting
// with nobody online is refused.
func (c *Coordinator) SendCall(target string, prio protocol.Priority) error {
	target = strings.TrimSpace(target)
	if target == "" {
		target = protocol.AllRooms
	}
	if strings.EqualFold(target, protocol.AllRooms) && c.d.Peers != nil && c.d.Peers.OnlineCount() == 0 {
		c.toast("No devices online")
		c.d.Metrics.Call(model.CallSent, "refused")
		return ErrNoPeers
	}

	now := c.d.Clock.Now()
	c.lastCallSent.Store(now.UnixNano())

	msg := CallMessage{
		Target:   target,
		Caller:   c.cfg.Room,
		CallerID: c.cfg.DeviceID.String(),
	}
	if prio != protocol.PriorityNormal {
		msg.Priority = &prio
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.log.Infof("Calling %s", target)
	c.publish(bus.TopicCall, string(payload), false)
	c.d.Metrics.Call(model.CallSent, "published")
	c.events.emit(Event{Type: EventCall, Value: "outgoing", Target: target, At: now})
	c.record(&model.CallRecord{
		Direction: model.CallSent,
		Caller:    c.cfg.Room,
		Target:    target,
		Priority:  uint8(prio),
		Accepted:  true,
		CreatedAt: now,
	})
	return nil
}

// HandleCall processes an incoming call notification.
func (c *Coordinator) HandleCall(payload []byte) {
	var msg CallMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Debugf("Ignoring malformed call: %v", err)
		return
	}
	if !strings.EqualFold(msg.Target, c.cfg.Room) && !strings.EqualFold(msg.Target, protocol.AllRooms) {
		return
	}
	prio := protocol.PriorityNormal
	if msg.Priority != nil {
		prio = protocol.ClampPriority(uint8(*msg.Priority))
	}
	now := c.d.Clock.Now()
	rec := &model.CallRecord{
		Direction: model.CallReceived,
		Caller:    msg.Caller,
		Target:    msg.Target,
		Chime:     msg.Chime,
		Priority:  uint8(prio),
		CreatedAt: now,
	}

	if c.isSelfCall(msg) && c.inLockout(now) {
		c.log.Debug("Ignoring echo of our own call")
		return
	}
	if c.transmitting.Load() {
		c.log.Infof("Call from %s ignored while transmitting", msg.Caller)
		rec.Reason = "transmitting"
		c.d.Metrics.Call(model.CallReceived, "ignored")
		c.record(rec)
		return
	}
	if c.d.Settings.Get().DND && prio < protocol.PriorityEmergency {
		c.log.Infof("Call from %s blocked by DND", msg.Caller)
		rec.Reason = "dnd"
		c.d.Metrics.Call(model.CallReceived, "dnd")
		c.record(rec)
		return
	}

	c.log.Infof("Incoming call from %s to %s", msg.Caller, msg.Target)
	if msg.Chime != "" {
		chime := msg.Chime
		c.lastChime.Store(&chime)
	}
	rec.Accepted = true
	c.d.Metrics.Call(model.CallReceived, "accepted")
	c.record(rec)
	c.events.emit(Event{Type: EventCall, Value: "incoming", Target: msg.Caller, At: now})

	c.acceptCall(now)

	if c.cfg.FallbackBeep {
		go func() {
			if err := c.Beep(); err != nil {
				c.log.Warnf("fallback beep: %v", err)
			}
		}()
	}
}

// acceptCall clears the channel for the chime stream and forces the sink to
// full volume.
func (c *Coordinator) acceptCall(now time.Time) {
	if c.d.Sink == nil {
		return
	}
	c.chMu.Lock()
	defer c.chMu.Unlock()

	if c.playing.Load() {
		c.d.Sink.Stop()
		c.playing.Store(false)
	}
	c.d.Queue.Flush()
	c.hasSender = false
	c.rxPriority = protocol.PriorityNormal
	c.seqInit = false

	c.d.Sink.ForceMaxVolumeUnmute()
	c.chimeUntil = now.Add(chimeWindow)
	c.setLED(LEDReceiving)
	if c.State() == StateReceiving {
		c.setState(StateIdle)
	}
}

func (c *Coordinator) isSelfCall(msg CallMessage) bool {
	if msg.CallerID != "" {
		return msg.CallerID == c.cfg.DeviceID.String()
	}
	return strings.EqualFold(msg.Caller, c.cfg.Room)
}

func (c *Coordinator) record(rec *model.CallRecord) {
	if c.d.Calls != nil {
		c.d.Calls.RecordCall(rec)
	}
}
