package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pccr10001/intercom/internal/bus"
	"github.com/pccr10001/intercom/internal/directory"
	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/internal/settings"
)

// Attach wires the coordinator to the control plane: incoming calls,
// setting commands, and setting echoes. Call it once, before Run.
func (c *Coordinator) Attach(b bus.Bus) {
	c.d.Bus = b
	b.Subscribe(bus.TopicCall, func(m bus.Message) {
		c.HandleCall([]byte(m.Payload))
	})
	b.Subscribe(c.topics.SettingCommands(), func(m bus.Message) {
		name := strings.TrimSuffix(strings.TrimPrefix(m.Topic, c.topics.Setting("")), "/set")
		if err := c.ApplySetting(name, m.Payload); err != nil {
			c.log.Warnf("Setting command %s=%q: %v", name, m.Payload, err)
		}
	})
	c.d.Settings.Subscribe(c.onSettingsChanged)
}

// Will is the message the hub publishes if this endpoint vanishes.
func (c *Coordinator) Will() *bus.Message {
	return &bus.Message{Topic: c.topics.Status(), Payload: bus.StatusOffline, Retain: true}
}

// Announce publishes presence, device info, every setting and the current
// state. It runs on every (re)connect and on each heartbeat.
func (c *Coordinator) Announce() {
	c.publish(c.topics.Status(), bus.StatusOnline, true)
	c.publishInfo()
	s := c.d.Settings.Get()
	for _, name := range bus.SettingNames {
		c.publish(c.topics.Setting(name), settingValue(s, name), true)
	}
	c.stateMu.Lock()
	state, target, led := c.state, c.target, c.led
	c.stateMu.Unlock()
	c.publishState(state, target)
	c.publish(c.topics.LEDState(), string(led), true)
}

func (c *Coordinator) publishInfo() {
	info := directory.Info{
		Room:     c.cfg.Room,
		IP:       c.cfg.IP,
		ID:       c.cfg.DeviceID.String(),
		IsMobile: c.cfg.IsMobile,
		Version:  c.cfg.Version,
	}
	b, err := json.Marshal(info)
	if err != nil {
		return
	}
	c.publish(c.topics.Info(), string(b), true)
}

type statePayload struct {
	State  State  `json:"state"`
	Target string `json:"target,omitempty"`
}

func (c *Coordinator) publishState(s State, target string) {
	b, err := json.Marshal(statePayload{State: s, Target: target})
	if err != nil {
		return
	}
	c.publish(c.topics.State(), string(b), true)
}

func (c *Coordinator) runHeartbeat(ctx context.Context) {
	t := time.NewTicker(c.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.publish(c.topics.Status(), bus.StatusOnline, true)
			c.publishInfo()
		}
	}
}

func (c *Coordinator) onSettingsChanged(old, s settings.Snapshot) {
	c.applySinkSettings(s)
	for _, name := range bus.SettingNames {
		if v := settingValue(s, name); v != settingValue(old, name) {
			c.publish(c.topics.Setting(name), v, true)
		}
	}
	if old.DND != s.DND || old.Muted != s.Muted || old.LED != s.LED {
		if c.State() == StateIdle && !c.playing.Load() {
			c.setLED(c.idleLED())
		}
	}
}

// ApplySetting applies one control-plane setting command.
func (c *Coordinator) ApplySetting(name, value string) error {
	value = strings.TrimSpace(value)
	var apply func(*settings.Snapshot)
	switch name {
	case bus.SettingVolume:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("volume: %w", err)
		}
		apply = func(s *settings.Snapshot) { s.Volume = v }
	case bus.SettingPriority:
		p, err := ParsePriority(value)
		if err != nil {
			return err
		}
		apply = func(s *settings.Snapshot) { s.Priority = p }
	case bus.SettingTarget:
		apply = func(s *settings.Snapshot) { s.Target = value }
	case bus.SettingMute, bus.SettingAGC, bus.SettingDND, bus.SettingLED:
		on, err := parseSwitch(value)
		if err != nil {
			return err
		}
		apply = func(s *settings.Snapshot) {
			switch name {
			case bus.SettingMute:
				s.Muted = on
			case bus.SettingAGC:
				s.AGC = on
			case bus.SettingDND:
				s.DND = on
			case bus.SettingLED:
				s.LED = on
			}
		}
	default:
		return fmt.Errorf("unknown setting %q", name)
	}
	c.d.Settings.Update(apply)
	return nil
}

func settingValue(s settings.Snapshot, name string) string {
	switch name {
	case bus.SettingVolume:
		return strconv.Itoa(s.Volume)
	case bus.SettingMute:
		return switchValue(s.Muted)
	case bus.SettingLED:
		return switchValue(s.LED)
	case bus.SettingTarget:
		return s.Target
	case bus.SettingAGC:
		return switchValue(s.AGC)
	case bus.SettingPriority:
		return priorityLabel(s.Priority)
	case bus.SettingDND:
		return switchValue(s.DND)
	}
	return ""
}

func switchValue(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q", v)
}

func priorityLabel(p protocol.Priority) string {
	switch p {
	case protocol.PriorityHigh:
		return "High"
	case protocol.PriorityEmergency:
		return "Emergency"
	}
	return "Normal"
}

// ParsePriority accepts a level name or its wire number.
func ParsePriority(v string) (protocol.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "normal", "0":
		return protocol.PriorityNormal, nil
	case "high", "1":
		return protocol.PriorityHigh, nil
	case "emergency", "2":
		return protocol.PriorityEmergency, nil
	}
	return protocol.PriorityNormal, fmt.Errorf("invalid priority %q", v)
}
