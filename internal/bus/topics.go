package bus

import (
	"strings"

	"github.com/pccr10001/intercom/internal/protocol"
)

const (
	TopicCall        = "intercom/call"
	TopicDeviceInfos = "intercom/devices/+/info"
	TopicStatusAll   = "intercom/+/status"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Setting names carried under intercom/{id}/{name} and intercom/{id}/{name}/set.
const (
	SettingVolume   = "volume"
	SettingMute     = "mute"
	SettingLED      = "led"
	SettingTarget   = "target"
	SettingAGC      = "agc"
	SettingPriority = "priority"
	SettingDND      = "dnd"
)

var SettingNames = []string{
	SettingVolume, SettingMute, SettingLED, SettingTarget,
	SettingAGC, SettingPriority, SettingDND,
}

// Topics are the per-device topics of one endpoint.
type Topics struct {
	id string
}

func NewTopics(id protocol.DeviceID) Topics {
	return Topics{id: id.String()}
}

func (t Topics) base() string     { return "intercom/" + t.id }
func (t Topics) Status() string   { return t.base() + "/status" }
func (t Topics) State() string    { return t.base() + "/state" }
func (t Topics) Toast() string    { return t.base() + "/toast" }
func (t Topics) LEDState() string { return t.base() + "/led_state" }
func (t Topics) Info() string     { return "intercom/devices/" + t.id + "/info" }
func (t Topics) Setting(name string) string {
	return t.base() + "/" + name
}
func (t Topics) SettingSet(name string) string {
	return t.base() + "/" + name + "/set"
}

// SettingCommands is the wildcard that matches every /set topic of this device.
func (t Topics) SettingCommands() string {
	return t.base() + "/+/set"
}

// DeviceFromTopic extracts the {id} segment of intercom/{id}/... and
// intercom/devices/{id}/... topics.
func DeviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "intercom" {
		return "", false
	}
	if parts[1] == "devices" {
		if len(parts) < 4 {
			return "", false
		}
		return parts[2], true
	}
	return parts[1], true
}

// Match reports whether topic matches an MQTT-style filter with + and #.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
