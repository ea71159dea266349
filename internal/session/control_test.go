package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/intercom/internal/bus"
	"github.com/pccr10001/intercom/internal/directory"
	"github.com/pccr10001/intercom/internal/protocol"
)

func TestSettingCommandAppliesAndEchoes(t *testing.T) {
	h := newHarness(t, defaultSettings())
	topics := bus.NewTopics(localID)

	require.NoError(t, h.bus.Publish(topics.SettingSet(bus.SettingVolume), "35", false))
	assert.Equal(t, 35, h.store.Get().Volume)
	assert.Equal(t, 35, h.sink.Volume())
	v, ok := h.bus.Retained(topics.Setting(bus.SettingVolume))
	assert.True(t, ok)
	assert.Equal(t, "35", v)

	require.NoError(t, h.bus.Publish(topics.SettingSet(bus.SettingVolume), "250", false))
	assert.Equal(t, 100, h.store.Get().Volume, "volume is clamped")
}

func TestMuteAndDNDDriveIdleLED(t *testing.T) {
	h := newHarness(t, defaultSettings())
	topics := bus.NewTopics(localID)

	require.NoError(t, h.c.ApplySetting(bus.SettingMute, "ON"))
	assert.True(t, h.sink.Muted())
	assert.Equal(t, LEDMuted, h.c.CurrentLED())
	led, _ := h.bus.Retained(topics.LEDState())
	assert.Equal(t, string(LEDMuted), led)

	require.NoError(t, h.c.ApplySetting(bus.SettingDND, "on"))
	assert.Equal(t, LEDDND, h.c.CurrentLED())

	require.NoError(t, h.c.ApplySetting(bus.SettingDND, "OFF"))
	require.NoError(t, h.c.ApplySetting(bus.SettingMute, "OFF"))
	assert.Equal(t, LEDIdle, h.c.CurrentLED())

	require.NoError(t, h.c.ApplySetting(bus.SettingLED, "OFF"))
	assert.Equal(t, LEDOff, h.c.CurrentLED())
}

func TestSettingChangeDuringOverrideIsDeferred(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.c.HandleCall([]byte(`{"target":"Office","caller":"Kitchen"}`))
	require.True(t, h.sink.OverrideActive())

	require.NoError(t, h.c.ApplySetting(bus.SettingVolume, "20"))
	assert.Equal(t, 100, h.sink.Volume())

	h.clock.Advance(chimeWindow + 1)
	h.c.checkIdle()
	assert.Equal(t, 20, h.sink.Volume())
}

func TestApplySettingValidation(t *testing.T) {
	h := newHarness(t, defaultSettings())

	assert.Error(t, h.c.ApplySetting(bus.SettingVolume, "loud"))
	assert.Error(t, h.c.ApplySetting(bus.SettingMute, "maybe"))
	assert.Error(t, h.c.ApplySetting(bus.SettingPriority, "urgent"))
	assert.Error(t, h.c.ApplySetting("brightness", "1"))

	require.NoError(t, h.c.ApplySetting(bus.SettingPriority, "Emergency"))
	assert.Equal(t, protocol.PriorityEmergency, h.store.Get().Priority)
	v, _ := h.bus.Retained(bus.NewTopics(localID).Setting(bus.SettingPriority))
	assert.Equal(t, "Emergency", v)

	require.NoError(t, h.c.ApplySetting(bus.SettingTarget, "  "))
	assert.Equal(t, protocol.AllRooms, h.store.Get().Target)
}

func TestAnnounce(t *testing.T) {
	h := newHarness(t, defaultSettings())
	topics := bus.NewTopics(localID)
	h.c.Announce()

	status, ok := h.bus.Retained(topics.Status())
	require.True(t, ok)
	assert.Equal(t, bus.StatusOnline, status)

	raw, ok := h.bus.Retained(topics.Info())
	require.True(t, ok)
	var info directory.Info
	require.NoError(t, json.Unmarshal([]byte(raw), &info))
	assert.Equal(t, "Office", info.Room)
	assert.Equal(t, "10.0.0.10", info.IP)
	assert.Equal(t, localID.String(), info.ID)

	for _, name := range bus.SettingNames {
		_, ok := h.bus.Retained(topics.Setting(name))
		assert.True(t, ok, name)
	}
	vol, _ := h.bus.Retained(topics.Setting(bus.SettingVolume))
	assert.Equal(t, "80", vol)
	agc, _ := h.bus.Retained(topics.Setting(bus.SettingAGC))
	assert.Equal(t, "ON", agc)

	state, ok := h.bus.Retained(topics.State())
	require.True(t, ok)
	assert.JSONEq(t, `{"state":"idle"}`, state)

	will := h.c.Will()
	assert.Equal(t, topics.Status(), will.Topic)
	assert.Equal(t, bus.StatusOffline, will.Payload)
	assert.True(t, will.Retain)
}

func TestStatePublishedWithTarget(t *testing.T) {
	s := defaultSettings()
	s.Target = "Kitchen"
	h := newHarness(t, s)

	require.NoError(t, h.c.PressPTT())
	state, _ := h.bus.Retained(bus.NewTopics(localID).State())
	assert.JSONEq(t, `{"state":"transmitting","target":"Kitchen"}`, state)
}

func TestParsePriority(t *testing.T) {
	cases := map[string]protocol.Priority{
		"normal":    protocol.PriorityNormal,
		"0":         protocol.PriorityNormal,
		"High":      protocol.PriorityHigh,
		" 1 ":       protocol.PriorityHigh,
		"EMERGENCY": protocol.PriorityEmergency,
		"2":         protocol.PriorityEmergency,
	}
	for in, want := range cases {
		got, err := ParsePriority(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePriority("3")
	assert.Error(t, err)
}

func TestStatusReport(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.c.handlePacket(audioPacket(t, peerA, 1, protocol.PriorityNormal, 40))

	st := h.c.Status()
	assert.Equal(t, "Office", st.Room)
	assert.True(t, st.AudioPlaying)
	assert.True(t, st.I2SActive)
	assert.Equal(t, 80, st.Volume)
}
