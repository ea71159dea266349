package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pccr10001/intercom/internal/protocol"
)

func observeLogs(h *harness) *observer.ObservedLogs {
	core, logs := observer.New(zapcore.DebugLevel)
	h.c.log = zap.New(core).Sugar()
	return logs
}

func TestChannelLifecycleLogsStructuredFields(t *testing.T) {
	s := defaultSettings()
	s.Priority = protocol.PriorityHigh
	h := newHarness(t, s)
	logs := observeLogs(h)

	h.c.handlePacket(audioPacket(t, peerA, 1, protocol.PriorityNormal, 40))
	acquired := logs.FilterMessage("Channel acquired").All()
	require.Len(t, acquired, 1)
	assert.Equal(t, peerA.Short(), acquired[0].ContextMap()["sender"])
	assert.Equal(t, "normal", acquired[0].ContextMap()["priority"])
	require.Equal(t, 1, logs.FilterMessage("[RX] frame").Len())

	h.c.handlePacket(audioPacket(t, peerA, 4, protocol.PriorityNormal, 40))
	gaps := logs.FilterMessage("[RX] sequence gap").All()
	require.Len(t, gaps, 1)
	assert.Equal(t, int64(2), gaps[0].ContextMap()["missing"])
	assert.Equal(t, uint64(1), gaps[0].ContextMap()["total"])
	assert.Equal(t, 1, logs.FilterMessage("[RX] frame").Len(), "per-frame log is sampled")

	require.NoError(t, h.c.PressPTT())
	preempt := logs.FilterMessage("PTT preempts active sender").All()
	require.Len(t, preempt, 1)
	assert.Equal(t, zapcore.WarnLevel, preempt[0].Level)
	assert.Equal(t, "high", preempt[0].ContextMap()["own"])
	assert.Equal(t, "normal", preempt[0].ContextMap()["active"])

	released := logs.FilterMessage("Channel released").All()
	require.Len(t, released, 1)
	assert.Equal(t, peerA.Short(), released[0].ContextMap()["sender"])
	assert.Equal(t, true, released[0].ContextMap()["playing"])
	assert.Equal(t, 1, logs.FilterMessage("PTT pressed").Len())
}

func TestNetworkPreemptionLogsBothPriorities(t *testing.T) {
	h := newHarness(t, defaultSettings())
	logs := observeLogs(h)

	h.c.handlePacket(audioPacket(t, peerA, 1, protocol.PriorityNormal, 40))
	h.c.handlePacket(audioPacket(t, peerB, 1, protocol.PriorityEmergency, 40))

	entries := logs.FilterMessage("Preempted by higher priority sender").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, peerB.Short(), fields["sender"])
	assert.Equal(t, "emergency", fields["priority"])
	assert.Equal(t, "normal", fields["active"])
	assert.Equal(t, 2, logs.FilterMessage("Channel acquired").Len())
	assert.Equal(t, 1, logs.FilterMessage("Channel released").Len())
}
