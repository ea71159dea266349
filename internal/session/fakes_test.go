package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pccr10001/intercom/internal/bus"
	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/network"
	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/internal/settings"
)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances time without blocking.
func (c *manualClock) Sleep(d time.Duration) {
	c.Advance(d)
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers outside the lock.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	var keep []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.at.After(c.now) {
			due = append(due, t)
		} else if !t.stopped {
			keep = append(keep, t)
		}
	}
	c.timers = keep
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.stopped = true
		t.f()
	}
}

type fakeSink struct {
	mu         sync.Mutex
	active     bool
	starts     int
	stops      int
	writes     [][]int16
	failWrites int
	volume     int
	muted      bool
	override   bool
	savedVol   int
	savedMuted bool
	forces     int
	restores   int
}

func (s *fakeSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		s.active = true
		s.starts++
	}
	return nil
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.active = false
		s.stops++
	}
}

func (s *fakeSink) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *fakeSink) Write(samples []int16, _ time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0
	}
	if s.failWrites > 0 {
		s.failWrites--
		return 0
	}
	s.writes = append(s.writes, append([]int16(nil), samples...))
	return len(samples)
}

func (s *fakeSink) ForceMaxVolumeUnmute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.override {
		return false
	}
	s.savedVol, s.savedMuted = s.volume, s.muted
	s.volume, s.muted = 100, false
	s.override = true
	s.forces++
	return true
}

func (s *fakeSink) Restore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.override {
		return false
	}
	s.volume, s.muted = s.savedVol, s.savedMuted
	s.override = false
	s.restores++
	return true
}

func (s *fakeSink) OverrideActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.override
}

func (s *fakeSink) SetVolume(v int) { s.mu.Lock(); s.volume = v; s.mu.Unlock() }
func (s *fakeSink) Volume() int     { s.mu.Lock(); defer s.mu.Unlock(); return s.volume }
func (s *fakeSink) SetMuted(m bool) { s.mu.Lock(); s.muted = m; s.mu.Unlock() }
func (s *fakeSink) Muted() bool     { s.mu.Lock(); defer s.mu.Unlock(); return s.muted }

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type fakeDecoder struct {
	calls  []string
	resets int
}

func (d *fakeDecoder) Decode(data []byte, out []int16) (int, error) {
	d.calls = append(d.calls, "decode")
	return protocol.FrameSize, nil
}

func (d *fakeDecoder) DecodePLC(out []int16) (int, error) {
	d.calls = append(d.calls, "plc")
	return protocol.FrameSize, nil
}

func (d *fakeDecoder) DecodeFEC(next []byte, out []int16) (int, error) {
	d.calls = append(d.calls, "fec")
	return protocol.FrameSize, nil
}

func (d *fakeDecoder) Reset() error {
	d.resets++
	return nil
}

// fakeEncoder produces a 3 byte frame for digital silence and 40 bytes
// otherwise.
type fakeEncoder struct {
	resets int
	frames [][]int16
}

func (e *fakeEncoder) Encode(_ context.Context, pcm []int16, out []byte) (int, error) {
	e.frames = append(e.frames, append([]int16(nil), pcm...))
	for _, v := range pcm {
		if v != 0 {
			for i := 0; i < 40; i++ {
				out[i] = byte(i)
			}
			return 40, nil
		}
	}
	copy(out, []byte{0xF8, 0xFF, 0xFE})
	return 3, nil
}

func (e *fakeEncoder) Reset(context.Context) error {
	e.resets++
	return nil
}

type fakeMic struct {
	short bool
}

func (m *fakeMic) Read(dst []int16, _ time.Duration) (int, error) {
	if m.short {
		return len(dst) / 2, nil
	}
	for i := range dst {
		dst[i] = 1000
	}
	return len(dst), nil
}

type sentPacket struct {
	pkt  *protocol.Packet
	dest string
	at   time.Time
}

type fakeNet struct {
	clock *manualClock
	sent  []sentPacket
}

func (n *fakeNet) record(b []byte, dest string) error {
	cp := append([]byte(nil), b...)
	p, err := protocol.Parse(cp)
	if err != nil {
		return err
	}
	n.sent = append(n.sent, sentPacket{pkt: p, dest: dest, at: n.clock.Now()})
	return nil
}

func (n *fakeNet) SendMulticast(b []byte) error          { return n.record(b, "multicast") }
func (n *fakeNet) SendUnicast(b []byte, ip string) error { return n.record(b, ip) }

type fakePeers struct {
	online int
	rooms  map[string]string
}

func (p *fakePeers) ResolveTarget(target string) (string, bool) {
	ip, ok := p.rooms[target]
	return ip, ok
}

func (p *fakePeers) OnlineCount() int { return p.online }

type fakeAEC struct {
	flushes int
	resets  int
}

func (a *fakeAEC) Ready() bool                { return true }
func (a *fakeAEC) PushMic(s []int16) int      { return 0 }
func (a *fakeAEC) PopCleaned(dst []int16) int { return 0 }
func (a *fakeAEC) Reset()                     { a.resets++ }
func (a *fakeAEC) FlushReference()            { a.flushes++ }

type callLog struct {
	recs []model.CallRecord
}

func (l *callLog) RecordCall(rec *model.CallRecord) { l.recs = append(l.recs, *rec) }

var (
	localID = protocol.DeviceID{0x02, 0, 0, 0, 0, 0x01, 0x02, 0x01}
	peerA   = protocol.DeviceID{0xA0, 0, 0, 0, 0, 0x0A, 0xA0, 0x0A}
	peerB   = protocol.DeviceID{0xB0, 0, 0, 0, 0, 0x0B, 0xB0, 0x0B}
)

type harness struct {
	c       *Coordinator
	clock   *manualClock
	sink    *fakeSink
	dec     *fakeDecoder
	enc     *fakeEncoder
	mic     *fakeMic
	net     *fakeNet
	aec     *fakeAEC
	peers   *fakePeers
	calls   *callLog
	bus     *bus.LocalBus
	store   *settings.Store
	events  []Event
	eventMu sync.Mutex
}

func newHarness(t *testing.T, initial settings.Snapshot) *harness {
	t.Helper()
	clock := newManualClock()
	h := &harness{
		clock: clock,
		sink:  &fakeSink{},
		dec:   &fakeDecoder{},
		enc:   &fakeEncoder{},
		mic:   &fakeMic{},
		net:   &fakeNet{clock: clock},
		aec:   &fakeAEC{},
		peers: &fakePeers{rooms: map[string]string{}},
		calls: &callLog{},
		bus:   bus.NewLocalBus(),
		store: settings.NewStore(initial),
	}
	h.c = New(Config{
		DeviceID: localID,
		Room:     "Office",
		IP:       "10.0.0.10",
		Version:  "test",
	}, Deps{
		Sink:     h.sink,
		Mic:      h.mic,
		Encoder:  h.enc,
		Decoder:  h.dec,
		AEC:      h.aec,
		Net:      h.net,
		Queue:    network.NewRxQueue(protocol.RxQueueDepth),
		Settings: h.store,
		Peers:    h.peers,
		Calls:    h.calls,
		Clock:    clock,
	})
	h.c.Attach(h.bus)
	h.c.SubscribeEvents(func(ev Event) {
		h.eventMu.Lock()
		h.events = append(h.events, ev)
		h.eventMu.Unlock()
	})
	h.c.encodeSilence(context.Background())
	h.c.ready.Store(true)
	return h
}

func (h *harness) toasts() []string {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	var out []string
	for _, ev := range h.events {
		if ev.Type == EventToast {
			out = append(out, ev.Value)
		}
	}
	return out
}

func audioPacket(t *testing.T, id protocol.DeviceID, seq uint32, prio protocol.Priority, payloadLen int) *protocol.Packet {
	t.Helper()
	p := &protocol.Packet{DeviceID: id, Sequence: seq, Priority: prio, Payload: make([]byte, payloadLen)}
	for i := range p.Payload {
		p.Payload[i] = byte(i + 1)
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	parsed, err := protocol.Parse(b)
	require.NoError(t, err)
	return parsed
}

func rawPacket(t *testing.T, id protocol.DeviceID, seq uint32, prio protocol.Priority) []byte {
	t.Helper()
	p := &protocol.Packet{DeviceID: id, Sequence: seq, Priority: prio, Payload: make([]byte, 40)}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func defaultSettings() settings.Snapshot {
	return settings.Snapshot{Volume: 80, AGC: true, LED: true, Target: protocol.AllRooms}
}
