// Package session is the half-duplex channel coordinator. It owns the play
// task, the TX task and the idle monitor, and applies first-to-talk with
// priority preemption, PTT refusal rules and call handling.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pccr10001/intercom/internal/bus"
	"github.com/pccr10001/intercom/internal/metrics"
	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/network"
	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/internal/settings"
	"github.com/pccr10001/intercom/pkg/logger"
)

var (
	ErrChannelBusy      = errors.New("channel busy")
	ErrCallLockout      = errors.New("call lockout active")
	ErrNotReady         = errors.New("audio path not ready")
	ErrNoPeers          = errors.New("no devices online")
	ErrInvalidDuration  = errors.New("duration_frames must be 1..600")
	ErrAlreadyTransmits = errors.New("already transmitting")
)

// Sink is the speaker.
type Sink interface {
	Start() error
	Stop()
	IsActive() bool
	Write(samples []int16, timeout time.Duration) int
	ForceMaxVolumeUnmute() bool
	Restore() bool
	OverrideActive() bool
	SetVolume(v int)
	Volume() int
	SetMuted(m bool)
	Muted() bool
}

// Source is the microphone.
type Source interface {
	Read(dst []int16, timeout time.Duration) (int, error)
}

type Encoder interface {
	Encode(ctx context.Context, pcm []int16, out []byte) (int, error)
	Reset(ctx context.Context) error
}

type Decoder interface {
	Decode(data []byte, out []int16) (int, error)
	DecodePLC(out []int16) (int, error)
	DecodeFEC(next []byte, out []int16) (int, error)
	Reset() error
}

// EchoCanceller is the AEC bridge seen from the TX task.
type EchoCanceller interface {
	Ready() bool
	PushMic(samples []int16) int
	PopCleaned(dst []int16) int
	Reset()
	FlushReference()
}

type GainControl interface {
	Reset()
	Process(samples []int16)
}

type Sender interface {
	SendMulticast(b []byte) error
	SendUnicast(b []byte, ip string) error
}

type Receiver interface {
	Receive(ctx context.Context, handle func(data []byte)) error
}

// Peers resolves rooms to unicast addresses.
type Peers interface {
	ResolveTarget(target string) (string, bool)
	OnlineCount() int
}

type CallRecorder interface {
	RecordCall(rec *model.CallRecord)
}

type Config struct {
	DeviceID     protocol.DeviceID
	Room         string
	IP           string
	Version      string
	IsMobile     bool
	IdleTimeout  time.Duration
	CallLockout  time.Duration
	Heartbeat    time.Duration
	LeadIn       int
	TrailOut     int
	FallbackBeep bool
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = protocol.RxIdleTimeout
	}
	if c.CallLockout <= 0 {
		c.CallLockout = protocol.CallLockout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = protocol.Heartbeat
	}
	if c.LeadIn <= 0 {
		c.LeadIn = protocol.LeadInFrames
	}
	if c.TrailOut <= 0 {
		c.TrailOut = protocol.TrailOutFrames
	}
}

// Deps are the collaborators of the coordinator. Mic, Encoder and Sender are
// needed for TX; Sink and Decoder for RX. Bus, Peers, Calls, Metrics and
// Receiver are optional.
type Deps struct {
	Sink     Sink
	Mic      Source
	Encoder  Encoder
	Decoder  Decoder
	AEC      EchoCanceller
	AGC      GainControl
	Net      Sender
	Receiver Receiver
	Queue    *network.RxQueue
	Settings *settings.Store
	Bus      bus.Bus
	Peers    Peers
	Calls    CallRecorder
	Metrics  *metrics.Metrics
	Clock    Clock
}

type State string

const (
	StateIdle         State = "idle"
	StateTransmitting State = "transmitting"
	StateReceiving    State = "receiving"
)

var allStates = []string{string(StateIdle), string(StateTransmitting), string(StateReceiving)}

type LED string

const (
	LEDOff          LED = "off"
	LEDIdle         LED = "idle"
	LEDMuted        LED = "muted"
	LEDDND          LED = "dnd"
	LEDTransmitting LED = "transmitting"
	LEDReceiving    LED = "receiving"
	LEDBusy         LED = "busy"
	LEDEmergency    LED = "emergency"
	LEDError        LED = "error"
)

type Coordinator struct {
	cfg    Config
	d      Deps
	log    *zap.SugaredLogger
	topics bus.Topics
	start  time.Time

	ready        atomic.Bool
	transmitting atomic.Bool
	sustained    atomic.Bool
	playing      atomic.Bool
	queueDepth   atomic.Int32

	// chMu guards the channel: ActiveSender, its priority and sequence
	// tracking, the sink lifecycle and the emergency override.
	chMu       sync.Mutex
	hasSender  bool
	sender     protocol.DeviceID
	rxPriority protocol.Priority
	lastSeq    uint32
	seqInit    bool
	lastRx     time.Time
	chimeUntil time.Time
	rxPCM      []int16

	lastCallSent atomic.Int64 // unix nanos
	lastChime    atomic.Pointer[string]

	stateMu sync.Mutex
	state   State
	target  string
	led     LED

	// TX task state.
	seq      atomic.Uint32
	pcm      []int16
	cleaned  []int16
	opusBuf  []byte
	txBuf    []byte
	silence  []byte
	txLog    *logger.Every
	rxLog    *logger.Every
	gapLog   *logger.Every
	sendFail *logger.Every
	encFail  *logger.Every

	events eventHub
}

func New(cfg Config, d Deps) *Coordinator {
	cfg.applyDefaults()
	if d.Clock == nil {
		d.Clock = RealClock()
	}
	if d.Queue == nil {
		d.Queue = network.NewRxQueue(protocol.RxQueueDepth)
	}
	if d.Settings == nil {
		d.Settings = settings.NewStore(settings.Snapshot{Volume: 100, AGC: true, LED: true})
	}
	c := &Coordinator{
		cfg:      cfg,
		d:        d,
		log:      logger.Named("session"),
		topics:   bus.NewTopics(cfg.DeviceID),
		start:    d.Clock.Now(),
		state:    StateIdle,
		led:      LEDIdle,
		rxPCM:    make([]int16, protocol.FrameSize),
		pcm:      make([]int16, protocol.FrameSize),
		cleaned:  make([]int16, protocol.FrameSize),
		opusBuf:  make([]byte, protocol.MaxPayloadSize),
		txBuf:    make([]byte, protocol.MaxPacketSize),
		txLog:    logger.NewEvery(50),
		rxLog:    logger.NewEvery(50),
		gapLog:   logger.NewEvery(50),
		sendFail: logger.NewEvery(50),
		encFail:  logger.NewEvery(50),
	}
	empty := ""
	c.lastChime.Store(&empty)
	c.applySinkSettings(d.Settings.Get())
	return c
}

// Run starts the play task, the TX task, the idle monitor and, when a
// Receiver is configured, the network RX task. It returns when ctx is done
// or a task fails.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.d.Encoder != nil {
		c.encodeSilence(ctx)
	}
	c.ready.Store(true)
	defer c.ready.Store(false)
	c.log.Infof("Session coordinator started: room=%s id=%s", c.cfg.Room, c.cfg.DeviceID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { c.runPlay(ctx); return nil })
	g.Go(func() error { c.runIdleMonitor(ctx); return nil })
	if c.d.Mic != nil && c.d.Encoder != nil && c.d.Net != nil {
		g.Go(func() error { c.runTX(ctx); return nil })
	} else {
		c.log.Warn("TX path disabled: microphone, encoder or transport missing")
	}
	if c.d.Receiver != nil {
		g.Go(func() error { return c.d.Receiver.Receive(ctx, c.FilterRx) })
	}
	if c.d.Bus != nil {
		g.Go(func() error { c.runHeartbeat(ctx); return nil })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Coordinator) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Coordinator) CurrentLED() LED {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.led
}

func (c *Coordinator) Transmitting() bool { return c.transmitting.Load() }
func (c *Coordinator) Playing() bool      { return c.playing.Load() }

// Sequence is the sequence number the next produced packet will carry.
func (c *Coordinator) Sequence() uint32 { return c.seq.Load() }

func (c *Coordinator) LastChime() string { return *c.lastChime.Load() }

// ActiveSender returns the peer owning the channel, if any.
func (c *Coordinator) ActiveSender() (protocol.DeviceID, protocol.Priority, bool) {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.sender, c.rxPriority, c.hasSender
}

// SubscribeEvents registers fn for state, LED, toast and call events.
func (c *Coordinator) SubscribeEvents(fn func(Event)) func() {
	return c.events.subscribe(fn)
}

func (c *Coordinator) setState(s State) {
	target := ""
	if s == StateTransmitting {
		target = c.d.Settings.Get().Target
	}
	c.stateMu.Lock()
	if c.state == s && c.target == target {
		c.stateMu.Unlock()
		return
	}
	prev := c.state
	c.state, c.target = s, target
	c.stateMu.Unlock()

	c.log.Infof("State %s -> %s", prev, s)
	c.d.Metrics.SetState(string(s), allStates)
	c.publishState(s, target)
	c.events.emit(Event{Type: EventState, Value: string(s), Target: target, At: c.d.Clock.Now()})
}

func (c *Coordinator) setLED(l LED) {
	if !c.d.Settings.Get().LED {
		l = LEDOff
	}
	c.stateMu.Lock()
	if c.led == l {
		c.stateMu.Unlock()
		return
	}
	c.led = l
	c.stateMu.Unlock()

	c.publish(c.topics.LEDState(), string(l), true)
	c.events.emit(Event{Type: EventLED, Value: string(l), At: c.d.Clock.Now()})
}

// idleLED is the resting indication: DND wins over mute.
func (c *Coordinator) idleLED() LED {
	s := c.d.Settings.Get()
	switch {
	case s.DND:
		return LEDDND
	case s.Muted:
		return LEDMuted
	default:
		return LEDIdle
	}
}

// toast reports a policy refusal to the user.
func (c *Coordinator) toast(msg string) {
	c.log.Warnf("Toast: %s", msg)
	c.publish(c.topics.Toast(), msg, false)
	c.events.emit(Event{Type: EventToast, Value: msg, At: c.d.Clock.Now()})
}

func (c *Coordinator) publish(topic, payload string, retain bool) {
	if c.d.Bus == nil {
		return
	}
	if err := c.d.Bus.Publish(topic, payload, retain); err != nil && !errors.Is(err, bus.ErrNotConnected) {
		c.log.Warnf("publish %s: %v", topic, err)
	}
}

// applySinkSettings pushes volume and mute to the sink unless an override
// currently owns them.
func (c *Coordinator) applySinkSettings(s settings.Snapshot) {
	if c.d.Sink == nil || c.d.Sink.OverrideActive() {
		return
	}
	c.d.Sink.SetVolume(s.Volume)
	c.d.Sink.SetMuted(s.Muted)
}

// restoreOverride ends an emergency or call override and re-applies the
// user's settings.
func (c *Coordinator) restoreOverride() {
	if c.d.Sink == nil {
		return
	}
	if c.d.Sink.Restore() {
		c.applySinkSettings(c.d.Settings.Get())
	}
}

type Status struct {
	Version      string `json:"version"`
	Room         string `json:"room"`
	AudioPlaying bool   `json:"audio_playing"`
	I2SActive    bool   `json:"i2s_active"`
	QueueDepth   int    `json:"queue_depth"`
	Volume       int    `json:"volume"`
	Muted        bool   `json:"muted"`
	Uptime       int64  `json:"uptime"`
	FreeHeap     uint64 `json:"free_heap"`
	LastChime    string `json:"last_chime"`
}

func (c *Coordinator) Status() Status {
	s := Status{
		Version:      c.cfg.Version,
		Room:         c.cfg.Room,
		AudioPlaying: c.playing.Load(),
		QueueDepth:   c.d.Queue.Len(),
		Uptime:       int64(c.d.Clock.Now().Sub(c.start) / time.Second),
		LastChime:    c.LastChime(),
	}
	if c.d.Sink != nil {
		s.I2SActive = c.d.Sink.IsActive()
		s.Volume = c.d.Sink.Volume()
		s.Muted = c.d.Sink.Muted()
	}
	return s
}
