package bus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pccr10001/intercom/pkg/logger"
)

const (
	frameRegister  = "register"
	frameSubscribe = "subscribe"
	framePublish   = "publish"

	writeTimeout = 5 * time.Second
)

// frame is the hub wire envelope. Publications carry topic, payload and
// retain; a register frame carries the will delivered on abnormal disconnect.
type frame struct {
	Type    string   `json:"type"`
	Topic   string   `json:"topic,omitempty"`
	Payload string   `json:"payload,omitempty"`
	Retain  bool     `json:"retain,omitempty"`
	ID      string   `json:"id,omitempty"`
	Will    *Message `json:"will,omitempty"`
}

type HubConfig struct {
	URL       string
	ClientID  string
	Reconnect time.Duration
	Will      *Message
	Header    http.Header
}

// HubClient links the endpoint to the control-plane hub over a websocket.
// It reconnects until its context is cancelled and re-subscribes every filter
// after each connect.
type HubClient struct {
	cfg    HubConfig
	dialer *websocket.Dialer
	log    *zap.SugaredLogger
	r      router

	writeMu sync.Mutex
	connMu  sync.RWMutex
	conn    *websocket.Conn

	connected atomic.Bool

	hookMu    sync.Mutex
	onConnect []func()
}

func NewHubClient(cfg HubConfig) *HubClient {
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 5 * time.Second
	}
	return &HubClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		log: logger.Named("bus"),
	}
}

// OnConnect registers fn to run after every successful (re)connect, once
// registration and subscriptions have been sent.
func (c *HubClient) OnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.hookMu.Unlock()
}

func (c *HubClient) Connected() bool {
	return c.connected.Load()
}

func (c *HubClient) Publish(topic, payload string, retain bool) error {
	return c.write(frame{Type: framePublish, Topic: topic, Payload: payload, Retain: retain})
}

func (c *HubClient) Subscribe(filter string, h Handler) func() {
	unsub := c.r.add(filter, h)
	if c.Connected() {
		if err := c.write(frame{Type: frameSubscribe, Topic: filter}); err != nil {
			c.log.Warnf("subscribe %s: %v", filter, err)
		}
	}
	return unsub
}

func (c *HubClient) write(f frame) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("hub write: %w", err)
	}
	return nil
}

// Run keeps the hub link up until ctx is done.
func (c *HubClient) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warnf("Hub link lost: %v, reconnecting in %s", err, c.cfg.Reconnect)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Reconnect):
		}
	}
}

func (c *HubClient) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connected.Store(false)
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	if err := c.write(frame{Type: frameRegister, ID: c.cfg.ClientID, Will: c.cfg.Will}); err != nil {
		return err
	}
	for _, f := range c.r.filters() {
		if err := c.write(frame{Type: frameSubscribe, Topic: f}); err != nil {
			return err
		}
	}
	c.connected.Store(true)
	c.log.Infof("Connected to hub %s", c.cfg.URL)

	c.hookMu.Lock()
	hooks := append([]func(){}, c.onConnect...)
	c.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Type != "" && f.Type != framePublish {
			continue
		}
		c.r.dispatch(Message{Topic: f.Topic, Payload: f.Payload, Retain: f.Retain})
	}
}
