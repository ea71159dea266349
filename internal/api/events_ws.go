package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pccr10001/intercom/internal/session"
	"github.com/pccr10001/intercom/pkg/logger"
)

const (
	eventBuffer    = 32
	eventWriteWait = 5 * time.Second
	eventPing      = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events streams coordinator events to a websocket client. A slow client
// loses events instead of stalling the coordinator.
func (h *IntercomHandler) Events(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Errorf("upgrade websocket failed: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan session.Event, eventBuffer)
	unsubscribe := h.ic.SubscribeEvents(func(ev session.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	// The read side only exists to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st := h.ic.Status()
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	if err := conn.WriteJSON(gin.H{"type": "status", "status": st}); err != nil {
		return
	}

	ping := time.NewTicker(eventPing)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case ev := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Log.Debugf("event socket write: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		}
	}
}
