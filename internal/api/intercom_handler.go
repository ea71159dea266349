package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pccr10001/intercom/internal/bus"
	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/network"
	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/internal/repository"
	"github.com/pccr10001/intercom/internal/session"
	"github.com/pccr10001/intercom/internal/settings"
	"github.com/pccr10001/intercom/pkg/logger"
)

// Intercom is the part of the session coordinator the API drives.
type Intercom interface {
	Status() session.Status
	Beep() error
	StartSustained(frames int) (bool, error)
	PressPTT() error
	ReleasePTT()
	SendCall(target string, prio protocol.Priority) error
	ApplySetting(name, value string) error
	SubscribeEvents(fn func(session.Event)) func()
}

type Network interface {
	Rejoin() error
	Joined() bool
	Stats() network.Stats
}

type PeerLister interface {
	Peers() []model.Peer
}

type IntercomHandler struct {
	ic      Intercom
	store   *settings.Store
	peers   PeerLister
	calls   *repository.CallRepository
	net     Network
	rxDrops func() uint64
}

func NewIntercomHandler(ic Intercom, store *settings.Store, peers PeerLister, calls *repository.CallRepository, net Network, rxDrops func() uint64) *IntercomHandler {
	return &IntercomHandler{ic: ic, store: store, peers: peers, calls: calls, net: net, rxDrops: rxDrops}
}

// statusCode maps coordinator refusals onto HTTP codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrChannelBusy),
		errors.Is(err, session.ErrCallLockout),
		errors.Is(err, session.ErrNoPeers),
		errors.Is(err, session.ErrAlreadyTransmits):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *IntercomHandler) GetStatus(c *gin.Context) {
	st := h.ic.Status()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.FreeHeap = ms.HeapIdle
	c.JSON(http.StatusOK, st)
}

func (h *IntercomHandler) Test(c *gin.Context) {
	var req struct {
		Action         string `json:"action"`
		DurationFrames int    `json:"duration_frames"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	switch req.Action {
	case "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing action"})
	case "beep":
		if err := h.ic.Beep(); err != nil {
			c.JSON(statusCode(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": "ok", "action": "beep"})
	case "sustained_tx":
		sync, err := h.ic.StartSustained(req.DurationFrames)
		if err != nil {
			c.JSON(statusCode(err), gin.H{"error": err.Error()})
			return
		}
		mode := "async"
		if sync {
			mode = "sync"
		}
		c.JSON(http.StatusOK, gin.H{
			"result":          "ok",
			"action":          "sustained_tx",
			"duration_frames": req.DurationFrames,
			"mode":            mode,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown action"})
	}
}

func (h *IntercomHandler) ListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, h.peers.Peers())
}

func (h *IntercomHandler) Call(c *gin.Context) {
	var req struct {
		Target   string `json:"target"`
		Priority any    `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prio := protocol.PriorityNormal
	if req.Priority != nil {
		p, err := session.ParsePriority(fmt.Sprint(req.Priority))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		prio = p
	}
	if err := h.ic.SendCall(req.Target, prio); err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "called"})
}

func (h *IntercomHandler) PTT(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch strings.ToLower(req.Action) {
	case "press":
		if err := h.ic.PressPTT(); err != nil {
			c.JSON(statusCode(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "transmitting"})
	case "release":
		h.ic.ReleasePTT()
		c.JSON(http.StatusOK, gin.H{"status": "idle"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be press or release"})
	}
}

func (h *IntercomHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Get())
}

// UpdateSettings takes the control-plane setting names as keys, so the API and
// the bus accept the same vocabulary.
func (h *IntercomHandler) UpdateSettings(c *gin.Context) {
	var req map[string]any
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, name := range bus.SettingNames {
		v, ok := req[name]
		if !ok {
			continue
		}
		if err := h.ic.ApplySetting(name, fmt.Sprint(v)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, h.store.Get())
}

func (h *IntercomHandler) ListCalls(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.calls.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// ClearCalls empties the call log. An optional before query (RFC 3339)
// keeps newer records.
func (h *IntercomHandler) ClearCalls(c *gin.Context) {
	var before time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be RFC 3339"})
			return
		}
		before = t.Local()
	}
	n, err := h.calls.Clear(before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Log.Infof("Call log cleared by %s (%d records)", c.GetString("username"), n)
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *IntercomHandler) NetworkStats(c *gin.Context) {
	var drops uint64
	if h.rxDrops != nil {
		drops = h.rxDrops()
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      h.net.Stats(),
		"rx_dropped": drops,
		"joined":     h.net.Joined(),
	})
}

func (h *IntercomHandler) Rejoin(c *gin.Context) {
	if err := h.net.Rejoin(); err != nil {
		logger.Log.Warnf("Multicast rejoin failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejoined"})
}
