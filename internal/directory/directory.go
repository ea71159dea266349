// Package directory tracks the other endpoints from their device.info and
// status announcements and resolves room names to unicast addresses.
package directory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pccr10001/intercom/internal/bus"
	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/protocol"
	"github.com/pccr10001/intercom/pkg/logger"
)

// Info is the device.info advertisement.
type Info struct {
	Room     string `json:"room"`
	IP       string `json:"ip"`
	ID       string `json:"id"`
	IsMobile bool   `json:"is_mobile"`
	Version  string `json:"version,omitempty"`
}

// Store persists peers. The repository implementation is
// repository.PeerRepository.
type Store interface {
	Upsert(peer *model.Peer) error
	SetOnline(deviceID string, online bool) error
}

type Directory struct {
	self  string
	peers *xsync.MapOf[string, model.Peer]
	store Store
	now   func() time.Time
}

func New(self protocol.DeviceID, store Store) *Directory {
	return &Directory{
		self:  self.String(),
		peers: xsync.NewMapOf[string, model.Peer](),
		store: store,
		now:   time.Now,
	}
}

// Load seeds the table from persisted peers. Presence is not trusted until
// the peer announces itself again.
func (d *Directory) Load(peers []model.Peer) {
	for _, p := range peers {
		if p.DeviceID == d.self {
			continue
		}
		p.Online = false
		d.peers.Store(p.DeviceID, p)
	}
}

// Attach subscribes the directory to presence topics on b.
func (d *Directory) Attach(b bus.Bus) {
	b.Subscribe(bus.TopicDeviceInfos, func(m bus.Message) {
		if err := d.HandleInfo([]byte(m.Payload)); err != nil {
			logger.Log.Debugf("Ignoring device info on %s: %v", m.Topic, err)
		}
	})
	b.Subscribe(bus.TopicStatusAll, func(m bus.Message) {
		id, ok := bus.DeviceFromTopic(m.Topic)
		if !ok {
			return
		}
		d.HandleStatus(id, m.Payload == bus.StatusOnline)
	})
}

func (d *Directory) HandleInfo(payload []byte) error {
	var info Info
	if err := json.Unmarshal(payload, &info); err != nil {
		return err
	}
	if info.ID == "" || info.Room == "" {
		return fmt.Errorf("incomplete device info")
	}
	if info.ID == d.self {
		return nil
	}

	peer := model.Peer{
		DeviceID: info.ID,
		Room:     info.Room,
		IP:       info.IP,
		IsMobile: info.IsMobile,
		Online:   true,
		LastSeen: d.now(),
	}
	_, existed := d.peers.LoadAndStore(info.ID, peer)
	if !existed {
		logger.Log.Infof("Discovered peer %s (%s) at %s", info.Room, info.ID, info.IP)
	}
	if d.store != nil {
		if err := d.store.Upsert(&peer); err != nil {
			logger.Log.Warnf("Failed to persist peer %s: %v", info.ID, err)
		}
	}
	return nil
}

func (d *Directory) HandleStatus(id string, online bool) {
	if id == d.self {
		return
	}
	changed := false
	d.peers.Compute(id, func(p model.Peer, loaded bool) (model.Peer, bool) {
		if !loaded {
			// Unknown peers wait for their device.info.
			return p, true
		}
		changed = p.Online != online
		p.Online = online
		if online {
			p.LastSeen = d.now()
		}
		return p, false
	})
	if !changed {
		return
	}
	status := bus.StatusOffline
	if online {
		status = bus.StatusOnline
	}
	logger.Log.Infof("Peer %s is now %s", id, status)
	if d.store != nil {
		if err := d.store.SetOnline(id, online); err != nil {
			logger.Log.Warnf("Failed to persist presence of %s: %v", id, err)
		}
	}
}

// ResolveTarget returns the unicast address of the online peer whose room
// matches target. The broadcast target never resolves.
func (d *Directory) ResolveTarget(target string) (string, bool) {
	if target == "" || strings.EqualFold(target, protocol.AllRooms) {
		return "", false
	}
	var ip string
	d.peers.Range(func(_ string, p model.Peer) bool {
		if p.Online && p.IP != "" && strings.EqualFold(p.Room, target) {
			ip = p.IP
			return false
		}
		return true
	})
	return ip, ip != ""
}

func (d *Directory) OnlineCount() int {
	n := 0
	d.peers.Range(func(_ string, p model.Peer) bool {
		if p.Online {
			n++
		}
		return true
	})
	return n
}

// Peers returns a snapshot sorted by room.
func (d *Directory) Peers() []model.Peer {
	out := make([]model.Peer, 0, d.peers.Size())
	d.peers.Range(func(_ string, p model.Peer) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Room == out[j].Room {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Room < out[j].Room
	})
	return out
}
