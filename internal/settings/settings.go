// Package settings holds the user-adjustable endpoint settings. Readers take
// lock-free snapshots; writers replace the whole snapshot.
package settings

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pccr10001/intercom/internal/protocol"
)

type Snapshot struct {
	Volume   int               `json:"volume"`
	Muted    bool              `json:"muted"`
	Priority protocol.Priority `json:"priority"`
	DND      bool              `json:"dnd"`
	AGC      bool              `json:"agc"`
	LED      bool              `json:"led"`
	Target   string            `json:"target"`
}

// Normalize clamps values into their valid ranges.
func (s *Snapshot) Normalize() {
	if s.Volume < 0 {
		s.Volume = 0
	}
	if s.Volume > 100 {
		s.Volume = 100
	}
	s.Priority = protocol.ClampPriority(uint8(s.Priority))
	s.Target = strings.TrimSpace(s.Target)
	if s.Target == "" {
		s.Target = protocol.AllRooms
	}
}

// Broadcast reports whether the TX target is the multicast group.
func (s Snapshot) Broadcast() bool {
	return strings.EqualFold(s.Target, protocol.AllRooms)
}

type Listener func(old, new Snapshot)

type Store struct {
	cur atomic.Pointer[Snapshot]

	mu        sync.Mutex
	listeners []Listener
}

func NewStore(initial Snapshot) *Store {
	initial.Normalize()
	s := &Store{}
	s.cur.Store(&initial)
	return s
}

func (s *Store) Get() Snapshot {
	return *s.cur.Load()
}

// Update applies fn to a copy of the current snapshot and publishes it.
// Listeners run synchronously, after the new snapshot is visible, and only
// when something changed.
func (s *Store) Update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	old := *s.cur.Load()
	next := old
	fn(&next)
	next.Normalize()
	if next == old {
		s.mu.Unlock()
		return next
	}
	s.cur.Store(&next)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(old, next)
	}
	return next
}

func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}
