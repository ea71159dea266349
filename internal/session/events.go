package session

import (
	"sync"
	"time"
)

type EventType string

const (
	EventState EventType = "state"
	EventToast EventType = "toast"
	EventLED   EventType = "led"
	EventCall  EventType = "call"
)

// Event is a user-visible change, streamed to the API's event socket.
type Event struct {
	Type   EventType `json:"type"`
	Value  string    `json:"value"`
	Target string    `json:"target,omitempty"`
	At     time.Time `json:"at"`
}

type eventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func (h *eventHub) subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(Event))
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *eventHub) emit(ev Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
