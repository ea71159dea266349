// Package bus is the control-plane publish/subscribe link: calls, settings,
// device presence and state announcements.
package bus

import (
	"errors"
	"sync"
)

var ErrNotConnected = errors.New("bus not connected")

// Message is one control-plane publication. It is also the JSON envelope
// exchanged with the hub.
type Message struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	Retain  bool   `json:"retain,omitempty"`
}

type Handler func(Message)

type Bus interface {
	Publish(topic, payload string, retain bool) error
	Subscribe(filter string, h Handler) (unsubscribe func())
}

type subscription struct {
	id     uint64
	filter string
	h      Handler
}

// router fans messages out to the subscriptions whose filter matches.
type router struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func (r *router) add(filter string, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription{id: id, filter: filter, h: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

func (r *router) filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s.filter)
	}
	return out
}

func (r *router) dispatch(m Message) {
	r.mu.RLock()
	var hs []Handler
	for _, s := range r.subs {
		if Match(s.filter, m.Topic) {
			hs = append(hs, s.h)
		}
	}
	r.mu.RUnlock()
	for _, h := range hs {
		h(m)
	}
}

// LocalBus delivers publications in-process and synchronously. It keeps
// retained messages and replays them to new subscribers.
type LocalBus struct {
	r router

	mu       sync.Mutex
	retained map[string]Message
}

func NewLocalBus() *LocalBus {
	return &LocalBus{retained: make(map[string]Message)}
}

func (b *LocalBus) Publish(topic, payload string, retain bool) error {
	m := Message{Topic: topic, Payload: payload, Retain: retain}
	if retain {
		b.mu.Lock()
		if payload == "" {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = m
		}
		b.mu.Unlock()
	}
	b.r.dispatch(m)
	return nil
}

func (b *LocalBus) Subscribe(filter string, h Handler) func() {
	unsub := b.r.add(filter, h)

	b.mu.Lock()
	var replay []Message
	for topic, m := range b.retained {
		if Match(filter, topic) {
			replay = append(replay, m)
		}
	}
	b.mu.Unlock()
	for _, m := range replay {
		h(m)
	}
	return unsub
}

// Retained returns the retained payload for topic.
func (b *LocalBus) Retained(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.retained[topic]
	return m.Payload, ok
}
