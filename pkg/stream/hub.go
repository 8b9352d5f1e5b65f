// Package stream fans out content-change events to connected subscribers.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the content handlers and tools.
const (
	EventPageCreated    = "page.created"
	EventPageUpdated    = "page.updated"
	EventPageDeleted    = "page.deleted"
	EventArticleCreated = "article.created"
	EventArticleUpdated = "article.updated"
	EventArticleDeleted = "article.deleted"
	EventToolDispatched = "tool.dispatched"
)

type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

// Hub delivers events best-effort: slow subscribers drop events rather than
// blocking publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered channel that receives every event published
// after this call. The channel stays open until Unsubscribe.
func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Safe to call for a channel that was
// never subscribed or was already removed.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

// Publish sends evt to every subscriber whose buffer has room. A full
// subscriber silently misses the event. Sends happen under the read lock
// so Unsubscribe cannot close a channel mid-send.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
