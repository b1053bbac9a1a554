package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-appbridge/internal/logger"
)

// Event types published on the hub.
const (
	EventStateChanged = "state"
	EventRecycle      = "recycle"
	EventReload       = "reload"
)

// Event is one lifecycle notification.
type Event struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Subscriber struct {
	Send chan Event
}

// EventHub fans lifecycle events out to subscribers. Slow subscribers
// lose events rather than blocking the publisher.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*Subscriber]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new client.
func (h *EventHub) Subscribe() *Subscriber {
	c := &Subscriber{
		Send: make(chan Event, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	return c
}

// Unsubscribe removes c and closes its send channel.
func (h *EventHub) Unsubscribe(c *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
}

// Publish broadcasts an event to all subscribers.
func (h *EventHub) Publish(eventType string, payload any) {
	ev := Event{Type: eventType, Time: time.Now().UTC()}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			logger.Warn("event marshal error", "type", eventType, logger.KeyError, err)
			return
		}
		ev.Data = data
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.Send <- ev:
		default:
			// client is slow / buffer full, drop event
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades to a websocket and streams events until the client
// goes away.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("events upgrade error", logger.KeyError, err)
		return
	}
	defer conn.Close()

	client := h.Subscribe()
	defer h.Unsubscribe(client)

	// writer goroutine
	go func() {
		for ev := range client.Send {
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("events write error", logger.KeyError, err)
				return
			}
		}
	}()

	// reader loop, only to notice the client closing
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debug("events read error", logger.KeyError, err)
			}
			return
		}
	}
}
