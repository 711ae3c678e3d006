// Package eventfeed is a live WebSocket fan-out of registry/group
// lifecycle events, grounded on internal/websocket/monitor.go's hub
// pattern: register/unregister/broadcast channels, one event loop, a
// non-blocking bounded-buffer broadcast send.
//
// It is purely an observer: connecting or disconnecting dashboards never
// changes registry semantics, the same way the event-handler dispatch is
// the only consumer-visible side channel in the core state machine.
package eventfeed

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LifecycleEvent is one on_process_registered/on_process_unregistered/
// resolve_registry_conflict occurrence, fanned out to every connected
// client.
type LifecycleEvent struct {
	Type      string      `json:"type"` // "registered", "unregistered", "conflict_resolved"
	Timestamp time.Time   `json:"timestamp"`
	Scope     string      `json:"scope"`
	Name      string      `json:"name"`
	Data      interface{} `json:"data"`
}

// Hub manages WebSocket connections for the live event feed.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan LifecycleEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
}

// NewHub creates a new event-feed hub. Call Run in its own goroutine to
// start serving it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan LifecycleEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's event loop. It never returns.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("[eventfeed] client connected, total: %d", len(h.clients))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			log.Printf("[eventfeed] client disconnected, total: %d", len(h.clients))

		case event := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					log.Printf("[eventfeed] write error: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a new client connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// Emit sends an event to all connected clients, non-blocking: a full
// buffer drops the event rather than stalling the caller (the scope
// actor's dispatch path), the same tradeoff internal/websocket/monitor.go
// makes for monitoring events.
func (h *Hub) Emit(eventType, scopeName, name string, data interface{}) {
	event := LifecycleEvent{
		Type: eventType, Timestamp: time.Now(),
		Scope: scopeName, Name: name, Data: data,
	}
	select {
	case h.broadcast <- event:
	default:
		log.Printf("[eventfeed] broadcast channel full, event dropped: %s/%s", scopeName, name)
	}
}
