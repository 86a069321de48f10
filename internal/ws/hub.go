package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Event is a typed notification for UI clients
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	// EventNetworkState carries a syncer.NetworkState snapshot
	EventNetworkState = "network_state"
	// EventMessageReceived announces a newly stored push message
	EventMessageReceived = "message_received"
	// EventReportUpdated announces a write-queue status change
	EventReportUpdated = "report_updated"
)

// Hub maintains the set of connected UI clients and broadcasts engine
// events to them. Clients are listeners only; the engine never depends on
// anything they send.
type Hub struct {
	mu sync.RWMutex

	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 32),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			log.Printf("🖥  UI client connected: %s", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				log.Printf("🖥  UI client disconnected: %s", client.id)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Buffer full or client dead; the unregister path
					// cleans it up
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast fans an event out to every connected client
func (h *Hub) Broadcast(event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️  Could not encode event %s: %v", event.Type, err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Printf("⚠️  Event %s dropped: broadcast buffer full", event.Type)
	}
}

// ClientCount returns the number of connected UI clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
