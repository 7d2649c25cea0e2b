package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/xelth-com/sensestamp/internal/models"
)

// EventAcceptedType is the message type pushed for every stored event
const EventAcceptedType = "event.accepted"

// Message is the envelope pushed to dashboards
type Message struct {
	Type  string        `json:"type"`
	Event *models.Event `json:"event"`
}

// Hub maintains the live-feed subscribers grouped by owner
type Hub struct {
	// Registered clients: OwnerID -> set of clients
	clients map[string]map[*Client]struct{}

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]map[*Client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.OwnerID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.OwnerID] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()
			log.Debug().Str("owner_id", client.OwnerID).Msg("live feed subscriber connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.OwnerID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					close(client.send)
				}
				if len(set) == 0 {
					delete(h.clients, client.OwnerID)
				}
			}
			h.mu.Unlock()
			log.Debug().Str("owner_id", client.OwnerID).Msg("live feed subscriber disconnected")

		case <-ctx.Done():
			h.mu.Lock()
			for owner, set := range h.clients {
				for client := range set {
					close(client.send)
				}
				delete(h.clients, owner)
			}
			h.mu.Unlock()
			return
		}
	}
}

// EventAccepted pushes a stored event to its owner's subscribers.
// Slow subscribers whose buffer is full miss the message.
func (h *Hub) EventAccepted(event *models.Event) {
	msg, err := json.Marshal(Message{Type: EventAcceptedType, Event: event})
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("marshaling live feed message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[event.OwnerID] {
		select {
		case client.send <- msg:
		default:
			log.Warn().Str("owner_id", event.OwnerID).Msg("live feed subscriber buffer full, dropping message")
		}
	}
}

// Subscribers returns the number of connected clients for an owner
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}
