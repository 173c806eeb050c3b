package gateway

import (
	"log/slog"
	"sync"
)

// Hub tracks connected clients and the room→client-set mapping. Membership
// churn takes the write lock; fan-out takes the read lock, so many emitters
// can route concurrently. Delivery is best-effort: a client whose send buffer
// is full has the event dropped rather than stalling the emitter.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	activeConnections.Set(float64(len(h.clients)))
}

// Unregister removes a connection from the hub and from every room it
// joined. No subscription state survives a disconnect.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	close(c.send)
	activeConnections.Set(float64(len(h.clients)))
}

// Join adds the client to a room. Joining a room twice is a no-op.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Leave removes the client from a room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast sends the event to every connected client.
func (h *Hub) Broadcast(event Event) {
	payload, err := event.encode()
	if err != nil {
		slog.Warn("dropping unencodable event", "event", event.Event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.deliver(c, event.Event, payload)
	}
}

// ToRoom sends the event to every client in the room. Unknown rooms are
// silently empty.
func (h *Hub) ToRoom(room string, event Event) {
	h.toRoom(room, nil, event)
}

// ToRoomExcept sends the event to every client in the room except one,
// typically the originator of a relayed frame.
func (h *Hub) ToRoomExcept(room string, except *Client, event Event) {
	h.toRoom(room, except, event)
}

func (h *Hub) toRoom(room string, except *Client, event Event) {
	payload, err := event.encode()
	if err != nil {
		slog.Warn("dropping unencodable event", "event", event.Event, "room", room, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		h.deliver(c, event.Event, payload)
	}
}

// deliver hands the payload to the client's send buffer without blocking.
// Callers hold at least the read lock.
func (h *Hub) deliver(c *Client, eventName string, payload []byte) {
	select {
	case c.send <- payload:
		eventsSent.WithLabelValues(eventName).Inc()
	default:
		eventsDropped.Inc()
		slog.Warn("client send buffer full, dropping event",
			"event", eventName,
			"user_id", c.principal.ID,
		)
	}
}

// ConnectionCount reports the number of registered clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize reports the number of clients in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
