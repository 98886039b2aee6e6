// internal/chat/hub.go

package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains active websocket connections. A user may hold several
// connections at once; presence flips only on the first and last of them.
// Clients join conversation rooms explicitly and room fan-out reaches only
// joined connections, while unread and presence events go to every
// connection a user holds.
type Hub struct {
	// Registered clients, by user then by connection
	clients    map[string]map[*Client]bool
	rooms      map[string]map[*Client]bool
	clientsMux sync.RWMutex

	broadcast  chan roomBroadcast
	register   chan *Client
	unregister chan *Client

	presence *PresenceTracker

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

type roomBroadcast struct {
	conversationID string
	event          Event
}

func NewHub(presence *PresenceTracker) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan roomBroadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   presence,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *Hub) Run() {
	defer h.cleanup()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)

		case <-h.ctx.Done():
			return
		}
	}
}

// Shutdown stops the hub loop and closes every connection
func (h *Hub) Shutdown() {
	h.cancel()
	h.wg.Wait()
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMux.Lock()
	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true
	total := h.connectionCountLocked()
	h.clientsMux.Unlock()

	activeConnections.Inc()
	connectionsTotal.Inc()

	first := h.presence.Connect(client.userID)
	if first {
		h.broadcastAll(NewEvent(EventUserOnline, PresenceEvent{UserID: client.userID}), client)
	}

	// The fresh connection gets the full roster, itself included
	client.enqueue(NewEvent(EventOnlineUsers, OnlineUsersEvent{UserIDs: h.presence.Snapshot()}))

	log.Printf("User %s connected. Total connections: %d", client.userID, total)
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsMux.Lock()
	conns, exists := h.clients[client.userID]
	if !exists || !conns[client] {
		h.clientsMux.Unlock()
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
	for convID, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, convID)
		}
	}
	total := h.connectionCountLocked()
	h.clientsMux.Unlock()

	client.close()
	activeConnections.Dec()

	last := h.presence.Disconnect(client.userID)
	if last {
		// The throttle bucket is shared by all of the user's connections;
		// it survives until the last one is gone
		if client.throttle != nil {
			client.throttle.Forget(client.userID)
		}
		h.broadcastAll(NewEvent(EventUserOffline, PresenceEvent{UserID: client.userID}), nil)
	}

	log.Printf("User %s disconnected. Total connections: %d", client.userID, total)
}

func (h *Hub) connectionCountLocked() int {
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}

// JoinRoom subscribes a connection to a conversation's live events
func (h *Hub) JoinRoom(conversationID string, client *Client) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]bool)
	}
	h.rooms[conversationID][client] = true
}

// LeaveRoom unsubscribes a connection from a conversation
func (h *Hub) LeaveRoom(conversationID string, client *Client) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	members := h.rooms[conversationID]
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, conversationID)
	}
}

// BroadcastToConversation fans an event out to every connection currently
// joined to the conversation's room. Safe to call from any goroutine.
func (h *Hub) BroadcastToConversation(conversationID string, event Event) {
	select {
	case h.broadcast <- roomBroadcast{conversationID: conversationID, event: event}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) broadcastToRoom(msg roomBroadcast) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()

	broadcastsTotal.Inc()

	data, err := json.Marshal(msg.event)
	if err != nil {
		log.Printf("Error marshalling broadcast: %v", err)
		return
	}

	for client := range h.rooms[msg.conversationID] {
		client.enqueueRaw(data)
	}
}

// SendToUser delivers an event to every connection the user holds,
// regardless of which rooms they joined. No-op when the user is offline.
func (h *Hub) SendToUser(userID string, event Event) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling event: %v", err)
		return
	}

	for client := range h.clients[userID] {
		client.enqueueRaw(data)
	}
}

// broadcastAll sends an event to every connection except skip
func (h *Hub) broadcastAll(event Event, skip *Client) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling event: %v", err)
		return
	}

	for _, conns := range h.clients {
		for client := range conns {
			if client == skip {
				continue
			}
			client.enqueueRaw(data)
		}
	}
}

// ActiveConnections reports how many connections are registered
func (h *Hub) ActiveConnections() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return h.connectionCountLocked()
}

func (h *Hub) cleanup() {
	h.clientsMux.Lock()
	for _, conns := range h.clients {
		for client := range conns {
			client.close()
		}
	}
	h.clients = make(map[string]map[*Client]bool)
	h.rooms = make(map[string]map[*Client]bool)
	h.clientsMux.Unlock()
}
