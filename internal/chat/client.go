// internal/chat/client.go

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearsayhq/hearsay-backend/internal/common/utils"
)

// TokenVerifier authenticates the token from the first socket frame and
// returns the user id it belongs to.
type TokenVerifier func(token string) (string, error)

// Client represents one websocket connection for one authenticated user
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	service  Service
	throttle *Throttle
	verify   TokenVerifier

	sendMu sync.RWMutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, service Service, throttle *Throttle, verify TokenVerifier) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		service:  service,
		throttle: throttle,
		verify:   verify,
	}
}

// Start authenticates the connection and runs the pumps. The first frame
// must be an auth event carrying a valid token; anything else closes the
// socket after an error:unauthorized event.
func (c *Client) Start() {
	userID, err := c.awaitAuth()
	if err != nil {
		c.rejectAuth(err)
		return
	}
	c.userID = userID

	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *Client) awaitAuth() (string, error) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", errors.New("no auth frame received")
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil || event.Type != EventAuth {
		return "", errors.New("first frame must be an auth event")
	}

	var payload AuthPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil || payload.Token == "" {
		return "", errors.New("auth token missing")
	}

	userID, err := c.verify(payload.Token)
	if err != nil {
		return "", errors.New("invalid or expired token")
	}
	return userID, nil
}

func (c *Client) rejectAuth(reason error) {
	frame, err := json.Marshal(NewErrorEvent(EventErrUnauthorized, reason.Error()))
	if err == nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.TextMessage, frame)
	}
	c.conn.Close()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Events from one connection are processed in arrival order
		c.processEvent(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) processEvent(data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.enqueue(NewErrorEvent(EventErrValidation, "malformed event"))
		return
	}

	ctx := context.Background()

	switch event.Type {
	case EventJoinConversation:
		c.handleJoin(ctx, event.Data)

	case EventLeaveConversation:
		c.handleLeave(event.Data)

	case EventSendMessage:
		c.handleSendMessage(ctx, event.Data)

	case EventDeleteMessage:
		c.handleDeleteMessage(ctx, event.Data)

	case EventAuth:
		// Already authenticated; ignore

	default:
		c.enqueue(NewErrorEvent(EventErrValidation, "unknown event type: "+event.Type))
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) {
	var payload JoinConversationPayload
	if !c.decodePayload(data, &payload) {
		return
	}

	ok, err := c.service.IsParticipant(ctx, payload.ConversationID, c.userID)
	if err != nil || !ok {
		c.enqueue(NewErrorEvent(EventErrUnauthorized, "not a participant of this conversation"))
		return
	}

	c.hub.JoinRoom(payload.ConversationID, c)
}

func (c *Client) handleLeave(data json.RawMessage) {
	var payload JoinConversationPayload
	if !c.decodePayload(data, &payload) {
		return
	}
	c.hub.LeaveRoom(payload.ConversationID, c)
}

func (c *Client) handleSendMessage(ctx context.Context, data json.RawMessage) {
	// Throttle first: malformed floods burn the window like valid ones
	if !c.throttle.Allow(c.key()) {
		throttleDropsTotal.Inc()
		c.enqueue(NewErrorEvent(EventErrRateLimited, "sending too fast, slow down"))
		return
	}

	var payload SendMessagePayload
	if !c.decodePayload(data, &payload) {
		return
	}

	start := time.Now()
	conv, msg, err := c.service.SendMessage(ctx, payload.ConversationID, c.userID, payload.Content)
	if err != nil {
		c.sendServiceError(err)
		return
	}
	sendDuration.Observe(time.Since(start).Seconds())
	messagesSentTotal.WithLabelValues("ws").Inc()

	// Only the originating connection gets the ack
	c.enqueue(NewEvent(EventMessageSentAck, MessageSentAckEvent{
		ClientTempID: payload.ClientTempID,
		Message:      msg,
	}))

	c.hub.BroadcastToConversation(conv.ID.Hex(), NewEvent(EventNewMessage, NewMessageEvent{
		ConversationID: conv.ID.Hex(),
		Message:        msg,
	}))

	// Every participant gets their own post-send counter, the sender
	// included so their other devices converge on zero
	for hex, count := range conv.UnreadCounts {
		c.hub.SendToUser(hex, NewEvent(EventUnreadUpdated, UnreadUpdatedEvent{
			ConversationID: conv.ID.Hex(),
			UnreadCount:    count,
		}))
	}
}

func (c *Client) handleDeleteMessage(ctx context.Context, data json.RawMessage) {
	var payload DeleteMessagePayload
	if !c.decodePayload(data, &payload) {
		return
	}

	msg, err := c.service.DeleteMessage(ctx, payload.ConversationID, payload.MessageID, c.userID, payload.Scope)
	if err != nil {
		c.sendServiceError(err)
		return
	}

	switch payload.Scope {
	case "everyone":
		content := msg.Content
		c.hub.BroadcastToConversation(payload.ConversationID, NewEvent(EventMessageDeleted, MessageDeletedEvent{
			ConversationID: payload.ConversationID,
			MessageID:      payload.MessageID,
			Scope:          payload.Scope,
			Content:        &content,
		}))
	default:
		// Delete-for-me is visible only to the caller's own connections
		c.hub.SendToUser(c.userID, NewEvent(EventMessageDeleted, MessageDeletedEvent{
			ConversationID: payload.ConversationID,
			MessageID:      payload.MessageID,
			Scope:          payload.Scope,
		}))
	}
}

func (c *Client) decodePayload(data json.RawMessage, payload interface{}) bool {
	if err := json.Unmarshal(data, payload); err != nil {
		c.enqueue(NewErrorEvent(EventErrValidation, "malformed payload"))
		return false
	}
	if err := utils.ValidateStruct(payload); err != nil {
		var verr *utils.ValidationError
		if errors.As(err, &verr) {
			c.enqueue(NewValidationErrorEvent("validation failed", verr.Issues))
		} else {
			c.enqueue(NewErrorEvent(EventErrValidation, err.Error()))
		}
		return false
	}
	return true
}

func (c *Client) sendServiceError(err error) {
	switch {
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotSender):
		c.enqueue(NewErrorEvent(EventErrUnauthorized, err.Error()))
	default:
		c.enqueue(NewErrorEvent(EventErrValidation, err.Error()))
	}
}

func (c *Client) enqueue(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling event: %v", err)
		return
	}
	c.enqueueRaw(data)
}

// enqueueRaw hands a frame to the write pump without blocking; a connection
// whose buffer is full is dropped rather than stalling the hub.
func (c *Client) enqueueRaw(data []byte) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		go func() { c.hub.unregister <- c }()
	}
}

// Throttle budget is per user, shared across all of their connections
func (c *Client) key() string {
	return c.userID
}

func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
