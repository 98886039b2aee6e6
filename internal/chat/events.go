// internal/chat/events.go
// Wire protocol for the realtime gateway. Every frame is an Event envelope;
// payload shapes are fixed per event type.

package chat

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hearsayhq/hearsay-backend/internal/common/utils"
)

// Event is the envelope for every frame in either direction
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client -> server event types
const (
	EventAuth              = "auth"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventDeleteMessage     = "delete_message"
)

// Server -> client event types
const (
	EventNewMessage     = "new_message"
	EventMessageSentAck = "message_sent_ack"
	EventMessageDeleted = "message_deleted"
	EventUnreadUpdated  = "unread_updated"

	EventUserOnline  = "presence:user_online"
	EventUserOffline = "presence:user_offline"
	EventOnlineUsers = "presence:online_users"

	EventErrUnauthorized = "error:unauthorized"
	EventErrValidation   = "error:validation"
	EventErrRateLimited  = "error:rate_limited"
)

// Client -> server payloads

type AuthPayload struct {
	Token string `json:"token" validate:"required"`
}

type JoinConversationPayload struct {
	ConversationID string `json:"conversationId" validate:"required,len=24,hexadecimal"`
}

type SendMessagePayload struct {
	ConversationID string  `json:"conversationId" validate:"required,len=24,hexadecimal"`
	Content        string  `json:"content" validate:"required,min=1,max=2000"`
	ClientTempID   *string `json:"clientTempId,omitempty" validate:"omitempty,min=1,max=64"`
}

type DeleteMessagePayload struct {
	ConversationID string `json:"conversationId" validate:"required,len=24,hexadecimal"`
	MessageID      string `json:"messageId" validate:"required,len=24,hexadecimal"`
	Scope          string `json:"scope" validate:"required,oneof=me everyone"`
}

// Server -> client payloads

type NewMessageEvent struct {
	ConversationID string   `json:"conversationId"`
	Message        *Message `json:"message"`
}

type MessageSentAckEvent struct {
	ClientTempID *string  `json:"clientTempId"`
	Message      *Message `json:"message"`
}

type MessageDeletedEvent struct {
	ConversationID string  `json:"conversationId"`
	MessageID      string  `json:"messageId"`
	Scope          string  `json:"scope"`
	Content        *string `json:"content,omitempty"`
}

type UnreadUpdatedEvent struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
}

type OnlineUsersEvent struct {
	UserIDs []string `json:"userIds"`
}

type ErrorEvent struct {
	Message string             `json:"message"`
	Errors  []utils.FieldError `json:"errors,omitempty"`
}

// NewEvent builds an Event with a marshalled payload
func NewEvent(eventType string, payload interface{}) Event {
	return Event{
		Type: eventType,
		Data: mustMarshal(payload),
	}
}

// NewErrorEvent builds an error:* event with a human-readable message
func NewErrorEvent(eventType, message string) Event {
	return NewEvent(eventType, ErrorEvent{Message: message})
}

// NewValidationErrorEvent carries field-level issues back to the sender
func NewValidationErrorEvent(message string, issues []utils.FieldError) Event {
	return NewEvent(EventErrValidation, ErrorEvent{Message: message, Errors: issues})
}

// heartbeat and framing constants shared by the client pumps
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the first (auth) frame after connecting
	authWait = 10 * time.Second

	// Maximum frame size allowed from peer
	maxMessageSize = 8 * 1024
)

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling event payload: %v", err)
		return json.RawMessage(`{}`)
	}
	return data
}
