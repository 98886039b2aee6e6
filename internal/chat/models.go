// internal/chat/models.go

package chat

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hearsayhq/hearsay-backend/internal/users"
)

// Conversation kinds
const (
	ConversationDM    = "dm"
	ConversationGroup = "group"
)

// TombstoneText permanently replaces the content of a message deleted for
// everyone. Clients render it verbatim.
const TombstoneText = "This message was deleted"

// Conversation represents a chat conversation
type Conversation struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Type          string               `bson:"type" json:"type"`
	Name          *string              `bson:"name,omitempty" json:"name,omitempty"`
	DMKey         *string              `bson:"dmKey,omitempty" json:"-"`
	Participants  []primitive.ObjectID `bson:"participants" json:"-"`
	Admins        []primitive.ObjectID `bson:"admins" json:"-"`
	CreatedBy     primitive.ObjectID   `bson:"createdBy" json:"createdBy"`
	LastMessageID *primitive.ObjectID  `bson:"lastMessage,omitempty" json:"-"`
	LastMessageAt time.Time            `bson:"lastMessageAt" json:"lastMessageAt"`
	UnreadCounts  map[string]int       `bson:"unreadCounts" json:"-"`
	CreatedAt     time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt" json:"updatedAt"`

	// Computed fields
	ParticipantInfos []*users.Summary `bson:"-" json:"participants,omitempty"`
	AdminInfos       []*users.Summary `bson:"-" json:"admins,omitempty"`
	UnreadCount      int              `bson:"-" json:"unreadCount"`
	LastMessage      *Message         `bson:"-" json:"lastMessage"`
}

// HasParticipant reports whether userID is in the participant set
func (c *Conversation) HasParticipant(userID primitive.ObjectID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message represents a chat message
type Message struct {
	ID                   primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	ConversationID       primitive.ObjectID   `bson:"conversationId" json:"conversationId"`
	SenderID             primitive.ObjectID   `bson:"sender" json:"-"`
	Content              string               `bson:"content" json:"content"`
	MessageType          string               `bson:"messageType" json:"messageType"`
	ReadBy               []primitive.ObjectID `bson:"readBy" json:"readBy"`
	DeletedFor           []primitive.ObjectID `bson:"deletedFor" json:"-"`
	IsDeletedForEveryone bool                 `bson:"isDeletedForEveryone" json:"isDeletedForEveryone"`
	DeletedAt            *time.Time           `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	DeletedBy            *primitive.ObjectID  `bson:"deletedBy,omitempty" json:"-"`
	CreatedAt            time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt            time.Time            `bson:"updatedAt" json:"updatedAt"`

	// Computed fields
	Sender *users.Summary `bson:"-" json:"sender,omitempty"`
}

// DeletedForUser reports whether userID has hidden this message for themselves
func (m *Message) DeletedForUser(userID primitive.ObjectID) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// MessagePage is one page of conversation history, oldest first
type MessagePage struct {
	Messages   []*Message `json:"messages"`
	NextCursor *time.Time `json:"nextCursor"`
	HasMore    bool       `json:"hasMore"`
}

// BuildDMKey derives the canonical dedup key for a DM: the two participant
// ids sorted and joined, so (a,b) and (b,a) collide on the unique index.
func BuildDMKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// Request DTOs

type CreateDMRequest struct {
	ParticipantID string `json:"participantId" validate:"required,min=1,max=64"`
}

type CreateGroupRequest struct {
	Name           string   `json:"name" validate:"required,min=2,max=80"`
	ParticipantIDs []string `json:"participantIds" validate:"required,min=2,max=100,dive,len=24,hexadecimal"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=2000"`
}

type DeleteMessageRequest struct {
	Scope string `json:"scope" validate:"required,oneof=me everyone"`
}
