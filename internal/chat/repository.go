// internal/chat/repository.go

package chat

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Repository is the persistence surface for conversations and messages.
// Counter and set mutations are expressed as single atomic updates; callers
// never read-modify-write unread counts or readBy/deletedFor membership.
type Repository interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	FindDMByKey(ctx context.Context, dmKey string) (*Conversation, error)
	FindConversationForUser(ctx context.Context, convID, userID primitive.ObjectID) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID primitive.ObjectID) ([]*Conversation, error)
	IsParticipant(ctx context.Context, convID, userID primitive.ObjectID) (bool, error)

	// ApplyMessageSent records msgID as the conversation's latest message,
	// zeroes the sender's unread counter and increments every other
	// participant's, all in one update. Returns the updated conversation.
	ApplyMessageSent(ctx context.Context, convID, msgID primitive.ObjectID, sentAt time.Time, senderHex string, otherHex []string) (*Conversation, error)
	ResetUnread(ctx context.Context, convID primitive.ObjectID, userHex string) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	FindMessageInConversation(ctx context.Context, convID, msgID primitive.ObjectID) (*Message, error)
	FindMessagesByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*Message, error)
	// ListMessagesBefore returns up to limit visible messages for userID,
	// strictly older than the cursor when given, newest first.
	ListMessagesBefore(ctx context.Context, convID, userID primitive.ObjectID, before *time.Time, limit int64) ([]*Message, error)
	MarkAllRead(ctx context.Context, convID, userID primitive.ObjectID) error
	AddDeletedFor(ctx context.Context, msgID, userID primitive.ObjectID) error
	// TombstoneMessage flips the message to deleted-for-everyone: content
	// becomes the tombstone and any per-user deletions are cleared so the
	// tombstone stays visible to all participants.
	TombstoneMessage(ctx context.Context, msgID, deletedBy primitive.ObjectID, deletedAt time.Time) error

	EnsureIndexes(ctx context.Context) error
}
