// internal/chat/mongo.go
// MongoDB implementation of the chat repository

package chat

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRepository struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewMongoRepository creates a repository over the conversations and
// messages collections
func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepository{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}
}

// EnsureIndexes creates the indexes the chat queries depend on. The sparse
// unique dmKey index is what makes the DM getOrCreate race resolvable.
func (r *mongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "dmKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("dm_key_unique"),
		},
		{
			Keys: bson.D{
				{Key: "participants", Value: 1},
				{Key: "lastMessageAt", Value: -1},
			},
			Options: options.Index().SetName("participants_recency"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}

	_, err = r.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversationId", Value: 1},
			{Key: "createdAt", Value: -1},
		},
		Options: options.Index().SetName("conversation_history"),
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	return nil
}

func (r *mongoRepository) CreateConversation(ctx context.Context, conv *Conversation) error {
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = now
	}

	res, err := r.conversations.InsertOne(ctx, conv)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDMExists
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	conv.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *mongoRepository) FindDMByKey(ctx context.Context, dmKey string) (*Conversation, error) {
	var conv Conversation
	err := r.conversations.FindOne(ctx, bson.M{"type": ConversationDM, "dmKey": dmKey}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to fetch DM: %w", err)
	}
	return &conv, nil
}

// FindConversationForUser combines the fetch with the participant check so
// authorization and lookup are one query, as every caller needs both.
func (r *mongoRepository) FindConversationForUser(ctx context.Context, convID, userID primitive.ObjectID) (*Conversation, error) {
	var conv Conversation
	err := r.conversations.FindOne(ctx, bson.M{"_id": convID, "participants": userID}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotParticipant
		}
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	return &conv, nil
}

func (r *mongoRepository) ListConversationsForUser(ctx context.Context, userID primitive.ObjectID) ([]*Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "lastMessageAt", Value: -1}})
	cursor, err := r.conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Conversation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) IsParticipant(ctx context.Context, convID, userID primitive.ObjectID) (bool, error) {
	count, err := r.conversations.CountDocuments(ctx,
		bson.M{"_id": convID, "participants": userID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return count > 0, nil
}

func (r *mongoRepository) ApplyMessageSent(ctx context.Context, convID, msgID primitive.ObjectID, sentAt time.Time, senderHex string, otherHex []string) (*Conversation, error) {
	set := bson.M{
		"lastMessage":               msgID,
		"lastMessageAt":             sentAt,
		"updatedAt":                 sentAt,
		"unreadCounts." + senderHex: 0,
	}
	inc := bson.M{}
	for _, hex := range otherHex {
		inc["unreadCounts."+hex] = 1
	}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var conv Conversation
	err := r.conversations.FindOneAndUpdate(ctx, bson.M{"_id": convID}, update, opts).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to apply message send: %w", err)
	}
	return &conv, nil
}

func (r *mongoRepository) ResetUnread(ctx context.Context, convID primitive.ObjectID, userHex string) error {
	_, err := r.conversations.UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{"$set": bson.M{"unreadCounts." + userHex: 0, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	return nil
}

func (r *mongoRepository) CreateMessage(ctx context.Context, msg *Message) error {
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	res, err := r.messages.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	msg.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *mongoRepository) FindMessageInConversation(ctx context.Context, convID, msgID primitive.ObjectID) (*Message, error) {
	var msg Message
	err := r.messages.FindOne(ctx, bson.M{"_id": msgID, "conversationId": convID}).Decode(&msg)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return &msg, nil
}

func (r *mongoRepository) FindMessagesByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := r.messages.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Message
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) ListMessagesBefore(ctx context.Context, convID, userID primitive.ObjectID, before *time.Time, limit int64) ([]*Message, error) {
	filter := bson.M{
		"conversationId": convID,
		"deletedFor":     bson.M{"$ne": userID},
	}
	if before != nil {
		filter["createdAt"] = bson.M{"$lt": *before}
	}

	// Newest first; _id breaks createdAt ties deterministically
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Message
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) MarkAllRead(ctx context.Context, convID, userID primitive.ObjectID) error {
	_, err := r.messages.UpdateMany(ctx,
		bson.M{
			"conversationId": convID,
			"sender":         bson.M{"$ne": userID},
			"readBy":         bson.M{"$ne": userID},
		},
		bson.M{"$addToSet": bson.M{"readBy": userID}})
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

func (r *mongoRepository) AddDeletedFor(ctx context.Context, msgID, userID primitive.ObjectID) error {
	_, err := r.messages.UpdateOne(ctx,
		bson.M{"_id": msgID},
		bson.M{"$addToSet": bson.M{"deletedFor": userID}})
	if err != nil {
		return fmt.Errorf("failed to delete message for user: %w", err)
	}
	return nil
}

func (r *mongoRepository) TombstoneMessage(ctx context.Context, msgID, deletedBy primitive.ObjectID, deletedAt time.Time) error {
	_, err := r.messages.UpdateOne(ctx,
		bson.M{"_id": msgID},
		bson.M{"$set": bson.M{
			"isDeletedForEveryone": true,
			"content":              TombstoneText,
			"deletedFor":           []primitive.ObjectID{},
			"deletedAt":            deletedAt,
			"deletedBy":            deletedBy,
			"updatedAt":            deletedAt,
		}})
	if err != nil {
		return fmt.Errorf("failed to tombstone message: %w", err)
	}
	return nil
}
