// internal/chat/service.go
// Business logic for conversations and messages. Both the REST handlers and
// the websocket gateway go through this layer, so authorization and counter
// semantics live in exactly one place.

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hearsayhq/hearsay-backend/internal/users"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrNotSender            = errors.New("only the sender can delete a message for everyone")
	ErrSelfDM               = errors.New("cannot start a conversation with yourself")
	ErrGroupTooSmall        = errors.New("a group needs at least three distinct participants")
	ErrInvalidID            = errors.New("invalid id")
	ErrEmptyContent         = errors.New("message content cannot be empty")
	ErrContentTooLong       = errors.New("message content is too long")

	// ErrDMExists signals the unique dmKey index rejected an insert because
	// a concurrent request created the same DM first.
	ErrDMExists = errors.New("dm conversation already exists")
)

// Pagination bounds for conversation history
const (
	DefaultPageLimit = 30
	MaxPageLimit     = 100
)

// Service is the chat core API
type Service interface {
	// GetOrCreateDM finds or creates the single DM between the caller and
	// the user named by identifier (id or username). The bool reports
	// whether the conversation was created by this call.
	GetOrCreateDM(ctx context.Context, callerHex, identifier string) (*Conversation, bool, error)
	CreateGroup(ctx context.Context, callerHex, name string, participantIDs []string) (*Conversation, error)
	ListConversations(ctx context.Context, callerHex string) ([]*Conversation, error)
	MarkRead(ctx context.Context, convHex, callerHex string) error

	SendMessage(ctx context.Context, convHex, callerHex, content string) (*Conversation, *Message, error)
	ListMessages(ctx context.Context, convHex, callerHex string, cursor *time.Time, limit int64) (*MessagePage, error)
	// DeleteMessage applies scope "me" or "everyone" and returns the
	// message as it now reads for the remaining audience.
	DeleteMessage(ctx context.Context, convHex, msgHex, callerHex, scope string) (*Message, error)

	IsParticipant(ctx context.Context, convHex, callerHex string) (bool, error)
}

type chatService struct {
	repo          Repository
	usersRepo     users.Repository
	resolver      *users.Resolver
	maxContentLen int
}

// NewService creates the chat service
func NewService(repo Repository, usersRepo users.Repository, resolver *users.Resolver, maxContentLen int) Service {
	return &chatService{
		repo:          repo,
		usersRepo:     usersRepo,
		resolver:      resolver,
		maxContentLen: maxContentLen,
	}
}

func (s *chatService) GetOrCreateDM(ctx context.Context, callerHex, identifier string) (*Conversation, bool, error) {
	caller, err := primitive.ObjectIDFromHex(callerHex)
	if err != nil {
		return nil, false, ErrInvalidID
	}

	other, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, false, err
	}
	if other.ID == caller {
		return nil, false, ErrSelfDM
	}

	dmKey := BuildDMKey(callerHex, other.ID.Hex())

	existing, err := s.repo.FindDMByKey(ctx, dmKey)
	if err == nil {
		if err := s.populateConversation(ctx, existing, caller); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, false, err
	}

	conv := &Conversation{
		Type:         ConversationDM,
		DMKey:        &dmKey,
		Participants: []primitive.ObjectID{caller, other.ID},
		Admins:       []primitive.ObjectID{},
		CreatedBy:    caller,
		UnreadCounts: map[string]int{callerHex: 0, other.ID.Hex(): 0},
	}

	err = s.repo.CreateConversation(ctx, conv)
	if errors.Is(err, ErrDMExists) {
		// Lost the creation race; the winner's document is the DM
		winner, ferr := s.repo.FindDMByKey(ctx, dmKey)
		if ferr != nil {
			return nil, false, ferr
		}
		if perr := s.populateConversation(ctx, winner, caller); perr != nil {
			return nil, false, perr
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.populateConversation(ctx, conv, caller); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (s *chatService) CreateGroup(ctx context.Context, callerHex, name string, participantIDs []string) (*Conversation, error) {
	caller, err := primitive.ObjectIDFromHex(callerHex)
	if err != nil {
		return nil, ErrInvalidID
	}

	name = strings.TrimSpace(name)
	if len(name) < 2 || len(name) > 80 {
		return nil, fmt.Errorf("%w: group name must be 2-80 characters", ErrInvalidID)
	}

	// Dedupe and fold the creator in; order of first appearance is kept
	seen := map[primitive.ObjectID]bool{caller: true}
	members := []primitive.ObjectID{caller}
	for _, hex := range participantIDs {
		id, err := primitive.ObjectIDFromHex(hex)
		if err != nil {
			return nil, ErrInvalidID
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) < 3 {
		return nil, ErrGroupTooSmall
	}

	ok, err := s.usersRepo.AllExist(ctx, members)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, users.ErrUserNotFound
	}

	unread := make(map[string]int, len(members))
	for _, id := range members {
		unread[id.Hex()] = 0
	}

	conv := &Conversation{
		Type:         ConversationGroup,
		Name:         &name,
		Participants: members,
		Admins:       []primitive.ObjectID{caller},
		CreatedBy:    caller,
		UnreadCounts: unread,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	if err := s.populateConversation(ctx, conv, caller); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *chatService) ListConversations(ctx context.Context, callerHex string) ([]*Conversation, error) {
	caller, err := primitive.ObjectIDFromHex(callerHex)
	if err != nil {
		return nil, ErrInvalidID
	}

	convs, err := s.repo.ListConversationsForUser(ctx, caller)
	if err != nil {
		return nil, err
	}

	if err := s.populateConversations(ctx, convs, caller); err != nil {
		return nil, err
	}
	return convs, nil
}

func (s *chatService) MarkRead(ctx context.Context, convHex, callerHex string) error {
	convID, caller, err := parseConvAndUser(convHex, callerHex)
	if err != nil {
		return err
	}

	if _, err := s.repo.FindConversationForUser(ctx, convID, caller); err != nil {
		return err
	}

	if err := s.repo.MarkAllRead(ctx, convID, caller); err != nil {
		return err
	}
	return s.repo.ResetUnread(ctx, convID, callerHex)
}

func (s *chatService) SendMessage(ctx context.Context, convHex, callerHex, content string) (*Conversation, *Message, error) {
	convID, caller, err := parseConvAndUser(convHex, callerHex)
	if err != nil {
		return nil, nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, ErrEmptyContent
	}
	// Counted in runes, same as the payload validators
	if s.maxContentLen > 0 && utf8.RuneCountInString(content) > s.maxContentLen {
		return nil, nil, ErrContentTooLong
	}

	conv, err := s.repo.FindConversationForUser(ctx, convID, caller)
	if err != nil {
		return nil, nil, err
	}

	msg := &Message{
		ConversationID:       convID,
		SenderID:             caller,
		Content:              content,
		MessageType:          "text",
		ReadBy:               []primitive.ObjectID{caller},
		DeletedFor:           []primitive.ObjectID{},
		IsDeletedForEveryone: false,
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, nil, err
	}

	var otherHex []string
	for _, p := range conv.Participants {
		if p != caller {
			otherHex = append(otherHex, p.Hex())
		}
	}

	updated, err := s.repo.ApplyMessageSent(ctx, convID, msg.ID, msg.CreatedAt, callerHex, otherHex)
	if err != nil {
		return nil, nil, err
	}

	if err := s.populateConversation(ctx, updated, caller); err != nil {
		return nil, nil, err
	}
	if err := s.populateMessages(ctx, []*Message{msg}); err != nil {
		return nil, nil, err
	}
	return updated, msg, nil
}

func (s *chatService) ListMessages(ctx context.Context, convHex, callerHex string, cursor *time.Time, limit int64) (*MessagePage, error) {
	convID, caller, err := parseConvAndUser(convHex, callerHex)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	if _, err := s.repo.FindConversationForUser(ctx, convID, caller); err != nil {
		return nil, err
	}

	msgs, err := s.repo.ListMessagesBefore(ctx, convID, caller, cursor, limit)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{
		Messages: msgs,
		HasMore:  int64(len(msgs)) == limit,
	}
	if len(msgs) > 0 {
		// msgs is newest first; the oldest entry anchors the next page
		oldest := msgs[len(msgs)-1].CreatedAt
		page.NextCursor = &oldest

		// Present oldest first
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}

	if err := s.populateMessages(ctx, msgs); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, convHex, msgHex, callerHex, scope string) (*Message, error) {
	convID, caller, err := parseConvAndUser(convHex, callerHex)
	if err != nil {
		return nil, err
	}
	msgID, err := primitive.ObjectIDFromHex(msgHex)
	if err != nil {
		return nil, ErrInvalidID
	}

	if _, err := s.repo.FindConversationForUser(ctx, convID, caller); err != nil {
		return nil, err
	}

	msg, err := s.repo.FindMessageInConversation(ctx, convID, msgID)
	if err != nil {
		return nil, err
	}

	switch scope {
	case "me":
		if !msg.DeletedForUser(caller) {
			if err := s.repo.AddDeletedFor(ctx, msgID, caller); err != nil {
				return nil, err
			}
			msg.DeletedFor = append(msg.DeletedFor, caller)
		}
	case "everyone":
		if msg.SenderID != caller {
			return nil, ErrNotSender
		}
		if !msg.IsDeletedForEveryone {
			now := time.Now().UTC()
			if err := s.repo.TombstoneMessage(ctx, msgID, caller, now); err != nil {
				return nil, err
			}
			msg.IsDeletedForEveryone = true
			msg.Content = TombstoneText
			msg.DeletedFor = []primitive.ObjectID{}
			msg.DeletedAt = &now
			msg.DeletedBy = &caller
			msg.UpdatedAt = now
		}
	default:
		return nil, fmt.Errorf("%w: unknown delete scope %q", ErrInvalidID, scope)
	}

	if err := s.populateMessages(ctx, []*Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *chatService) IsParticipant(ctx context.Context, convHex, callerHex string) (bool, error) {
	convID, caller, err := parseConvAndUser(convHex, callerHex)
	if err != nil {
		return false, err
	}
	return s.repo.IsParticipant(ctx, convID, caller)
}

func parseConvAndUser(convHex, userHex string) (primitive.ObjectID, primitive.ObjectID, error) {
	convID, err := primitive.ObjectIDFromHex(convHex)
	if err != nil {
		return primitive.NilObjectID, primitive.NilObjectID, ErrInvalidID
	}
	userID, err := primitive.ObjectIDFromHex(userHex)
	if err != nil {
		return primitive.NilObjectID, primitive.NilObjectID, ErrInvalidID
	}
	return convID, userID, nil
}

// populateConversation fills the computed fields for one conversation as seen
// by viewer: participant summaries, the viewer's unread count, and the last
// message unless the viewer has hidden it.
func (s *chatService) populateConversation(ctx context.Context, conv *Conversation, viewer primitive.ObjectID) error {
	return s.populateConversations(ctx, []*Conversation{conv}, viewer)
}

func (s *chatService) populateConversations(ctx context.Context, convs []*Conversation, viewer primitive.ObjectID) error {
	if len(convs) == 0 {
		return nil
	}

	userIDs := map[primitive.ObjectID]bool{}
	var msgIDs []primitive.ObjectID
	for _, conv := range convs {
		for _, p := range conv.Participants {
			userIDs[p] = true
		}
		if conv.LastMessageID != nil {
			msgIDs = append(msgIDs, *conv.LastMessageID)
		}
	}

	ids := make([]primitive.ObjectID, 0, len(userIDs))
	for id := range userIDs {
		ids = append(ids, id)
	}
	found, err := s.usersRepo.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	summaries := make(map[primitive.ObjectID]*users.Summary, len(found))
	for _, u := range found {
		summaries[u.ID] = u.Summary()
	}

	lastMsgs := map[primitive.ObjectID]*Message{}
	if len(msgIDs) > 0 {
		msgs, err := s.repo.FindMessagesByIDs(ctx, msgIDs)
		if err != nil {
			return err
		}
		if err := s.populateMessagesWith(msgs, summaries); err != nil {
			return err
		}
		for _, m := range msgs {
			lastMsgs[m.ID] = m
		}
	}

	for _, conv := range convs {
		conv.ParticipantInfos = conv.ParticipantInfos[:0]
		for _, p := range conv.Participants {
			if sum, ok := summaries[p]; ok {
				conv.ParticipantInfos = append(conv.ParticipantInfos, sum)
			}
		}
		conv.AdminInfos = conv.AdminInfos[:0]
		for _, a := range conv.Admins {
			if sum, ok := summaries[a]; ok {
				conv.AdminInfos = append(conv.AdminInfos, sum)
			}
		}
		conv.UnreadCount = conv.UnreadCounts[viewer.Hex()]
		conv.LastMessage = nil
		if conv.LastMessageID != nil {
			if m, ok := lastMsgs[*conv.LastMessageID]; ok && !m.DeletedForUser(viewer) {
				conv.LastMessage = m
			}
		}
	}
	return nil
}

// populateMessages fills sender summaries on messages
func (s *chatService) populateMessages(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	senderIDs := map[primitive.ObjectID]bool{}
	for _, m := range msgs {
		senderIDs[m.SenderID] = true
	}
	ids := make([]primitive.ObjectID, 0, len(senderIDs))
	for id := range senderIDs {
		ids = append(ids, id)
	}

	found, err := s.usersRepo.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	summaries := make(map[primitive.ObjectID]*users.Summary, len(found))
	for _, u := range found {
		summaries[u.ID] = u.Summary()
	}
	return s.populateMessagesWith(msgs, summaries)
}

func (s *chatService) populateMessagesWith(msgs []*Message, summaries map[primitive.ObjectID]*users.Summary) error {
	for _, m := range msgs {
		m.Sender = summaries[m.SenderID]
	}
	return nil
}
