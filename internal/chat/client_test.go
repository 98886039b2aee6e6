// internal/chat/client_test.go

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// stubService cans the chat core so socket behavior can be tested alone
type stubService struct {
	conv        *Conversation
	msg         *Message
	deleted     *Message
	participant bool
	sendErr     error
}

func (s *stubService) GetOrCreateDM(ctx context.Context, callerHex, identifier string) (*Conversation, bool, error) {
	return s.conv, false, nil
}

func (s *stubService) CreateGroup(ctx context.Context, callerHex, name string, participantIDs []string) (*Conversation, error) {
	return s.conv, nil
}

func (s *stubService) ListConversations(ctx context.Context, callerHex string) ([]*Conversation, error) {
	return nil, nil
}

func (s *stubService) MarkRead(ctx context.Context, convHex, callerHex string) error { return nil }

func (s *stubService) SendMessage(ctx context.Context, convHex, callerHex, content string) (*Conversation, *Message, error) {
	if s.sendErr != nil {
		return nil, nil, s.sendErr
	}
	return s.conv, s.msg, nil
}

func (s *stubService) ListMessages(ctx context.Context, convHex, callerHex string, cursor *time.Time, limit int64) (*MessagePage, error) {
	return &MessagePage{}, nil
}

func (s *stubService) DeleteMessage(ctx context.Context, convHex, msgHex, callerHex, scope string) (*Message, error) {
	return s.deleted, nil
}

func (s *stubService) IsParticipant(ctx context.Context, convHex, callerHex string) (bool, error) {
	return s.participant, nil
}

// gateway spins a hub and a websocket endpoint around the stub service.
// Tokens are trivially the user id they authenticate, except "bad".
type gateway struct {
	hub    *Hub
	server *httptest.Server
}

func newGateway(t *testing.T, service Service, throttle *Throttle) *gateway {
	t.Helper()

	hub := NewHub(NewPresenceTracker())
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	verify := func(token string) (string, error) {
		if token == "bad" {
			return "", errors.New("invalid token")
		}
		return token, nil
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		NewClient(hub, conn, service, throttle, verify).Start()
	}))
	t.Cleanup(server.Close)

	return &gateway{hub: hub, server: server}
}

func (g *gateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(g.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload interface{}) {
	t.Helper()

	data, err := json.Marshal(NewEvent(eventType, payload))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

// connect authenticates as userID and consumes the roster event
func (g *gateway) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	conn := g.dial(t)
	sendEvent(t, conn, EventAuth, AuthPayload{Token: userID})
	event := readEvent(t, conn)
	require.Equal(t, EventOnlineUsers, event.Type)
	return conn
}

func testMessage(conv *Conversation, sender primitive.ObjectID) *Message {
	return &Message{
		ID:             primitive.NewObjectID(),
		ConversationID: conv.ID,
		SenderID:       sender,
		Content:        "hello there",
		MessageType:    "text",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestClientAuth(t *testing.T) {
	service := &stubService{participant: true}
	g := newGateway(t, service, NewThrottle(10, time.Minute))

	t.Run("invalid token is rejected", func(t *testing.T) {
		conn := g.dial(t)
		sendEvent(t, conn, EventAuth, AuthPayload{Token: "bad"})

		event := readEvent(t, conn)
		assert.Equal(t, EventErrUnauthorized, event.Type)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, "connection should be closed after rejection")
	})

	t.Run("first frame must be auth", func(t *testing.T) {
		conn := g.dial(t)
		sendEvent(t, conn, EventSendMessage, SendMessagePayload{})

		event := readEvent(t, conn)
		assert.Equal(t, EventErrUnauthorized, event.Type)
	})

	t.Run("valid token yields the online roster", func(t *testing.T) {
		conn := g.connect(t, "alice")
		_ = conn
	})
}

func TestClientSendMessage(t *testing.T) {
	aliceID := primitive.NewObjectID()
	bobID := primitive.NewObjectID()
	conv := &Conversation{
		ID:           primitive.NewObjectID(),
		Type:         ConversationDM,
		Participants: []primitive.ObjectID{aliceID, bobID},
		UnreadCounts: map[string]int{aliceID.Hex(): 0, bobID.Hex(): 2},
	}
	service := &stubService{
		conv:        conv,
		msg:         testMessage(conv, aliceID),
		participant: true,
	}
	g := newGateway(t, service, NewThrottle(10, time.Minute))

	bob := g.connect(t, bobID.Hex())
	alice := g.connect(t, aliceID.Hex())

	// bob sees alice come online
	event := readEvent(t, bob)
	require.Equal(t, EventUserOnline, event.Type)

	// alice's phone: a second connection under the same user
	alicePhone := g.connect(t, aliceID.Hex())

	sendEvent(t, alice, EventJoinConversation, JoinConversationPayload{ConversationID: conv.ID.Hex()})

	clientTempID := "tmp-1"
	sendEvent(t, alice, EventSendMessage, SendMessagePayload{
		ConversationID: conv.ID.Hex(),
		Content:        "hello there",
		ClientTempID:   &clientTempID,
	})

	// The sender gets the ack first, then the room broadcast
	event = readEvent(t, alice)
	require.Equal(t, EventMessageSentAck, event.Type)
	var ack MessageSentAckEvent
	require.NoError(t, json.Unmarshal(event.Data, &ack))
	require.NotNil(t, ack.ClientTempID)
	assert.Equal(t, clientTempID, *ack.ClientTempID)
	assert.Equal(t, "hello there", ack.Message.Content)

	event = readEvent(t, alice)
	require.Equal(t, EventNewMessage, event.Type)

	// bob is not in the room but still gets his unread counter
	event = readEvent(t, bob)
	require.Equal(t, EventUnreadUpdated, event.Type)
	var unread UnreadUpdatedEvent
	require.NoError(t, json.Unmarshal(event.Data, &unread))
	assert.Equal(t, conv.ID.Hex(), unread.ConversationID)
	assert.Equal(t, 2, unread.UnreadCount)

	// The sender's other devices get the counter too, so they converge on zero
	event = readEvent(t, alicePhone)
	require.Equal(t, EventUnreadUpdated, event.Type)
	require.NoError(t, json.Unmarshal(event.Data, &unread))
	assert.Equal(t, conv.ID.Hex(), unread.ConversationID)
	assert.Equal(t, 0, unread.UnreadCount)
}

func TestClientThrottle(t *testing.T) {
	aliceID := primitive.NewObjectID()
	conv := &Conversation{
		ID:           primitive.NewObjectID(),
		Participants: []primitive.ObjectID{aliceID},
		UnreadCounts: map[string]int{aliceID.Hex(): 0},
	}
	service := &stubService{conv: conv, msg: testMessage(conv, aliceID), participant: true}
	g := newGateway(t, service, NewThrottle(1, time.Minute))

	alice := g.connect(t, aliceID.Hex())

	payload := SendMessagePayload{ConversationID: conv.ID.Hex(), Content: "one"}
	sendEvent(t, alice, EventSendMessage, payload)
	event := readEvent(t, alice)
	require.Equal(t, EventMessageSentAck, event.Type)

	sendEvent(t, alice, EventSendMessage, payload)
	event = readEvent(t, alice)
	assert.Equal(t, EventErrRateLimited, event.Type)
}

// A flood of malformed sends burns the window the same as valid ones,
// so validation failures cannot be used to dodge the limit.
func TestClientThrottleCountsInvalidSends(t *testing.T) {
	service := &stubService{participant: true}
	g := newGateway(t, service, NewThrottle(1, time.Minute))

	alice := g.connect(t, "alice")

	sendEvent(t, alice, EventSendMessage, SendMessagePayload{})
	event := readEvent(t, alice)
	require.Equal(t, EventErrValidation, event.Type)

	sendEvent(t, alice, EventSendMessage, SendMessagePayload{})
	event = readEvent(t, alice)
	assert.Equal(t, EventErrRateLimited, event.Type)
}

func TestClientValidation(t *testing.T) {
	service := &stubService{participant: true}
	g := newGateway(t, service, NewThrottle(10, time.Minute))

	alice := g.connect(t, "alice")

	t.Run("missing content", func(t *testing.T) {
		sendEvent(t, alice, EventSendMessage, SendMessagePayload{
			ConversationID: primitive.NewObjectID().Hex(),
		})

		event := readEvent(t, alice)
		require.Equal(t, EventErrValidation, event.Type)
		var payload ErrorEvent
		require.NoError(t, json.Unmarshal(event.Data, &payload))
		assert.NotEmpty(t, payload.Errors)
	})

	t.Run("unknown event type", func(t *testing.T) {
		sendEvent(t, alice, "shrug", struct{}{})
		event := readEvent(t, alice)
		assert.Equal(t, EventErrValidation, event.Type)
	})

	t.Run("join requires membership", func(t *testing.T) {
		service.participant = false
		defer func() { service.participant = true }()

		sendEvent(t, alice, EventJoinConversation, JoinConversationPayload{
			ConversationID: primitive.NewObjectID().Hex(),
		})
		event := readEvent(t, alice)
		assert.Equal(t, EventErrUnauthorized, event.Type)
	})
}

func TestClientDeleteMessage(t *testing.T) {
	aliceID := primitive.NewObjectID()
	conv := &Conversation{
		ID:           primitive.NewObjectID(),
		Participants: []primitive.ObjectID{aliceID},
		UnreadCounts: map[string]int{aliceID.Hex(): 0},
	}
	deleted := testMessage(conv, aliceID)
	deleted.Content = TombstoneText
	deleted.IsDeletedForEveryone = true
	service := &stubService{conv: conv, deleted: deleted, participant: true}
	g := newGateway(t, service, NewThrottle(10, time.Minute))

	alice := g.connect(t, aliceID.Hex())

	sendEvent(t, alice, EventJoinConversation, JoinConversationPayload{ConversationID: conv.ID.Hex()})
	sendEvent(t, alice, EventDeleteMessage, DeleteMessagePayload{
		ConversationID: conv.ID.Hex(),
		MessageID:      deleted.ID.Hex(),
		Scope:          "everyone",
	})

	event := readEvent(t, alice)
	require.Equal(t, EventMessageDeleted, event.Type)
	var payload MessageDeletedEvent
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, "everyone", payload.Scope)
	require.NotNil(t, payload.Content)
	assert.Equal(t, TombstoneText, *payload.Content)
}
