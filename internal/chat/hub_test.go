// internal/chat/hub_test.go

package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, 16),
		userID: userID,
	}
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()

	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var event Event
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func recvNothing(t *testing.T, c *Client) {
	t.Helper()

	select {
	case data, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected event: %s", data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub(NewPresenceTracker())
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func register(t *testing.T, hub *Hub, c *Client) {
	t.Helper()

	hub.register <- c
	// Every registration delivers the online roster to the new connection
	event := recvEvent(t, c)
	require.Equal(t, EventOnlineUsers, event.Type)
}

func TestHubPresenceEvents(t *testing.T) {
	hub := startHub(t)

	alice := newTestClient(hub, "alice")
	register(t, hub, alice)

	var roster OnlineUsersEvent
	// Re-register a second connection to inspect the roster snapshot
	alice2 := newTestClient(hub, "alice")
	hub.register <- alice2
	event := recvEvent(t, alice2)
	require.Equal(t, EventOnlineUsers, event.Type)
	require.NoError(t, json.Unmarshal(event.Data, &roster))
	assert.Equal(t, []string{"alice"}, roster.UserIDs)

	// A second connection for the same user emits no online event
	recvNothing(t, alice)

	// A new user's first connection is broadcast to everyone else
	bob := newTestClient(hub, "bob")
	register(t, hub, bob)

	online := recvEvent(t, alice)
	assert.Equal(t, EventUserOnline, online.Type)
	var presence PresenceEvent
	require.NoError(t, json.Unmarshal(online.Data, &presence))
	assert.Equal(t, "bob", presence.UserID)

	// Dropping one of two connections is not an offline transition
	hub.unregister <- alice2
	recvNothing(t, bob)

	hub.unregister <- alice
	offline := recvEvent(t, bob)
	assert.Equal(t, EventUserOffline, offline.Type)
	require.NoError(t, json.Unmarshal(offline.Data, &presence))
	assert.Equal(t, "alice", presence.UserID)
}

func TestHubRoomBroadcast(t *testing.T) {
	hub := startHub(t)

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	carol := newTestClient(hub, "carol")
	register(t, hub, alice)
	register(t, hub, bob)
	register(t, hub, carol)

	// drain the presence events the earlier registrations produced
	recvEvent(t, alice) // bob online
	recvEvent(t, alice) // carol online
	recvEvent(t, bob)   // carol online

	hub.JoinRoom("conv-1", alice)
	hub.JoinRoom("conv-1", bob)

	hub.BroadcastToConversation("conv-1", NewEvent(EventNewMessage, NewMessageEvent{ConversationID: "conv-1"}))

	assert.Equal(t, EventNewMessage, recvEvent(t, alice).Type)
	assert.Equal(t, EventNewMessage, recvEvent(t, bob).Type)
	recvNothing(t, carol)

	// Leaving the room stops delivery
	hub.LeaveRoom("conv-1", bob)
	hub.BroadcastToConversation("conv-1", NewEvent(EventNewMessage, NewMessageEvent{ConversationID: "conv-1"}))
	assert.Equal(t, EventNewMessage, recvEvent(t, alice).Type)
	recvNothing(t, bob)
}

func TestHubSendToUser(t *testing.T) {
	hub := startHub(t)

	alice1 := newTestClient(hub, "alice")
	alice2 := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	register(t, hub, alice1)
	hub.register <- alice2
	recvEvent(t, alice2) // roster
	register(t, hub, bob)

	recvEvent(t, alice1) // bob online
	recvEvent(t, alice2) // bob online

	hub.SendToUser("alice", NewEvent(EventUnreadUpdated, UnreadUpdatedEvent{ConversationID: "c", UnreadCount: 3}))

	for _, c := range []*Client{alice1, alice2} {
		event := recvEvent(t, c)
		require.Equal(t, EventUnreadUpdated, event.Type)
		var payload UnreadUpdatedEvent
		require.NoError(t, json.Unmarshal(event.Data, &payload))
		assert.Equal(t, 3, payload.UnreadCount)
	}
	recvNothing(t, bob)

	// Sending to an offline user is a no-op
	hub.SendToUser("nobody", NewEvent(EventUnreadUpdated, UnreadUpdatedEvent{}))
}

func TestHubActiveConnections(t *testing.T) {
	hub := startHub(t)
	assert.Equal(t, 0, hub.ActiveConnections())

	alice := newTestClient(hub, "alice")
	register(t, hub, alice)
	assert.Equal(t, 1, hub.ActiveConnections())

	hub.unregister <- alice
	require.Eventually(t, func() bool {
		return hub.ActiveConnections() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHubThrottleSurvivesPartialDisconnect(t *testing.T) {
	hub := startHub(t)
	throttle := NewThrottle(2, time.Minute)

	alice1 := newTestClient(hub, "alice")
	alice2 := newTestClient(hub, "alice")
	alice1.throttle = throttle
	alice2.throttle = throttle
	register(t, hub, alice1)
	hub.register <- alice2
	recvEvent(t, alice2) // roster

	// Exhaust the per-user budget shared by both connections
	require.True(t, throttle.Allow("alice"))
	require.True(t, throttle.Allow("alice"))
	require.False(t, throttle.Allow("alice"))

	// One device dropping must not hand the others a fresh window
	hub.unregister <- alice2
	require.Eventually(t, func() bool {
		return hub.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)
	assert.False(t, throttle.Allow("alice"))

	// The bucket is released once the last connection is gone
	hub.unregister <- alice1
	require.Eventually(t, func() bool {
		return hub.ActiveConnections() == 0
	}, time.Second, 10*time.Millisecond)
	assert.True(t, throttle.Allow("alice"))
}
