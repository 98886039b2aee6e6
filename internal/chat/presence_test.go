// internal/chat/presence_test.go

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceTracker(t *testing.T) {
	p := NewPresenceTracker()

	assert.False(t, p.IsOnline("alice"))
	assert.Empty(t, p.Snapshot())

	// Only the first connection flips the user online
	assert.True(t, p.Connect("alice"))
	assert.False(t, p.Connect("alice"))
	assert.True(t, p.IsOnline("alice"))

	assert.True(t, p.Connect("bob"))
	assert.ElementsMatch(t, []string{"alice", "bob"}, p.Snapshot())

	// Only the last disconnect flips the user offline
	assert.False(t, p.Disconnect("alice"))
	assert.True(t, p.IsOnline("alice"))
	assert.True(t, p.Disconnect("alice"))
	assert.False(t, p.IsOnline("alice"))

	// Disconnecting an unknown user is a no-op
	assert.False(t, p.Disconnect("nobody"))

	assert.Equal(t, []string{"bob"}, p.Snapshot())
}
