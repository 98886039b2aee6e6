// internal/chat/throttle_test.go

package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottle(3, 10*time.Second)
	th.now = func() time.Time { return now }

	t.Run("allows up to max within the window", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			assert.True(t, th.Allow("conn-1"), "attempt %d", i)
		}
		assert.False(t, th.Allow("conn-1"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		assert.True(t, th.Allow("conn-2"))
	})

	t.Run("window slides", func(t *testing.T) {
		now = now.Add(11 * time.Second)
		assert.True(t, th.Allow("conn-1"))
	})

	t.Run("rejected attempts do not consume the window", func(t *testing.T) {
		th2 := NewThrottle(1, 10*time.Second)
		base := now
		th2.now = func() time.Time { return base }

		assert.True(t, th2.Allow("c"))
		for i := 0; i < 5; i++ {
			assert.False(t, th2.Allow("c"))
		}
		base = base.Add(10*time.Second + time.Millisecond)
		assert.True(t, th2.Allow("c"))
	})

	t.Run("forget clears the bucket", func(t *testing.T) {
		th3 := NewThrottle(1, time.Minute)
		assert.True(t, th3.Allow("gone"))
		assert.False(t, th3.Allow("gone"))
		th3.Forget("gone")
		assert.True(t, th3.Allow("gone"))
	})
}
