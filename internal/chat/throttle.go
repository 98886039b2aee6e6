// internal/chat/throttle.go

package chat

import (
	"sync"
	"time"
)

// Throttle enforces a per-connection sliding window on socket sends. It is
// deliberately separate from the HTTP rate limiter: sockets are keyed by
// connection, have a much tighter window, and reject with an event rather
// than a status code.
type Throttle struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time

	now func() time.Time
}

func NewThrottle(max int, window time.Duration) *Throttle {
	return &Throttle{
		max:     max,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one send attempt for key and reports whether it fits in the
// window. Rejected attempts are not recorded.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)

	times := t.buckets[key]
	valid := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= t.max {
		t.buckets[key] = valid
		return false
	}

	t.buckets[key] = append(valid, now)
	return true
}

// Forget drops the bucket for key; called once the user's last connection closes
func (t *Throttle) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, key)
}
