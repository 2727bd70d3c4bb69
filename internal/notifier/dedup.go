package notifier

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// dedupCache remembers recently queued keys until their window expires.
type dedupCache struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{until: make(map[string]time.Time)}
}

// allow reports whether key may be sent at now and, if so, suppresses it for
// window. The cache holds at most capacity keys, evicting the ones closest
// to expiry.
func (c *dedupCache) allow(key string, now time.Time, window time.Duration, capacity int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if exp, ok := c.until[key]; ok && now.Before(exp) {
		return false
	}
	for k, exp := range c.until {
		if !now.Before(exp) {
			delete(c.until, k)
		}
	}
	c.until[key] = now.Add(window)

	for capacity > 0 && len(c.until) > capacity {
		var (
			oldest string
			at     time.Time
		)
		for k, exp := range c.until {
			if oldest == "" || exp.Before(at) {
				oldest, at = k, exp
			}
		}
		delete(c.until, oldest)
	}
	return true
}

func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}

// keyOf identifies an announcement by kind, delivery, run and text.
func keyOf(n Notification) string {
	h := fnv.New64a()
	for _, part := range []string{string(n.Kind), n.DeliveryID, n.RunID, n.Text} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
