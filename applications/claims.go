package applications

import (
	"sync"
	"time"

	"gatekeeper/clock"
)

// DefaultClaimTTL outlives the longest decision path, the rejection
// reason wait.
const DefaultClaimTTL = 10 * time.Minute

// Claims guards an application against being decided twice when two
// reactions arrive close together.
type Claims interface {
	// Claim reports true to exactly one caller per message until the
	// claim is released or expires.
	Claim(messageID string) (bool, error)
	Release(messageID string) error
}

// MemoryClaims keeps claims for one process. Expired claims are dropped
// on the next Claim, so decided applications do not accumulate.
type MemoryClaims struct {
	clock clock.Clock
	ttl   time.Duration

	mu    sync.Mutex
	taken map[string]time.Time
}

func NewMemoryClaims(clk clock.Clock, ttl time.Duration) *MemoryClaims {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &MemoryClaims{clock: clk, ttl: ttl, taken: make(map[string]time.Time)}
}

func (c *MemoryClaims) Claim(messageID string) (bool, error) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, expires := range c.taken {
		if !now.Before(expires) {
			delete(c.taken, id)
		}
	}
	if _, ok := c.taken[messageID]; ok {
		return false, nil
	}
	c.taken[messageID] = now.Add(c.ttl)
	return true, nil
}

func (c *MemoryClaims) Release(messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.taken, messageID)
	return nil
}

// Len returns the number of claims still held.
func (c *MemoryClaims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.taken)
}
