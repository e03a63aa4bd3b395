package memory

import (
	"context"
	"sync"
	"time"
)

const (
	authRateLimitWindow = 600 * time.Second
	authRateLimitMax    = 10
)

type Client struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	limit   map[string][]time.Time
}

func New() *Client {
	return &Client{
		revoked: make(map[string]time.Time),
		limit:   make(map[string][]time.Time),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[jti] = time.Now().Add(ttl)
	return nil
}

func (c *Client) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	c.mu.RLock()
	exp, ok := c.revoked[jti]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		c.mu.Lock()
		delete(c.revoked, jti)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *Client) CheckRateLimit(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cut := now.Add(-authRateLimitWindow)
	var kept []time.Time
	for _, t := range c.limit[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= authRateLimitMax {
		c.limit[key] = kept
		return false, nil
	}
	c.limit[key] = append(kept, now)
	return true, nil
}
