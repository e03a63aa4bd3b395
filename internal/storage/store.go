package storage

import (
	"context"
	"time"
)

// AuthStore holds short-lived auth state: revoked JWT IDs (logout) and
// per-key attempt counters for credential endpoints.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type AuthStore interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	CheckRateLimit(ctx context.Context, key string) (allowed bool, err error)
	Close() error
}
