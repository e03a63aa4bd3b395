package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestNewBadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-url")
	require.Error(t, err)
}

func TestRevokeToken(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	revoked, err := c.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, c.RevokeToken(ctx, "jti-1", time.Hour))

	revoked, err = c.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	// The denylist entry disappears with the token's own expiry.
	mr.FastForward(2 * time.Hour)
	revoked, err = c.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestCheckRateLimit(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < AuthRateLimitMax; i++ {
		ok, err := c.CheckRateLimit(ctx, "login:alice")
		require.NoError(t, err)
		require.True(t, ok, "attempt %d should be allowed", i+1)
	}

	ok, err := c.CheckRateLimit(ctx, "login:alice")
	require.NoError(t, err)
	require.False(t, ok)

	// The window resets after its TTL.
	mr.FastForward(AuthRateLimitWindow*time.Second + time.Second)
	ok, err = c.CheckRateLimit(ctx, "login:alice")
	require.NoError(t, err)
	require.True(t, ok)
}
