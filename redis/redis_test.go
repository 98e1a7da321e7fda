package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newClaims(t *testing.T, ttl time.Duration) (*Claims, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client, err := Connect(Options{Addr: server.Addr()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewClaims(client, ttl), server
}

func TestClaimIsExclusiveUntilReleased(t *testing.T) {
	claims, server := newClaims(t, time.Minute)

	ok, err := claims.Claim("m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, server.Exists(claimPrefix+"m1"))
	assert.Equal(t, time.Minute, server.TTL(claimPrefix+"m1"))

	ok, err = claims.Claim("m1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = claims.Claim("m2")
	require.NoError(t, err)
	assert.True(t, ok, "claims are per message")

	require.NoError(t, claims.Release("m1"))
	assert.False(t, server.Exists(claimPrefix+"m1"))
	ok, err = claims.Claim("m1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimExpiresAfterTTL(t *testing.T) {
	claims, server := newClaims(t, time.Minute)

	ok, err := claims.Claim("m1")
	require.NoError(t, err)
	require.True(t, ok)

	server.FastForward(59 * time.Second)
	ok, err = claims.Claim("m1")
	require.NoError(t, err)
	assert.False(t, ok)

	server.FastForward(time.Second)
	ok, err = claims.Claim("m1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimFailsWhenServerIsGone(t *testing.T) {
	claims, server := newClaims(t, time.Minute)
	server.Close()

	_, err := claims.Claim("m1")
	assert.ErrorContains(t, err, "claim m1")
}

func TestConnectFailsFast(t *testing.T) {
	_, err := Connect(Options{Addr: "127.0.0.1:1"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewClaimsDefaultsTTL(t *testing.T) {
	claims, _ := newClaims(t, 0)
	assert.Equal(t, DefaultClaimTTL, claims.ttl)
}
