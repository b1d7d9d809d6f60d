package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/domain"
)

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestRefreshTokenLifecycle(t *testing.T) {
	k, mr := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, k.StoreRefreshToken(ctx, "usr_1", "token-a", 7*24*time.Hour))

	got, err := k.GetRefreshToken(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, "token-a", got)

	// Rotation replaces the binding; only the new token matches.
	require.NoError(t, k.StoreRefreshToken(ctx, "usr_1", "token-b", 7*24*time.Hour))
	got, err = k.GetRefreshToken(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, "token-b", got)

	require.NoError(t, k.DeleteRefreshToken(ctx, "usr_1"))
	_, err = k.GetRefreshToken(ctx, "usr_1")
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	// TTL is applied.
	require.NoError(t, k.StoreRefreshToken(ctx, "usr_2", "token-c", time.Hour))
	mr.FastForward(2 * time.Hour)
	_, err = k.GetRefreshToken(ctx, "usr_2")
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
}

func TestOnlineMarkers(t *testing.T) {
	k, _ := newTestKV(t)
	ctx := context.Background()

	online, err := k.IsOnline(ctx, "usr_1")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, k.SetOnline(ctx, "usr_1"))
	online, err = k.IsOnline(ctx, "usr_1")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, k.SetOffline(ctx, "usr_1"))
	online, err = k.IsOnline(ctx, "usr_1")
	require.NoError(t, err)
	assert.False(t, online)
}
