// Package kv adapts redis for presence markers and refresh-token
// bindings.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ripplechat/ripple/internal/domain"
)

type KV struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *KV {
	return &KV{rdb: rdb}
}

// Connect parses the redis URL and verifies connectivity.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse kv url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping kv: %w", err)
	}
	return rdb, nil
}

func (k *KV) Client() *redis.Client {
	return k.rdb
}

func refreshKey(userID string) string { return "refresh:" + userID }
func onlineKey(userID string) string  { return "online:" + userID }

// StoreRefreshToken binds the user's current refresh token. One binding
// per user; storing replaces any predecessor.
func (k *KV) StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	if err := k.rdb.Set(ctx, refreshKey(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns the stored binding. A missing key surfaces as
// domain.ErrTokenRevoked: the token was rotated away or logged out.
func (k *KV) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	token, err := k.rdb.Get(ctx, refreshKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrTokenRevoked
	}
	if err != nil {
		return "", fmt.Errorf("get refresh token: %w", err)
	}
	return token, nil
}

func (k *KV) DeleteRefreshToken(ctx context.Context, userID string) error {
	if err := k.rdb.Del(ctx, refreshKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (k *KV) SetOnline(ctx context.Context, userID string) error {
	if err := k.rdb.Set(ctx, onlineKey(userID), "1", 0).Err(); err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

func (k *KV) SetOffline(ctx context.Context, userID string) error {
	if err := k.rdb.Del(ctx, onlineKey(userID)).Err(); err != nil {
		return fmt.Errorf("set offline: %w", err)
	}
	return nil
}

func (k *KV) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := k.rdb.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("is online: %w", err)
	}
	return n > 0, nil
}
