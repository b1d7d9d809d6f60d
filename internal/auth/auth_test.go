package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/kv"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*domain.User)}
}

func (m *memUserStore) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return domain.ErrEmailTaken
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *memUserStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (m *memUserStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(newMemUserStore(), kv.New(rdb),
		strings.Repeat("a", 32), strings.Repeat("r", 32),
		15*time.Minute, 7*24*time.Hour,
		WithBcryptCost(bcrypt.MinCost))
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, pair, err := s.Signup(ctx, "Alice@Example.com", "Alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	uid, err := s.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, uid)

	_, _, err = s.Signup(ctx, "alice@example.com", "Other", "password123")
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	_, loginPair, err := s.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, loginPair.AccessToken)
}

func TestLoginNeverDistinguishesFailures(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, _, err := s.Signup(ctx, "bob@example.com", "Bob", "password123")
	require.NoError(t, err)

	_, _, wrongPassword := s.Login(ctx, "bob@example.com", "not-the-password")
	_, _, unknownEmail := s.Login(ctx, "nobody@example.com", "password123")

	assert.ErrorIs(t, wrongPassword, domain.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, domain.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestRefreshRotationInvalidatesPredecessor(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, pair, err := s.Signup(ctx, "carol@example.com", "Carol", "password123")
	require.NoError(t, err)

	rotated, err := s.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The pre-rotation token no longer matches the stored binding.
	_, err = s.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	// The rotated token still works.
	_, err = s.Refresh(ctx, rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestLogoutRevokesRefresh(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, pair, err := s.Signup(ctx, "dave@example.com", "Dave", "password123")
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx, user.ID))
	_, err = s.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
}

func TestVerifyAccessRejectsGarbage(t *testing.T) {
	s := newTestService(t)

	_, err := s.VerifyAccess("not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	// Refresh tokens are signed with the other secret and must not pass
	// as access tokens.
	_, pair, err := s.Signup(context.Background(), "erin@example.com", "Erin", "password123")
	require.NoError(t, err)
	_, err = s.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}
