// Package auth implements password auth and the access/refresh token
// scheme used by both the HTTP API and the realtime handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/id"
)

// BcryptCost is the production work factor.
const BcryptCost = 12

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

type TokenStore interface {
	StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	DeleteRefreshToken(ctx context.Context, userID string) error
}

type Service struct {
	users  UserStore
	tokens TokenStore

	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	bcryptCost    int
}

type Option func(*Service)

// WithBcryptCost overrides the hash work factor; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func New(users UserStore, tokens TokenStore, accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		users:         users,
		tokens:        tokens,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		bcryptCost:    BcryptCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Signup(ctx context.Context, email, name, password string) (*domain.User, *TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, domain.Invalidf("a valid email is required")
	}
	if name == "" {
		return nil, nil, domain.Invalidf("name is required")
	}
	if len(password) < 8 {
		return nil, nil, domain.Invalidf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           id.NewUser(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login never reveals whether the email exists; both unknown email and
// wrong password yield invalid_credentials.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, *TokenPair, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, domain.ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh rotates the pair. The presented token must match the stored
// binding exactly; anything else is token_revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := parseToken(refreshToken, s.refreshSecret)
	if err != nil {
		return nil, err
	}

	stored, err := s.tokens.GetRefreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stored != refreshToken {
		return nil, domain.ErrTokenRevoked
	}

	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	return s.issuePair(ctx, userID)
}

func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.tokens.DeleteRefreshToken(ctx, userID)
}

// VerifyAccess validates an access token and returns its user id. Used
// by HTTP middleware and the socket handshake.
func (s *Service) VerifyAccess(token string) (string, error) {
	return parseToken(token, s.accessSecret)
}

func (s *Service) issuePair(ctx context.Context, userID string) (*TokenPair, error) {
	access, err := mintToken(userID, s.accessSecret, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := mintToken(userID, s.refreshSecret, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.StoreRefreshToken(ctx, userID, refresh, s.refreshTTL); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
