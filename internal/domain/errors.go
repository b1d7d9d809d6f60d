package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by the store, the services, and both delivery
// boundaries (HTTP and realtime). Wrap with %w so errors.Is survives
// the usual fmt.Errorf chains.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalid      = errors.New("invalid")
	ErrUnavailable  = errors.New("unavailable")
)

// Auth error tags surfaced verbatim to clients.
var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid_credentials", ErrUnauthorized)
	ErrEmailTaken         = fmt.Errorf("%w: email_taken", ErrConflict)
	ErrInvalidToken       = fmt.Errorf("%w: invalid_token", ErrUnauthorized)
	ErrTokenRevoked       = fmt.Errorf("%w: token_revoked", ErrUnauthorized)
	ErrUserNotFound       = fmt.Errorf("%w: user_not_found", ErrNotFound)
)

// ErrConversationNotFound collapses "no such conversation" and "not a
// member" into one failure mode on purpose.
var ErrConversationNotFound = fmt.Errorf("%w: Conversation not found", ErrNotFound)

// ErrCallInProgress guards the at-most-one-live-call-per-conversation rule.
var ErrCallInProgress = fmt.Errorf("%w: A call is already in progress", ErrConflict)

// Invalidf returns a validation error with a client-facing message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Forbiddenf returns an authorization error with a client-facing message.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Conflictf returns a conflict error with a client-facing message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// UserMessage strips the sentinel prefix so clients see only the
// human-readable part ("conflict: call is not ringing" -> "call is not
// ringing"). Errors without a known sentinel are reported generically.
func UserMessage(err error) string {
	for _, sentinel := range []error{ErrInvalid, ErrConflict, ErrForbidden, ErrUnauthorized, ErrNotFound, ErrUnavailable} {
		if errors.Is(err, sentinel) {
			msg := err.Error()
			if prefix := sentinel.Error() + ": "; strings.HasPrefix(msg, prefix) {
				return msg[len(prefix):]
			}
			return msg
		}
	}
	return "internal error"
}
