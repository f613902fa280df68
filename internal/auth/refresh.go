package auth

import (
	"context"
	"errors"
	"fmt"
)

// Session resolution outcomes reported to MetricsWriter.
const (
	EventRefresh = "refresh"
	OutcomeOK    = "success"
	OutcomeFail  = "failure"
)

// Resolution is the outcome of resolving a request's session cookies.
type Resolution struct {
	Identity Identity
	// NewAccessToken is set when the access token was renewed from the
	// refresh token; the caller must send it back as the access cookie.
	NewAccessToken string
}

// Refreshed reports whether a new access token was minted.
func (r *Resolution) Refreshed() bool {
	return r.NewAccessToken != ""
}

// SessionRefresher resolves access and refresh cookies into an identity.
//
// The refresh token is never reissued: it expires exactly RefreshTTL after
// login. Authoritative user state is always re-read on refresh because
// credits, subscription and role may change during that window.
// Concurrent refreshes for the same session are independent and safe.
type SessionRefresher struct {
	users   UserRepository
	tokens  *TokenIssuer
	metrics MetricsWriter
}

// NewSessionRefresher creates a refresher. metrics may be nil.
func NewSessionRefresher(users UserRepository, tokens *TokenIssuer, metrics MetricsWriter) *SessionRefresher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &SessionRefresher{users: users, tokens: tokens, metrics: metrics}
}

// Resolve returns the caller's identity.
//
//   - no cookies at all: ErrNoAccessToken
//   - valid access token: its claims, no database read
//   - invalid, expired or absent access token without a refresh token: ErrNoRefreshToken
//   - refresh failure of any kind: an error wrapping ErrInvalidRefreshToken
//
// Every error terminates the session; callers clear both cookies.
func (s *SessionRefresher) Resolve(ctx context.Context, accessToken, refreshToken string) (*Resolution, error) {
	if accessToken == "" && refreshToken == "" {
		return nil, ErrNoAccessToken
	}

	if accessToken != "" {
		claims, err := s.tokens.VerifyAccessToken(accessToken)
		if err == nil {
			return &Resolution{Identity: claims.Identity}, nil
		}
	}

	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	user, newAccess, err := s.Refresh(ctx, refreshToken)
	if err != nil {
		s.metrics.WriteAuthEvent(EventRefresh, OutcomeFail)
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}
	s.metrics.WriteAuthEvent(EventRefresh, OutcomeOK)
	return &Resolution{Identity: user.Identity(), NewAccessToken: newAccess}, nil
}

// Refresh verifies a refresh token, re-reads the user and mints a new
// access token from live state.
func (s *SessionRefresher) Refresh(ctx context.Context, refreshToken string) (*User, string, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, "", err
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrUserNotFound
		}
		return nil, "", fmt.Errorf("loading user: %w", err)
	}

	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, access, nil
}
