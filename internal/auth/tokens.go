package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

// TokenType distinguishes access from refresh tokens inside the claims.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the signed payload of both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	Identity
	Type TokenType `json:"typ"`
}

// TokenIssuer signs and verifies access and refresh tokens. Each kind has
// its own secret so a leaked access secret cannot mint refresh tokens.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenIssuer creates an issuer from the validated JWT configuration.
func NewTokenIssuer(cfg config.JWTConfig) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL(),
		refreshTTL:    cfg.RefreshTTL(),
		now:           time.Now,
	}
}

// AccessTTL returns the access token lifetime.
func (ti *TokenIssuer) AccessTTL() time.Duration { return ti.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (ti *TokenIssuer) RefreshTTL() time.Duration { return ti.refreshTTL }

// IssueAccessToken signs a short-lived token carrying the user's identity.
func (ti *TokenIssuer) IssueAccessToken(user *User) (string, error) {
	return ti.sign(user, TokenTypeAccess, ti.accessSecret, ti.accessTTL)
}

// IssueRefreshToken signs a long-lived token from a full user snapshot.
func (ti *TokenIssuer) IssueRefreshToken(user *User) (string, error) {
	return ti.sign(user, TokenTypeRefresh, ti.refreshSecret, ti.refreshTTL)
}

// VerifyAccessToken returns the claims of a valid access token, or an error
// wrapping ErrTokenExpired or ErrTokenInvalid.
func (ti *TokenIssuer) VerifyAccessToken(token string) (*Claims, error) {
	return ti.verify(token, TokenTypeAccess, ti.accessSecret)
}

// VerifyRefreshToken returns the claims of a valid refresh token, or an
// error wrapping ErrTokenExpired or ErrTokenInvalid.
func (ti *TokenIssuer) VerifyRefreshToken(token string) (*Claims, error) {
	return ti.verify(token, TokenTypeRefresh, ti.refreshSecret)
}

func (ti *TokenIssuer) sign(user *User, typ TokenType, secret []byte, ttl time.Duration) (string, error) {
	now := ti.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Identity: user.Identity(),
		Type:     typ,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, nil
}

func (ti *TokenIssuer) verify(tokenString string, typ TokenType, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrTokenInvalid, typ, claims.Type)
	}
	if claims.Subject == "" || claims.Identity.ID != claims.Subject {
		return nil, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
