package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// IdentityVerifier verifies an external identity token.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleIdentity, error)
}

// CodeExchanger trades an OAuth authorization code for an ID token.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

type googleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// GoogleVerifier checks Google ID tokens against Google's published RSA
// keys, the expected issuer and the configured client ID.
//
// The key set is fetched on first use and kept fresh in the background by
// keyfunc. Unknown key ids trigger a rate-limited refetch, and the last
// good key set keeps serving while the endpoint is down.
//
// Thread Safety:
//   - Verify is safe for concurrent use.
type GoogleVerifier struct {
	clientID string
	jwksURL  string
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	keys keyfunc.Keyfunc
}

// NewGoogleVerifier creates a verifier for the configured client ID.
// Call Close to stop the background key refresh.
func NewGoogleVerifier(cfg config.GoogleConfig) *GoogleVerifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoogleVerifier{
		clientID: cfg.ClientID,
		jwksURL:  cfg.JWKSURL,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close stops the background key refresh.
func (v *GoogleVerifier) Close() {
	v.cancel()
}

// Verify implements IdentityVerifier.
func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	if v.clientID == "" {
		return nil, ErrGoogleSignInNotAvailable
	}
	keys, err := v.keySet()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGoogleCredential, err)
	}

	token, err := jwt.ParseWithClaims(idToken, &googleClaims{}, keys.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGoogleCredential, err)
	}

	claims, ok := token.Claims.(*googleClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidGoogleCredential
	}
	if !googleIssuers[claims.Issuer] {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidGoogleCredential, claims.Issuer)
	}
	if claims.Subject == "" || claims.Email == "" || !claims.EmailVerified {
		return nil, fmt.Errorf("%w: missing verified email", ErrInvalidGoogleCredential)
	}

	return &GoogleIdentity{
		Subject:       claims.Subject,
		Email:         NormalizeEmail(claims.Email),
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

// keySet returns the JWKS-backed keyfunc, creating it on first use.
func (v *GoogleVerifier) keySet() (keyfunc.Keyfunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keys != nil {
		return v.keys, nil
	}
	keys, err := keyfunc.NewDefaultCtx(v.ctx, []string{v.jwksURL})
	if err != nil {
		return nil, fmt.Errorf("loading google signing keys: %w", err)
	}
	v.keys = keys
	return keys, nil
}

// OAuthCodeExchanger exchanges authorization codes at Google's token
// endpoint and returns the ID token from the response.
type OAuthCodeExchanger struct {
	cfg *oauth2.Config
}

// NewOAuthCodeExchanger creates an exchanger for the configured client.
func NewOAuthCodeExchanger(cfg config.GoogleConfig) *OAuthCodeExchanger {
	return &OAuthCodeExchanger{cfg: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}}
}

// Exchange implements CodeExchanger.
func (e *OAuthCodeExchanger) Exchange(ctx context.Context, code string) (string, error) {
	if e.cfg.ClientSecret == "" {
		return "", ErrGoogleSignInNotAvailable
	}
	token, err := e.cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: exchanging code: %w", ErrInvalidGoogleCredential, err)
	}
	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", fmt.Errorf("%w: token response has no id_token", ErrInvalidGoogleCredential)
	}
	return idToken, nil
}
