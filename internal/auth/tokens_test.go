package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func tokenTestUser() *User {
	adminID := "admin-1"
	return &User{
		ID:      "user-1",
		Email:   "a@x.com",
		Name:    "Ada",
		Role:    RoleDeveloper,
		AdminID: &adminID,
		Credits: 3,
		Subscription: Subscription{
			ID:     "sub_1",
			Status: SubscriptionActive,
		},
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	ti, _ := testIssuer()

	token, err := ti.IssueAccessToken(tokenTestUser())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	claims, err := ti.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}

	if claims.Subject != "user-1" || claims.Identity.ID != "user-1" {
		t.Errorf("subject = %q, identity id = %q", claims.Subject, claims.Identity.ID)
	}
	if claims.Role != RoleDeveloper {
		t.Errorf("Role = %q, want developer", claims.Role)
	}
	if claims.AdminID == nil || *claims.AdminID != "admin-1" {
		t.Errorf("AdminID = %v, want admin-1", claims.AdminID)
	}
	if claims.Credits != 3 || !claims.Subscription.IsActive() {
		t.Errorf("credits/subscription snapshot lost: %+v", claims.Identity)
	}
	if claims.Type != TokenTypeAccess {
		t.Errorf("Type = %q, want access", claims.Type)
	}
	if claims.RegisteredClaims.ID == "" {
		t.Error("jti should be set")
	}
}

func TestAccessToken_ValidForWholeWindowThenExpires(t *testing.T) {
	ti, clock := testIssuer()

	token, err := ti.IssueAccessToken(tokenTestUser())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	clock.Advance(time.Hour - time.Second)
	if _, err := ti.VerifyAccessToken(token); err != nil {
		t.Fatalf("token rejected inside its window: %v", err)
	}

	clock.Advance(2 * time.Second)
	_, err = ti.VerifyAccessToken(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("VerifyAccessToken() after expiry error = %v, want ErrTokenExpired", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Error("expired token should not also be reported invalid")
	}
}

func TestRefreshToken_SevenDayWindow(t *testing.T) {
	ti, clock := testIssuer()

	token, err := ti.IssueRefreshToken(tokenTestUser())
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	clock.Advance(7*24*time.Hour - time.Minute)
	claims, err := ti.VerifyRefreshToken(token)
	if err != nil {
		t.Fatalf("VerifyRefreshToken() inside window error = %v", err)
	}
	if claims.Type != TokenTypeRefresh {
		t.Errorf("Type = %q, want refresh", claims.Type)
	}

	clock.Advance(2 * time.Minute)
	if _, err := ti.VerifyRefreshToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("VerifyRefreshToken() after 7d error = %v, want ErrTokenExpired", err)
	}
}

func TestTokens_NotInterchangeable(t *testing.T) {
	ti, _ := testIssuer()
	user := tokenTestUser()

	access, _ := ti.IssueAccessToken(user)
	refresh, _ := ti.IssueRefreshToken(user)

	if _, err := ti.VerifyRefreshToken(access); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("access token accepted as refresh: %v", err)
	}
	if _, err := ti.VerifyAccessToken(refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("refresh token accepted as access: %v", err)
	}
}

func TestVerify_RejectsForgedTokens(t *testing.T) {
	ti, clock := testIssuer()
	user := tokenTestUser()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
		Identity: user.Identity(),
		Type:     TokenTypeAccess,
	}

	wrongSecret, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("some-other-secret-that-is-long-enough"))
	algNone, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testAccessSecret))

	adminClaims := claims
	adminClaims.Role = "superuser"
	badRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims).SignedString([]byte(testAccessSecret))

	valid, _ := ti.IssueAccessToken(user)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", wrongSecret},
		{"alg none", algNone},
		{"other HMAC alg", hs512},
		{"unknown role", badRole},
		{"tampered payload", tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ti.VerifyAccessToken(tt.token); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("VerifyAccessToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestRefreshSecret_CannotSignAccess(t *testing.T) {
	ti, clock := testIssuer()
	user := tokenTestUser()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
		Identity: user.Identity(),
		Type:     TokenTypeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testRefreshSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := ti.VerifyAccessToken(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("access token signed with refresh secret accepted: %v", err)
	}
}
