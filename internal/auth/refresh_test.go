package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRefresher(t *testing.T) (*SessionRefresher, *SQLiteUserRepository, *TokenIssuer, *fakeClock, *recordingMetrics) {
	t.Helper()
	repo := NewUserRepository(testDB(t))
	ti, clock := testIssuer()
	metrics := &recordingMetrics{}
	return NewSessionRefresher(repo, ti, metrics), repo, ti, clock, metrics
}

func TestResolve_NoCookies(t *testing.T) {
	r, _, _, _, _ := newTestRefresher(t)

	if _, err := r.Resolve(context.Background(), "", ""); !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("Resolve() error = %v, want ErrNoAccessToken", err)
	}
}

func TestResolve_ValidAccessTokenSkipsStore(t *testing.T) {
	r, repo, ti, _, metrics := newTestRefresher(t)
	user := seedTestUser(t, repo, "a@x.com", "longpass1", RoleViewer)

	access, _ := ti.IssueAccessToken(user)

	// Changes made after issue are not visible until the next refresh.
	if _, err := repo.AddCredits(context.Background(), user.ID, 5); err != nil {
		t.Fatalf("AddCredits() error = %v", err)
	}

	res, err := r.Resolve(context.Background(), access, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Refreshed() {
		t.Error("valid access token should not be refreshed")
	}
	if res.Identity.ID != user.ID || res.Identity.Credits != 0 {
		t.Errorf("Identity = %+v, want token snapshot", res.Identity)
	}
	if metrics.count(EventRefresh+"/"+OutcomeOK) != 0 {
		t.Error("no refresh event expected")
	}
}

func TestResolve_ExpiredAccessWithoutRefresh(t *testing.T) {
	r, repo, ti, clock, _ := newTestRefresher(t)
	user := seedTestUser(t, repo, "a@x.com", "longpass1", RoleViewer)

	access, _ := ti.IssueAccessToken(user)
	clock.Advance(time.Hour + time.Minute)

	if _, err := r.Resolve(context.Background(), access, ""); !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("Resolve() error = %v, want ErrNoRefreshToken", err)
	}
}

func TestResolve_GarbageAccessWithoutRefresh(t *testing.T) {
	r, _, _, _, _ := newTestRefresher(t)

	if _, err := r.Resolve(context.Background(), "garbage", ""); !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("Resolve() error = %v, want ErrNoRefreshToken", err)
	}
}

func TestResolve_RefreshesFromLiveState(t *testing.T) {
	r, repo, ti, clock, metrics := newTestRefresher(t)
	ctx := context.Background()
	user := seedTestUser(t, repo, "a@x.com", "longpass1", RoleViewer)

	access, _ := ti.IssueAccessToken(user)
	refresh, _ := ti.IssueRefreshToken(user)

	// Credits bought after login must show up in the renewed token.
	if _, err := repo.AddCredits(ctx, user.ID, 10); err != nil {
		t.Fatalf("AddCredits() error = %v", err)
	}
	clock.Advance(2 * time.Hour)

	res, err := r.Resolve(ctx, access, refresh)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Refreshed() {
		t.Fatal("expected a new access token")
	}
	if res.Identity.Credits != 10 {
		t.Errorf("Credits = %d, want live value 10", res.Identity.Credits)
	}

	claims, err := ti.VerifyAccessToken(res.NewAccessToken)
	if err != nil {
		t.Fatalf("new access token invalid: %v", err)
	}
	if claims.Credits != 10 {
		t.Errorf("new token Credits = %d, want 10", claims.Credits)
	}
	if got := metrics.count(EventRefresh + "/" + OutcomeOK); got != 1 {
		t.Errorf("refresh success events = %d, want 1", got)
	}
}

func TestResolve_AbsentAccessWithRefresh(t *testing.T) {
	r, repo, ti, _, _ := newTestRefresher(t)
	user := seedTestUser(t, repo, "a@x.com", "longpass1", RoleDeveloper)

	refresh, _ := ti.IssueRefreshToken(user)

	res, err := r.Resolve(context.Background(), "", refresh)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Refreshed() || res.Identity.Role != RoleDeveloper {
		t.Errorf("unexpected resolution: %+v", res)
	}
}

func TestResolve_RefreshFailures(t *testing.T) {
	r, repo, ti, clock, metrics := newTestRefresher(t)
	user := seedTestUser(t, repo, "a@x.com", "longpass1", RoleViewer)

	expiredRefresh, _ := ti.IssueRefreshToken(user)
	clock.Advance(8 * 24 * time.Hour)

	ghost := &User{ID: "deleted-user", Email: "ghost@x.com", Role: RoleViewer}
	ghostRefresh, _ := ti.IssueRefreshToken(ghost)
	accessAsRefresh, _ := ti.IssueAccessToken(user)

	tests := []struct {
		name    string
		refresh string
	}{
		{"expired refresh token", expiredRefresh},
		{"user no longer exists", ghostRefresh},
		{"access token in refresh cookie", accessAsRefresh},
		{"garbage", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), "expired-or-bad", tt.refresh)
			if !errors.Is(err, ErrInvalidRefreshToken) {
				t.Errorf("Resolve() error = %v, want ErrInvalidRefreshToken", err)
			}
		})
	}

	if got := metrics.count(EventRefresh + "/" + OutcomeFail); got != len(tests) {
		t.Errorf("refresh failure events = %d, want %d", got, len(tests))
	}
}

func TestRefresh_DoesNotReissueRefreshToken(t *testing.T) {
	r, repo, ti, clock, _ := newTestRefresher(t)
	user := seedTestUser(t, repo, "a@x.com", "longpass1", RoleViewer)

	refresh, _ := ti.IssueRefreshToken(user)

	// Refreshing repeatedly never extends the session past the original
	// refresh expiry.
	for range 3 {
		clock.Advance(2 * 24 * time.Hour)
		if _, _, err := r.Refresh(context.Background(), refresh); err != nil {
			t.Fatalf("Refresh() inside window error = %v", err)
		}
	}
	clock.Advance(2 * 24 * time.Hour)
	if _, _, err := r.Refresh(context.Background(), refresh); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Refresh() after 8 days error = %v, want ErrTokenExpired", err)
	}
}
