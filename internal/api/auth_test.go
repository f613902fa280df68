package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

type userBody struct {
	User    auth.Identity `json:"user"`
	Message string        `json:"message"`
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{Environment: "development"})
	env.createUser(t, "ana@example.com", auth.RoleViewer, nil, 3)

	w := env.do(t, http.MethodPost, "/auth/login", `{"username":"Ana@Example.com","password":"`+testPassword+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp userBody
	decodeBody(t, w, &resp)
	if resp.Message != "User authenticated" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.User.Email != "ana@example.com" || resp.User.Credits != 3 {
		t.Errorf("user = %+v", resp.User)
	}

	cookies := w.Result().Cookies()
	access := findCookie(cookies, accessCookieName)
	refresh := findCookie(cookies, refreshCookieName)
	if access == nil || refresh == nil {
		t.Fatalf("expected both session cookies, got %v", cookies)
	}
	for _, c := range []*http.Cookie{access, refresh} {
		if !c.HttpOnly || c.Path != "/" || c.Secure || c.SameSite != http.SameSiteLaxMode {
			t.Errorf("cookie %s flags = httpOnly:%v path:%q secure:%v sameSite:%v", c.Name, c.HttpOnly, c.Path, c.Secure, c.SameSite)
		}
	}
	if access.MaxAge != 3600 {
		t.Errorf("access MaxAge = %d, want 3600", access.MaxAge)
	}
	if refresh.MaxAge != 7*24*3600 {
		t.Errorf("refresh MaxAge = %d, want %d", refresh.MaxAge, 7*24*3600)
	}

	claims, err := env.tokens.VerifyAccessToken(access.Value)
	if err != nil {
		t.Fatalf("access cookie does not verify: %v", err)
	}
	if claims.Email != "ana@example.com" {
		t.Errorf("claims email = %q", claims.Email)
	}
	if _, err := env.tokens.VerifyRefreshToken(refresh.Value); err != nil {
		t.Errorf("refresh cookie does not verify: %v", err)
	}
}

func TestLogin_ProductionCookies(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{Environment: "production"})
	env.createUser(t, "prod@example.com", auth.RoleViewer, nil, 0)

	for _, c := range env.login(t, "prod@example.com") {
		if !c.Secure || c.SameSite != http.SameSiteNoneMode {
			t.Errorf("cookie %s secure:%v sameSite:%v, want Secure and SameSite=None", c.Name, c.Secure, c.SameSite)
		}
	}
}

func TestSessionCookies_FollowTokenTTLs(t *testing.T) {
	jwtCfg := testJWTConfig()
	jwtCfg.AccessTokenTTL = 15
	jwtCfg.RefreshTokenTTL = 2 * 24 * 60
	srv := &Server{tokens: auth.NewTokenIssuer(jwtCfg)}

	w := httptest.NewRecorder()
	srv.setSessionCookies(w, "access", "refresh")
	cookies := w.Result().Cookies()

	access := findCookie(cookies, accessCookieName)
	refresh := findCookie(cookies, refreshCookieName)
	if access == nil || refresh == nil {
		t.Fatalf("cookies = %v, want both session cookies", cookies)
	}
	if want := int((15 * time.Minute).Seconds()); access.MaxAge != want {
		t.Errorf("access MaxAge = %d, want %d", access.MaxAge, want)
	}
	if want := int((48 * time.Hour).Seconds()); refresh.MaxAge != want {
		t.Errorf("refresh MaxAge = %d, want %d", refresh.MaxAge, want)
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	env.createUser(t, "ana@example.com", auth.RoleViewer, nil, 0)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		wantFields int
	}{
		{"malformed json", `{`, http.StatusBadRequest, ErrCodeBadRequest, 0},
		{"not an email", `{"username":"ana","password":"` + testPassword + `"}`, http.StatusUnauthorized, ErrCodeValidation, 1},
		{"short password and no user", `{"username":"","password":"short"}`, http.StatusUnauthorized, ErrCodeValidation, 2},
		{"wrong password", `{"username":"ana@example.com","password":"wrong-password"}`, http.StatusUnauthorized, ErrCodeInvalidCredentials, 0},
		{"unknown user", `{"username":"nobody@example.com","password":"` + testPassword + `"}`, http.StatusUnauthorized, ErrCodeInvalidCredentials, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/auth/login", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			var resp Error
			decodeBody(t, w, &resp)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if len(resp.Errors) != tt.wantFields {
				t.Errorf("field errors = %v, want %d", resp.Errors, tt.wantFields)
			}
			if tt.wantCode == ErrCodeInvalidCredentials && resp.Message != msgInvalidCredentials {
				t.Errorf("message = %q", resp.Message)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Error("failed login must not set cookies")
			}
		})
	}
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})

	body := `{"username":"new@example.com","password":"` + testPassword + `","name":"New User"}`
	w := env.do(t, http.MethodPost, "/auth/register", body)
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp userBody
	decodeBody(t, w, &resp)
	if resp.Message != "User registered" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.User.Role != auth.RoleViewer || resp.User.AdminID != nil {
		t.Errorf("registered user = %+v, want viewer without admin", resp.User)
	}
	if findCookie(w.Result().Cookies(), accessCookieName) == nil {
		t.Error("register should log the user in")
	}

	w = env.do(t, http.MethodPost, "/auth/register", body)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("duplicate register status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var dup Error
	decodeBody(t, w, &dup)
	if dup.Message != msgEmailExists {
		t.Errorf("duplicate message = %q", dup.Message)
	}

	w = env.do(t, http.MethodPost, "/auth/register", `{"username":"x@example.com","password":"`+testPassword+`"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing name status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestGoogleAuth_NotConfigured(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})

	w := env.do(t, http.MethodPost, "/auth/google-auth", `{}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing credential status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var resp Error
	decodeBody(t, w, &resp)
	if resp.Code != ErrCodeValidation {
		t.Errorf("missing credential code = %q, want %q", resp.Code, ErrCodeValidation)
	}

	w = env.do(t, http.MethodPost, "/auth/google-auth", `{"credential":"abc"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestIsUserLoggedIn_Reasons(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	u := env.createUser(t, "ana@example.com", auth.RoleViewer, nil, 0)
	cookies := env.login(t, "ana@example.com")
	access := findCookie(cookies, accessCookieName)

	w := env.do(t, http.MethodPost, "/auth/is-user-logged-in", "", cookies...)
	if w.Code != http.StatusOK {
		t.Fatalf("logged-in status = %d; body: %s", w.Code, w.Body.String())
	}
	var ok userBody
	decodeBody(t, w, &ok)
	if ok.User.ID != u.ID || ok.Message != "User logged in" {
		t.Errorf("response = %+v", ok)
	}

	tests := []struct {
		name    string
		cookies []*http.Cookie
		want    string
	}{
		{"no cookies", nil, msgNoAccessToken},
		{"bad access no refresh", []*http.Cookie{{Name: accessCookieName, Value: "garbage"}}, msgNoRefreshToken},
		{"bad refresh", []*http.Cookie{{Name: refreshCookieName, Value: "garbage"}}, msgInvalidRefresh},
		{"access token as refresh", []*http.Cookie{{Name: refreshCookieName, Value: access.Value}}, msgInvalidRefresh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/auth/is-user-logged-in", "", tt.cookies...)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var resp Error
			decodeBody(t, w, &resp)
			if resp.Message != tt.want {
				t.Errorf("message = %q, want %q", resp.Message, tt.want)
			}
			assertCookiesCleared(t, w.Result().Cookies())
		})
	}
}

func TestProtect_RefreshesFromRefreshToken(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	u := env.createUser(t, "ana@example.com", auth.RoleViewer, nil, 1)
	refresh := findCookie(env.login(t, "ana@example.com"), refreshCookieName)

	if _, err := env.users.AddCredits(t.Context(), u.ID, 4); err != nil {
		t.Fatalf("adding credits: %v", err)
	}

	w := env.do(t, http.MethodPost, "/auth/is-user-logged-in", "", refresh)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp userBody
	decodeBody(t, w, &resp)
	if resp.User.Credits != 5 {
		t.Errorf("credits = %d, want live value 5", resp.User.Credits)
	}

	newAccess := findCookie(w.Result().Cookies(), accessCookieName)
	if newAccess == nil || newAccess.Value == "" {
		t.Fatal("expected a fresh access cookie")
	}
	if findCookie(w.Result().Cookies(), refreshCookieName) != nil {
		t.Error("refresh token must not be reissued")
	}
	claims, err := env.tokens.VerifyAccessToken(newAccess.Value)
	if err != nil {
		t.Fatalf("new access token: %v", err)
	}
	if claims.Credits != 5 {
		t.Errorf("token credits = %d, want 5", claims.Credits)
	}
}

func TestProtect_DeletedUser(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	u := &auth.User{ID: "ghost", Email: "ghost@example.com", Role: auth.RoleViewer}
	refresh, err := env.tokens.IssueRefreshToken(u)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	w := env.do(t, http.MethodPost, "/auth/is-user-logged-in", "", &http.Cookie{Name: refreshCookieName, Value: refresh})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var resp Error
	decodeBody(t, w, &resp)
	if resp.Message != msgInvalidRefresh {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})

	w := env.do(t, http.MethodPost, "/auth/logout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	var resp messageResponse
	decodeBody(t, w, &resp)
	if resp.Message != "Logout successful" {
		t.Errorf("message = %q", resp.Message)
	}
	assertCookiesCleared(t, w.Result().Cookies())
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	env.createUser(t, "ana@example.com", auth.RoleViewer, nil, 0)

	w := env.do(t, http.MethodPost, "/auth/send-reset-password-token", `{"email":"not-an-email"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed email status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	for _, email := range []string{"nobody@example.com", "ana@example.com"} {
		w = env.do(t, http.MethodPost, "/auth/send-reset-password-token", `{"email":"`+email+`"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("send reset for %s status = %d", email, w.Code)
		}
		var resp messageResponse
		decodeBody(t, w, &resp)
		if resp.Message != "If an account exists for that email, a reset code has been sent" {
			t.Errorf("message = %q", resp.Message)
		}
	}
	if env.mail.code("nobody@example.com") != "" {
		t.Error("no code should be mailed for an unknown account")
	}
	code := env.mail.code("ana@example.com")
	if len(code) != 6 {
		t.Fatalf("mailed code = %q, want 6 digits", code)
	}

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	w = env.do(t, http.MethodPost, "/auth/reset-password", `{"email":"ana@example.com","code":"`+wrong+`","newPassword":"brand-new-pass"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("wrong code status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var bad Error
	decodeBody(t, w, &bad)
	if bad.Message != msgInvalidResetCode {
		t.Errorf("wrong code message = %q", bad.Message)
	}

	w = env.do(t, http.MethodPost, "/auth/reset-password", `{"email":"ana@example.com","code":"12","newPassword":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do(t, http.MethodPost, "/auth/reset-password", `{"email":"ana@example.com","code":"`+code+`","newPassword":"brand-new-pass"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d; body: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/auth/reset-password", `{"email":"ana@example.com","code":"`+code+`","newPassword":"another-pass-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("reused code status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do(t, http.MethodPost, "/auth/login", `{"username":"ana@example.com","password":"brand-new-pass"}`)
	if w.Code != http.StatusOK {
		t.Errorf("login with new password status = %d", w.Code)
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	u := env.createUser(t, "ana@example.com", auth.RoleViewer, nil, 0)
	cookies := env.login(t, "ana@example.com")

	w := env.do(t, http.MethodPost, "/auth/ws-ticket", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("ticket without session status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = env.do(t, http.MethodPost, "/auth/ws-ticket", "", cookies...)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	ticket, ok := resp["ticket"].(string)
	if !ok || ticket == "" {
		t.Fatal("expected ticket to be a non-empty string")
	}

	identity, ok := env.srv.tickets.consume(ticket)
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if identity.ID != u.ID {
		t.Errorf("ticket identity = %q, want %q", identity.ID, u.ID)
	}
	if _, ok := env.srv.tickets.consume(ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	store := newTicketStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	expired := store.issue(auth.Identity{ID: "u1"})
	kept := store.issue(auth.Identity{ID: "u2"})
	now = now.Add(ticketTTL)

	if _, ok := store.consume(expired); ok {
		t.Error("expired ticket should not be valid")
	}

	store.cleanExpired()
	if store.size() != 0 {
		t.Errorf("size after cleanup = %d, want 0", store.size())
	}
	if _, ok := store.consume(kept); ok {
		t.Error("cleaned ticket should not be valid")
	}
}

func assertCookiesCleared(t *testing.T, cookies []*http.Cookie) {
	t.Helper()
	for _, name := range []string{accessCookieName, refreshCookieName} {
		c := findCookie(cookies, name)
		if c == nil {
			t.Errorf("cookie %s not cleared", name)
			continue
		}
		if c.MaxAge >= 0 || c.Value != "" {
			t.Errorf("cookie %s = %+v, want expired", name, c)
		}
	}
}
