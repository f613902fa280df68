package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/linkpulse/internal/audit"
	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/billing"
	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
	"github.com/nerrad567/linkpulse/internal/infrastructure/database"
	"github.com/nerrad567/linkpulse/internal/infrastructure/logging"
	"github.com/nerrad567/linkpulse/internal/link"
	_ "github.com/nerrad567/linkpulse/migrations" // registers embedded migrations
)

const (
	testPassword      = "correct-horse-9"
	testKeySecret     = "key-secret-for-tests"
	testWebhookSecret = "webhook-secret-for-tests"
)

// testEnv is a server wired to real SQLite stores.
type testEnv struct {
	srv    *Server
	router http.Handler
	users  *auth.SQLiteUserRepository
	audit  *audit.SQLiteRepository
	tokens *auth.TokenIssuer
	mail   *captureMailer
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		AccessSecret:    "access-secret-for-api-tests-0123456789",
		RefreshSecret:   "refresh-secret-for-api-tests-0123456789",
		AccessTokenTTL:  60,
		RefreshTokenTTL: 7 * 24 * 60,
	}
}

// newTestEnv creates a server backed by a temp-file database.
func newTestEnv(t *testing.T, app config.AppConfig) *testEnv {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	log := logging.Discard()
	users := auth.NewUserRepository(db.DB)
	tokens := auth.NewTokenIssuer(testJWTConfig())
	mail := &captureMailer{}
	auditRepo := audit.NewSQLiteRepository(db.DB)

	authSvc := auth.NewService(auth.ServiceDeps{
		Users:  users,
		Tokens: tokens,
		Mailer: mail,
		Logger: log.Logger,
	})
	linkSvc := link.NewService(link.ServiceDeps{
		Links:  link.NewSQLiteRepository(db.Sqlx()),
		Users:  users,
		Geo:    fixedGeo{},
		Logger: log.Logger,
	})
	billingSvc := billing.NewService(users, billing.NewSQLiteLedger(db.Sqlx()), config.PaymentsConfig{
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
		Currency:      "INR",
		CreditPacks:   map[int]int{10: 10, 50: 45},
	}, log.Logger)

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		App:       app,
		Logger:    log,
		Auth:      authSvc,
		Tokens:    tokens,
		Refresher: auth.NewSessionRefresher(users, tokens, nil),
		Links:     linkSvc,
		Billing:   billingSvc,
		AuditRepo: auditRepo,
		DB:        db.DB,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.drainAuditLog(ctx)
	t.Cleanup(cancel)

	return &testEnv{
		srv:    srv,
		router: srv.buildRouter(),
		users:  users,
		audit:  auditRepo,
		tokens: tokens,
		mail:   mail,
	}
}

// createUser stores a password account.
func (e *testEnv) createUser(t *testing.T, email string, role auth.Role, adminID *string, credits int) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	u := &auth.User{
		Email:        email,
		Name:         strings.Split(email, "@")[0],
		PasswordHash: hash,
		Role:         role,
		AdminID:      adminID,
		Credits:      credits,
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

// login signs in through the API and returns the session cookies.
func (e *testEnv) login(t *testing.T, email string) []*http.Cookie {
	t.Helper()

	w := e.do(t, http.MethodPost, "/auth/login", `{"username":"`+email+`","password":"`+testPassword+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d; body: %s", w.Code, w.Body.String())
	}
	return w.Result().Cookies()
}

// do serves one request with optional cookies.
func (e *testEnv) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendResetCode(_ context.Context, email, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[email] = code
	return nil
}

func (m *captureMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type fixedGeo struct{}

func (fixedGeo) Locate(_ context.Context, _ string) (link.GeoInfo, error) {
	return link.GeoInfo{City: "Pune", Country: "India", Region: "Maharashtra", ISP: "Example Net"}, nil
}
