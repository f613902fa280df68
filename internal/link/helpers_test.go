package link

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
	"github.com/nerrad567/linkpulse/internal/infrastructure/database"
	"github.com/nerrad567/linkpulse/internal/infrastructure/influxdb"
	_ "github.com/nerrad567/linkpulse/migrations" // registers embedded migrations
)

type testStores struct {
	users *auth.SQLiteUserRepository
	links *SQLiteRepository
}

func setupStores(t *testing.T) testStores {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "link-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	require.NoError(t, db.Migrate(context.Background()))

	return testStores{
		users: auth.NewUserRepository(db.DB),
		links: NewSQLiteRepository(db.Sqlx()),
	}
}

func createUser(t *testing.T, users auth.UserRepository, email string, role auth.Role, adminID *string, credits int) *auth.User {
	t.Helper()
	u := &auth.User{Email: email, Name: email, Role: role, AdminID: adminID, Credits: credits}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

type fakeGeo struct {
	info GeoInfo
	err  error
	ips  []string
}

func (g *fakeGeo) Locate(_ context.Context, ip string) (GeoInfo, error) {
	g.ips = append(g.ips, ip)
	return g.info, g.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ClickEvent
	err    error
}

func (p *recordingPublisher) PublishClick(_ context.Context, e ClickEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type recordingMetrics struct {
	mu     sync.Mutex
	points []influxdb.ClickPoint
}

func (m *recordingMetrics) WriteClick(p influxdb.ClickPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, p)
}

func timePtr(t time.Time) *time.Time { return &t }
