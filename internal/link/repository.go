package link

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Repository persists links and clicks.
type Repository interface {
	Create(ctx context.Context, link *Link) error
	GetByID(ctx context.Context, id string) (*Link, error)
	// ListByOwners returns links owned by any of ownerIDs, newest first.
	ListByOwners(ctx context.Context, ownerIDs []string) ([]Link, error)
	Update(ctx context.Context, link *Link) error
	Delete(ctx context.Context, id string) error
	// RecordClick stores click and increments the link's click count,
	// returning the new count.
	RecordClick(ctx context.Context, click *Click) (int, error)
	ListClicks(ctx context.Context, q AnalyticsQuery) ([]Click, error)
	Totals(ctx context.Context) (Totals, error)
}

type linkRow struct {
	ID            string `db:"id"`
	CampaignTitle string `db:"campaign_title"`
	OriginalURL   string `db:"original_url"`
	Category      string `db:"category"`
	Thumbnail     string `db:"thumbnail"`
	ClickCount    int    `db:"click_count"`
	UserID        string `db:"user_id"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (r linkRow) toLink() Link {
	return Link{
		ID:            r.ID,
		CampaignTitle: r.CampaignTitle,
		OriginalURL:   r.OriginalURL,
		Category:      r.Category,
		Thumbnail:     r.Thumbnail,
		ClickCount:    r.ClickCount,
		UserID:        r.UserID,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
}

type clickRow struct {
	ID         string  `db:"id"`
	LinkID     string  `db:"link_id"`
	IP         string  `db:"ip"`
	City       string  `db:"city"`
	Country    string  `db:"country"`
	Region     string  `db:"region"`
	Latitude   float64 `db:"latitude"`
	Longitude  float64 `db:"longitude"`
	ISP        string  `db:"isp"`
	Referrer   string  `db:"referrer"`
	UserAgent  string  `db:"user_agent"`
	DeviceType string  `db:"device_type"`
	Browser    string  `db:"browser"`
	ClickedAt  string  `db:"clicked_at"`
}

func newClickRow(c *Click) clickRow {
	return clickRow{
		ID:         c.ID,
		LinkID:     c.LinkID,
		IP:         c.IP,
		City:       c.City,
		Country:    c.Country,
		Region:     c.Region,
		Latitude:   c.Latitude,
		Longitude:  c.Longitude,
		ISP:        c.ISP,
		Referrer:   c.Referrer,
		UserAgent:  c.UserAgent,
		DeviceType: c.DeviceType,
		Browser:    c.Browser,
		ClickedAt:  formatTime(c.ClickedAt),
	}
}

func (r clickRow) toClick() Click {
	return Click{
		ID:         r.ID,
		LinkID:     r.LinkID,
		IP:         r.IP,
		City:       r.City,
		Country:    r.Country,
		Region:     r.Region,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		ISP:        r.ISP,
		Referrer:   r.Referrer,
		UserAgent:  r.UserAgent,
		DeviceType: r.DeviceType,
		Browser:    r.Browser,
		ClickedAt:  parseTime(r.ClickedAt),
	}
}

// SQLiteRepository implements Repository with sqlx over SQLite.
type SQLiteRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteRepository creates a link repository.
func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts link, assigning its ID and timestamps.
func (r *SQLiteRepository) Create(ctx context.Context, link *Link) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt = r.timestamp()
	link.UpdatedAt = link.CreatedAt

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO links (id, campaign_title, original_url, category, thumbnail, click_count, user_id, created_at, updated_at)
		 VALUES (:id, :campaign_title, :original_url, :category, :thumbnail, :click_count, :user_id, :created_at, :updated_at)`,
		linkRow{
			ID:            link.ID,
			CampaignTitle: link.CampaignTitle,
			OriginalURL:   link.OriginalURL,
			Category:      link.Category,
			Thumbnail:     link.Thumbnail,
			ClickCount:    link.ClickCount,
			UserID:        link.UserID,
			CreatedAt:     formatTime(link.CreatedAt),
			UpdatedAt:     formatTime(link.UpdatedAt),
		})
	if err != nil {
		return fmt.Errorf("creating link: %w", err)
	}
	return nil
}

// GetByID returns ErrLinkNotFound when no link has id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Link, error) {
	var row linkRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM links WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting link: %w", err)
	}
	link := row.toLink()
	return &link, nil
}

// ListByOwners implements Repository.
func (r *SQLiteRepository) ListByOwners(ctx context.Context, ownerIDs []string) ([]Link, error) {
	links := []Link{}
	if len(ownerIDs) == 0 {
		return links, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM links WHERE user_id IN (?) ORDER BY created_at DESC, rowid DESC`, ownerIDs)
	if err != nil {
		return nil, fmt.Errorf("building link query: %w", err)
	}

	var rows []linkRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	for _, row := range rows {
		links = append(links, row.toLink())
	}
	return links, nil
}

// Update overwrites the editable fields of link.
func (r *SQLiteRepository) Update(ctx context.Context, link *Link) error {
	link.UpdatedAt = r.timestamp()
	result, err := r.db.ExecContext(ctx,
		`UPDATE links SET campaign_title = ?, original_url = ?, category = ?, thumbnail = ?, updated_at = ? WHERE id = ?`,
		link.CampaignTitle, link.OriginalURL, link.Category, link.Thumbnail, formatTime(link.UpdatedAt), link.ID)
	if err != nil {
		return fmt.Errorf("updating link: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes a link and, by cascade, its clicks.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	return requireOneRow(result)
}

// RecordClick implements Repository.
func (r *SQLiteRepository) RecordClick(ctx context.Context, click *Click) (int, error) {
	if click.ID == "" {
		click.ID = uuid.NewString()
	}
	if click.ClickedAt.IsZero() {
		click.ClickedAt = r.now()
	}
	click.ClickedAt = click.ClickedAt.UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var count int
	err = tx.GetContext(ctx, &count,
		`UPDATE links SET click_count = click_count + 1 WHERE id = ? RETURNING click_count`, click.LinkID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrLinkNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing click count: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO clicks (id, link_id, ip, city, country, region, latitude, longitude, isp, referrer,
			user_agent, device_type, browser, clicked_at)
		 VALUES (:id, :link_id, :ip, :city, :country, :region, :latitude, :longitude, :isp, :referrer,
			:user_agent, :device_type, :browser, :clicked_at)`,
		newClickRow(click)); err != nil {
		return 0, fmt.Errorf("inserting click: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing click: %w", err)
	}
	return count, nil
}

// ListClicks returns the clicks of q.LinkID, newest first, within the
// optional inclusive range.
func (r *SQLiteRepository) ListClicks(ctx context.Context, q AnalyticsQuery) ([]Click, error) {
	query := `SELECT * FROM clicks WHERE link_id = ?`
	args := []any{q.LinkID}
	if q.From != nil {
		query += ` AND clicked_at >= ?`
		args = append(args, formatTime(*q.From))
	}
	if q.To != nil {
		query += ` AND clicked_at <= ?`
		args = append(args, formatTime(*q.To))
	}
	query += ` ORDER BY clicked_at DESC, rowid DESC`

	var rows []clickRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing clicks: %w", err)
	}
	clicks := make([]Click, 0, len(rows))
	for _, row := range rows {
		clicks = append(clicks, row.toClick())
	}
	return clicks, nil
}

// Totals counts every stored link and click.
func (r *SQLiteRepository) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := r.db.GetContext(ctx, &t,
		`SELECT (SELECT COUNT(*) FROM links) AS links, (SELECT COUNT(*) FROM clicks) AS clicks`)
	if err != nil {
		return Totals{}, fmt.Errorf("counting links: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) timestamp() time.Time {
	return r.now().UTC()
}

func requireOneRow(result sql.Result) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s) //nolint:errcheck // written by formatTime
	return t
}
