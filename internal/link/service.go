package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/infrastructure/influxdb"
)

const geoLookupTimeout = 3 * time.Second

// UserStore is the part of the credential store links depend on.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*auth.User, error)
	ListByAdmin(ctx context.Context, adminID string) ([]auth.User, error)
	ConsumeCredit(ctx context.Context, id string) (int, error)
	AddCredits(ctx context.Context, id string, n int) (int, error)
}

// ServiceDeps holds the collaborators of Service. Geo, Publisher, Metrics
// and Logger may be nil.
type ServiceDeps struct {
	Links     Repository
	Users     UserStore
	Geo       GeoLocator
	Publisher ClickPublisher
	Metrics   MetricsWriter
	Logger    *slog.Logger
	// DevIP replaces the visitor address for geo lookups in development.
	DevIP string
}

// Service implements link management, redirects and analytics.
type Service struct {
	links     Repository
	users     UserStore
	geo       GeoLocator
	publisher ClickPublisher
	metrics   MetricsWriter
	logger    *slog.Logger
	devIP     string
	now       func() time.Time
}

// NewService creates the link service.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		links:     deps.Links,
		users:     deps.Users,
		geo:       deps.Geo,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		devIP:     deps.DevIP,
		now:       time.Now,
	}
	if s.geo == nil {
		s.geo = disabledLocator{}
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Create stores a link owned by the caller. Admins and subscribers create
// for free; everyone else spends one credit.
func (s *Service) Create(ctx context.Context, caller auth.Identity, in Input) (*CreateResult, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	credits := user.Credits
	charged := user.Role != auth.RoleAdmin && !user.Subscription.IsActive()
	if charged {
		credits, err = s.users.ConsumeCredit(ctx, user.ID)
		if errors.Is(err, auth.ErrInsufficientCredits) {
			return nil, ErrInsufficientCredit
		}
		if err != nil {
			return nil, fmt.Errorf("charging credit: %w", err)
		}
	}

	link := &Link{
		CampaignTitle: in.CampaignTitle,
		OriginalURL:   in.OriginalURL,
		Category:      in.Category,
		Thumbnail:     in.Thumbnail,
		UserID:        user.ID,
	}
	if err := s.links.Create(ctx, link); err != nil {
		if charged {
			if _, refundErr := s.users.AddCredits(ctx, user.ID, 1); refundErr != nil {
				s.logger.Error("refunding credit failed", "user_id", user.ID, "error", refundErr)
			}
		}
		return nil, err
	}

	return &CreateResult{LinkID: link.ID, UserCredits: credits}, nil
}

// List returns the caller's links; admins also see their managed users' links.
func (s *Service) List(ctx context.Context, caller auth.Identity) ([]Link, error) {
	owners := []string{caller.ID}
	if caller.IsAdmin() {
		managed, err := s.users.ListByAdmin(ctx, caller.ID)
		if err != nil {
			return nil, err
		}
		for _, u := range managed {
			owners = append(owners, u.ID)
		}
	}
	return s.links.ListByOwners(ctx, owners)
}

// Get returns a link the caller may access.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id string) (*Link, error) {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, caller, link); err != nil {
		return nil, err
	}
	return link, nil
}

// CheckAccess returns nil when the caller may read link id.
func (s *Service) CheckAccess(ctx context.Context, caller auth.Identity, id string) error {
	_, err := s.Get(ctx, caller, id)
	return err
}

// Update replaces the editable fields of a link the caller may access.
func (s *Service) Update(ctx context.Context, caller auth.Identity, id string, in Input) (*Link, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	link, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	link.CampaignTitle = in.CampaignTitle
	link.OriginalURL = in.OriginalURL
	link.Category = in.Category
	link.Thumbnail = in.Thumbnail
	if err := s.links.Update(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// Delete removes a link the caller may access.
func (s *Service) Delete(ctx context.Context, caller auth.Identity, id string) error {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return err
	}
	return s.links.Delete(ctx, id)
}

// Analytics returns the clicks of a link the caller may access. Non-admins
// need a credit or an active subscription; viewing does not spend credit.
func (s *Service) Analytics(ctx context.Context, caller auth.Identity, q AnalyticsQuery) ([]Click, error) {
	if q.LinkID == "" {
		return nil, &auth.ValidationError{Fields: []auth.FieldError{{Field: "linkId", Message: "Link ID is required"}}}
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return nil, &auth.ValidationError{Fields: []auth.FieldError{{Field: "from", Message: "From must not be after to"}}}
	}

	if _, err := s.Get(ctx, caller, q.LinkID); err != nil {
		return nil, err
	}

	if !caller.IsAdmin() {
		user, err := s.users.GetByID(ctx, caller.ID)
		if err != nil {
			return nil, err
		}
		if !user.Identity().CanUsePaidFeatures() {
			return nil, ErrAnalyticsLocked
		}
	}

	return s.links.ListClicks(ctx, q)
}

// Visit records a click on link id and returns the URL to redirect to.
func (s *Service) Visit(ctx context.Context, id string, v Visit) (string, error) {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	ip := v.IP
	if s.devIP != "" {
		ip = s.devIP
	}
	geo := s.locate(ctx, ip)
	device := ParseUserAgent(v.UserAgent)

	click := &Click{
		LinkID:     link.ID,
		IP:         ip,
		City:       geo.City,
		Country:    geo.Country,
		Region:     geo.Region,
		Latitude:   geo.Latitude,
		Longitude:  geo.Longitude,
		ISP:        geo.ISP,
		Referrer:   v.Referrer,
		UserAgent:  v.UserAgent,
		DeviceType: device.DeviceType,
		Browser:    device.Browser,
		ClickedAt:  s.now().UTC(),
	}
	count, err := s.links.RecordClick(ctx, click)
	if err != nil {
		return "", err
	}

	event := ClickEvent{
		LinkID:     link.ID,
		OwnerID:    link.UserID,
		ClickCount: count,
		City:       click.City,
		Country:    click.Country,
		DeviceType: click.DeviceType,
		Browser:    click.Browser,
		Referrer:   click.Referrer,
		ClickedAt:  click.ClickedAt,
	}
	if err := s.publisher.PublishClick(ctx, event); err != nil {
		s.logger.Warn("publishing click event failed", "link_id", link.ID, "error", err)
	}
	s.metrics.WriteClick(influxdb.ClickPoint{
		LinkID:     link.ID,
		OwnerID:    link.UserID,
		Country:    click.Country,
		DeviceType: click.DeviceType,
		Browser:    click.Browser,
		At:         click.ClickedAt,
	})

	return link.OriginalURL, nil
}

// Totals reports how many links and clicks are stored.
func (s *Service) Totals(ctx context.Context) (Totals, error) {
	return s.links.Totals(ctx)
}

func (s *Service) locate(ctx context.Context, ip string) GeoInfo {
	if ip == "" {
		return UnknownGeo()
	}
	lookupCtx, cancel := context.WithTimeout(ctx, geoLookupTimeout)
	defer cancel()

	geo, err := s.geo.Locate(lookupCtx, ip)
	if err != nil {
		s.logger.Warn("geo-location lookup failed", "error", err)
		return UnknownGeo()
	}
	return fillUnknown(geo)
}

func fillUnknown(g GeoInfo) GeoInfo {
	for _, f := range []*string{&g.City, &g.Country, &g.Region, &g.ISP} {
		if *f == "" {
			*f = Unknown
		}
	}
	return g
}

func (s *Service) checkAccess(ctx context.Context, caller auth.Identity, link *Link) error {
	if link.UserID == caller.ID {
		return nil
	}
	if !caller.IsAdmin() {
		return ErrForbidden
	}

	owner, err := s.users.GetByID(ctx, link.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if owner.AdminID != nil && *owner.AdminID == caller.ID {
		return nil
	}
	return ErrForbidden
}
