package link

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

const (
	defaultGeoBaseURL = "http://ip-api.com/json/"
	defaultGeoTimeout = 3 * time.Second
	maxGeoBodySize    = 64 << 10
)

// GeoInfo is the location attributed to a client IP.
type GeoInfo struct {
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Region    string  `json:"regionName"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	ISP       string  `json:"isp"`
}

// UnknownGeo is used when a lookup fails.
func UnknownGeo() GeoInfo {
	return GeoInfo{City: Unknown, Country: Unknown, Region: Unknown, ISP: Unknown}
}

// GeoLocator resolves an IP address to a location.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (GeoInfo, error)
}

// IPAPILocator queries the ip-api.com JSON endpoint.
type IPAPILocator struct {
	baseURL string
	client  *http.Client
}

// NewIPAPILocator creates a locator from cfg. An empty base URL selects
// the public ip-api.com endpoint.
func NewIPAPILocator(cfg config.GeoConfig) *IPAPILocator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeoBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultGeoTimeout
	}
	return &IPAPILocator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	GeoInfo
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Locate implements GeoLocator. ip-api answers private and reserved
// ranges with status "fail", which is reported as ErrGeoLookupFailed.
func (l *IPAPILocator) Locate(ctx context.Context, ip string) (GeoInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+url.PathEscape(ip), nil)
	if err != nil {
		return GeoInfo{}, fmt.Errorf("%w: %w", ErrGeoLookupFailed, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return GeoInfo{}, fmt.Errorf("%w: %w", ErrGeoLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GeoInfo{}, fmt.Errorf("%w: status %d", ErrGeoLookupFailed, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGeoBodySize)).Decode(&body); err != nil {
		return GeoInfo{}, fmt.Errorf("%w: decoding response: %w", ErrGeoLookupFailed, err)
	}
	if body.Status != "" && body.Status != "success" {
		return GeoInfo{}, fmt.Errorf("%w: %s", ErrGeoLookupFailed, body.Message)
	}
	return body.GeoInfo, nil
}

// disabledLocator reports every IP as unknown without network access.
type disabledLocator struct{}

func (disabledLocator) Locate(context.Context, string) (GeoInfo, error) {
	return UnknownGeo(), nil
}

// NewGeoLocator returns an ip-api locator, or one that always answers
// Unknown when geo lookups are disabled.
func NewGeoLocator(cfg config.GeoConfig) GeoLocator {
	if !cfg.Enabled {
		return disabledLocator{}
	}
	return NewIPAPILocator(cfg)
}
