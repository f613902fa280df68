package link

import (
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/linkpulse/internal/auth"
)

// Device types derived from the User-Agent.
const (
	DeviceMobile  = "Mobile"
	DeviceDesktop = "Desktop"
)

// Unknown fills geo and browser fields that could not be determined.
const Unknown = "Unknown"

const (
	maxTitleLength    = 200
	maxCategoryLength = 100
	maxURLLength      = 2048
)

// Link is a trackable redirect owned by a user.
type Link struct {
	ID            string    `json:"id"`
	CampaignTitle string    `json:"campaignTitle"`
	OriginalURL   string    `json:"originalUrl"`
	Category      string    `json:"category"`
	Thumbnail     string    `json:"thumbnail,omitempty"`
	ClickCount    int       `json:"clickCount"`
	UserID        string    `json:"userId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Click is one recorded visit to a link.
type Click struct {
	ID         string    `json:"id"`
	LinkID     string    `json:"linkId"`
	IP         string    `json:"ip"`
	City       string    `json:"city"`
	Country    string    `json:"country"`
	Region     string    `json:"region"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ISP        string    `json:"isp"`
	Referrer   string    `json:"referrer,omitempty"`
	UserAgent  string    `json:"userAgent"`
	DeviceType string    `json:"deviceType"`
	Browser    string    `json:"browser"`
	ClickedAt  time.Time `json:"clickedAt"`
}

// Input is the body of a create or update.
type Input struct {
	CampaignTitle string `json:"campaign_title"`
	OriginalURL   string `json:"original_url"`
	Category      string `json:"category"`
	Thumbnail     string `json:"thumbnail"`
}

// CreateResult reports the new link and the creator's remaining credits.
type CreateResult struct {
	LinkID      string `json:"linkId"`
	UserCredits int    `json:"userCredits"`
}

// AnalyticsQuery selects the clicks of one link, optionally bounded.
type AnalyticsQuery struct {
	LinkID string     `json:"linkId"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
}

// Visit describes the request that followed a link.
type Visit struct {
	IP        string
	UserAgent string
	Referrer  string
}

// normalize trims every field in place.
func (in *Input) normalize() {
	in.CampaignTitle = strings.TrimSpace(in.CampaignTitle)
	in.OriginalURL = strings.TrimSpace(in.OriginalURL)
	in.Category = strings.TrimSpace(in.Category)
	in.Thumbnail = strings.TrimSpace(in.Thumbnail)
}

// validate reports every problem with the input.
func (in *Input) validate() error {
	var fields []auth.FieldError
	add := func(field, msg string) {
		fields = append(fields, auth.FieldError{Field: field, Message: msg})
	}

	switch {
	case in.CampaignTitle == "":
		add("campaign_title", "Campaign title is required")
	case len(in.CampaignTitle) > maxTitleLength:
		add("campaign_title", "Campaign title must be at most 200 characters long")
	}
	switch {
	case in.OriginalURL == "":
		add("original_url", "Original URL is required")
	case !isHTTPURL(in.OriginalURL):
		add("original_url", "Original URL must be an absolute http or https URL")
	}
	switch {
	case in.Category == "":
		add("category", "Category is required")
	case len(in.Category) > maxCategoryLength:
		add("category", "Category must be at most 100 characters long")
	}
	if in.Thumbnail != "" && !isHTTPURL(in.Thumbnail) {
		add("thumbnail", "Thumbnail must be an absolute http or https URL")
	}

	if len(fields) > 0 {
		return &auth.ValidationError{Fields: fields}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	if len(raw) > maxURLLength {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Totals is the size of the link store.
type Totals struct {
	Links  int `db:"links" json:"links"`
	Clicks int `db:"clicks" json:"clicks"`
}
