package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAuthEvents = "auth_events"
	MeasurementLinkClicks = "link_clicks"
)

// ClickPoint describes one redirect through a tracked link.
type ClickPoint struct {
	LinkID     string
	OwnerID    string
	Country    string
	DeviceType string
	Browser    string
	At         time.Time
}

// WriteAuthEvent records an authentication event such as a login or a
// token refresh, tagged with its outcome.
func (c *Client) WriteAuthEvent(event, outcome string) {
	c.WritePoint(MeasurementAuthEvents,
		map[string]string{
			"event":   event,
			"outcome": outcome,
		},
		map[string]any{"count": 1},
	)
}

// WriteClick records a click. Country, device and browser are tags so
// dashboards can group by them; the link ID is a tag for per-link series.
func (c *Client) WriteClick(p ClickPoint) {
	at := p.At
	if at.IsZero() {
		at = c.now()
	}
	c.WritePointWithTime(MeasurementLinkClicks,
		map[string]string{
			"link_id":     p.LinkID,
			"owner_id":    p.OwnerID,
			"country":     orUnknown(p.Country),
			"device_type": orUnknown(p.DeviceType),
			"browser":     orUnknown(p.Browser),
		},
		map[string]any{"count": 1},
		at,
	)
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a point with an explicit timestamp. Writes on
// a closed client are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
