package api

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// metricsQueryTimeout bounds the store counts taken per /metrics request.
const metricsQueryTimeout = 2 * time.Second

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	LiveFeed      LiveFeedStats  `json:"live_feed"`
	Audit         AuditStats     `json:"audit"`
	Store         StoreStats     `json:"store"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// LiveFeedStats describes the WebSocket click feed and its MQTT source.
type LiveFeedStats struct {
	ConnectedClients int  `json:"connected_clients"`
	WatchedChannels  int  `json:"watched_channels"`
	PendingTickets   int  `json:"pending_tickets"`
	MQTTEnabled      bool `json:"mqtt_enabled"`
	MQTTConnected    bool `json:"mqtt_connected"`
}

// AuditStats reports the async audit queue. Entries beyond capacity are dropped.
type AuditStats struct {
	Enabled  bool `json:"enabled"`
	Queued   int  `json:"queued"`
	Capacity int  `json:"capacity"`
}

// StoreStats contains link totals and SQLite pool statistics. Links and
// Clicks are omitted when counting fails.
type StoreStats struct {
	Links           *int  `json:"links,omitempty"`
	Clicks          *int  `json:"clicks,omitempty"`
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics reports process, live feed, audit and store statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		LiveFeed: LiveFeedStats{
			ConnectedClients: s.hub.ClientCount(),
			WatchedChannels:  s.hub.ChannelCount(),
			PendingTickets:   s.tickets.size(),
			MQTTEnabled:      s.mqtt != nil,
		},
	}
	if s.mqtt != nil {
		metrics.LiveFeed.MQTTConnected = s.mqtt.IsConnected()
	}
	if s.auditCh != nil {
		metrics.Audit = AuditStats{Enabled: true, Queued: len(s.auditCh), Capacity: cap(s.auditCh)}
	}

	ctx, cancel := context.WithTimeout(r.Context(), metricsQueryTimeout)
	defer cancel()
	totals, err := s.links.Totals(ctx)
	if err != nil {
		s.logger.Warn("counting links for metrics failed", "error", err)
	} else {
		metrics.Store.Links = intPtr(totals.Links)
		metrics.Store.Clicks = intPtr(totals.Clicks)
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Store.OpenConnections = dbStats.OpenConnections
		metrics.Store.InUse = dbStats.InUse
		metrics.Store.WaitCount = dbStats.WaitCount
	}

	writeJSON(w, http.StatusOK, metrics)
}

func intPtr(n int) *int { return &n }
