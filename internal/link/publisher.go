package link

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/linkpulse/internal/infrastructure/influxdb"
	"github.com/nerrad567/linkpulse/internal/infrastructure/mqtt"
)

// ClickEvent is the live-feed message for a recorded click.
type ClickEvent struct {
	LinkID     string    `json:"linkId"`
	OwnerID    string    `json:"ownerId"`
	ClickCount int       `json:"clickCount"`
	City       string    `json:"city"`
	Country    string    `json:"country"`
	DeviceType string    `json:"deviceType"`
	Browser    string    `json:"browser"`
	Referrer   string    `json:"referrer,omitempty"`
	ClickedAt  time.Time `json:"clickedAt"`
}

// ClickPublisher fans a click out to live subscribers.
type ClickPublisher interface {
	PublishClick(ctx context.Context, event ClickEvent) error
}

// MetricsWriter records clicks as time-series points. Implementations must
// not block.
type MetricsWriter interface {
	WriteClick(p influxdb.ClickPoint)
}

// JSONPublisher is the part of the MQTT client the click publisher needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTClickPublisher publishes click events on linkpulse/events/clicks/{id}.
type MQTTClickPublisher struct {
	pub JSONPublisher
}

// NewMQTTClickPublisher creates a click publisher.
func NewMQTTClickPublisher(pub JSONPublisher) *MQTTClickPublisher {
	return &MQTTClickPublisher{pub: pub}
}

// PublishClick implements ClickPublisher.
func (p *MQTTClickPublisher) PublishClick(ctx context.Context, event ClickEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.pub.PublishJSON(mqtt.Topics{}.LinkClicks(event.LinkID), event); err != nil {
		return fmt.Errorf("publishing click event: %w", err)
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) PublishClick(context.Context, ClickEvent) error { return nil }

type noopMetrics struct{}

func (noopMetrics) WriteClick(influxdb.ClickPoint) {}
