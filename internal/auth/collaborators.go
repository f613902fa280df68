package auth

import (
	"context"
	"time"
)

// EmailSender delivers password reset codes.
type EmailSender interface {
	SendResetCode(ctx context.Context, email, code string, expiresAt time.Time) error
}

// MetricsWriter records auth events as time-series points. Implementations
// must not block.
type MetricsWriter interface {
	WriteAuthEvent(event, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) WriteAuthEvent(string, string) {}
