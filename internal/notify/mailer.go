package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
	"github.com/nerrad567/linkpulse/internal/infrastructure/mqtt"
)

// TemplatePasswordReset names the reset-code template for the delivery worker.
const TemplatePasswordReset = "password_reset"

const (
	defaultFrom  = "no-reply@linkpulse.local"
	resetSubject = "Your LinkPulse password reset code"
)

// ErrNoRecipient is returned when a message has no address.
var ErrNoRecipient = errors.New("mail recipient is required")

// Publisher is the part of the MQTT client the mailer needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Message is one queued e-mail.
type Message struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Template  string    `json:"template"`
	Code      string    `json:"code,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MQTTMailer queues e-mails on the MQTT mail outbox.
type MQTTMailer struct {
	pub    Publisher
	from   string
	topic  string
	logger *slog.Logger
}

// NewMQTTMailer creates a mailer publishing through pub.
func NewMQTTMailer(pub Publisher, cfg config.MailConfig, logger *slog.Logger) *MQTTMailer {
	from := cfg.From
	if from == "" {
		from = defaultFrom
	}
	return &MQTTMailer{
		pub:    pub,
		from:   from,
		topic:  mqtt.Topics{}.MailOutbox(),
		logger: logger,
	}
}

// SendResetCode queues a reset code e-mail.
func (m *MQTTMailer) SendResetCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := resetMessage(m.from, email, code, expiresAt)
	if err != nil {
		return err
	}
	if err := m.pub.PublishJSON(m.topic, msg); err != nil {
		return fmt.Errorf("queueing reset e-mail: %w", err)
	}
	m.logger.Debug("reset e-mail queued", "topic", m.topic)
	return nil
}

// LogMailer stands in for delivery when no broker is configured. It never
// logs the code.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendResetCode logs that a reset code was issued.
func (m *LogMailer) SendResetCode(_ context.Context, email, _ string, expiresAt time.Time) error {
	if email == "" {
		return ErrNoRecipient
	}
	m.logger.Warn("mail delivery not configured, reset code not sent",
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

func resetMessage(from, to, code string, expiresAt time.Time) (*Message, error) {
	if to == "" {
		return nil, ErrNoRecipient
	}
	expiresAt = expiresAt.UTC()
	return &Message{
		From:    from,
		To:      to,
		Subject: resetSubject,
		Body: fmt.Sprintf("Your password reset code is %s. It expires at %s UTC.",
			code, expiresAt.Format("15:04")),
		Template:  TemplatePasswordReset,
		Code:      code,
		ExpiresAt: expiresAt,
	}, nil
}
