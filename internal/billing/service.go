package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

// UserStore is the part of the credential store billing writes to.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*auth.User, error)
	AddCredits(ctx context.Context, id string, n int) (int, error)
	UpdateSubscription(ctx context.Context, id string, sub auth.Subscription) error
}

// VerifyOrderInput is the gateway checkout result posted by the client.
type VerifyOrderInput struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
	Credits   int    `json:"credits"`
}

// WebhookResult describes what a webhook changed.
type WebhookResult struct {
	Event   string
	Ignored bool
	UserID  string
	Status  auth.SubscriptionStatus
}

// Service verifies purchases and applies subscription webhooks.
type Service struct {
	users         UserStore
	ledger        Ledger
	catalog       Catalog
	keySecret     string
	webhookSecret string
	logger        *slog.Logger
}

// NewService creates the billing service. ledger records every credited
// payment so a replayed checkout is refused.
func NewService(users UserStore, ledger Ledger, cfg config.PaymentsConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:         users,
		ledger:        ledger,
		catalog:       NewCatalog(cfg),
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// Catalog returns the purchasable packs and plans.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

// VerifyOrder checks a completed order and credits the purchased pack to
// the caller, returning the updated user. A payment id is credited at most
// once; replays fail with ErrPaymentProcessed.
func (s *Service) VerifyOrder(ctx context.Context, caller auth.Identity, in VerifyOrderInput) (*auth.User, error) {
	if s.keySecret == "" || s.ledger == nil {
		return nil, ErrNotConfigured
	}
	if _, ok := s.catalog.Pack(in.Credits); !ok {
		return nil, ErrInvalidPack
	}
	if !VerifyPaymentSignature(s.keySecret, in.OrderID, in.PaymentID, in.Signature) {
		return nil, ErrInvalidSignature
	}

	payment := &Payment{PaymentID: in.PaymentID, OrderID: in.OrderID, UserID: caller.ID, Credits: in.Credits}
	if err := s.ledger.Record(ctx, payment); err != nil {
		if errors.Is(err, ErrPaymentProcessed) {
			s.logger.Warn("payment replay refused",
				"user_id", caller.ID,
				"payment_id", in.PaymentID,
			)
		}
		return nil, err
	}

	if _, err := s.users.AddCredits(ctx, caller.ID, in.Credits); err != nil {
		if relErr := s.ledger.Release(ctx, in.PaymentID); relErr != nil {
			s.logger.Error("releasing uncredited payment", "payment_id", in.PaymentID, "error", relErr)
		}
		return nil, fmt.Errorf("adding credits: %w", err)
	}
	s.logger.Info("credits purchased",
		"user_id", caller.ID,
		"credits", in.Credits,
		"payment_id", in.PaymentID,
	)
	return s.users.GetByID(ctx, caller.ID)
}

// HandleWebhook verifies and applies a subscription webhook. Events other
// than subscription status changes are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if s.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	if !VerifyWebhookSignature(s.webhookSecret, body, signature) {
		return nil, ErrInvalidSignature
	}

	ev, err := ParseWebhook(body)
	if err != nil {
		return nil, err
	}

	status, ok := StatusForEvent(ev.Event)
	if !ok {
		s.logger.Info("ignoring webhook event", "event", ev.Event)
		return &WebhookResult{Event: ev.Event, Ignored: true}, nil
	}

	entity := ev.Payload.Subscription.Entity
	userID := entity.UserID()
	if userID == "" {
		return nil, ErrMissingUserID
	}

	if err := s.users.UpdateSubscription(ctx, userID, entity.Subscription(status)); err != nil {
		return nil, err
	}
	s.logger.Info("subscription updated",
		"user_id", userID,
		"subscription_id", entity.ID,
		"status", string(status),
	)
	return &WebhookResult{Event: ev.Event, UserID: userID, Status: status}, nil
}
