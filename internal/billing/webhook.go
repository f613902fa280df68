package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/linkpulse/internal/auth"
)

// subscriptionStatuses maps gateway subscription events to stored status.
var subscriptionStatuses = map[string]auth.SubscriptionStatus{
	"subscription.activated": auth.SubscriptionActive,
	"subscription.pending":   auth.SubscriptionPending,
	"subscription.cancelled": auth.SubscriptionCanceled,
	"subscription.completed": auth.SubscriptionCompleted,
	"subscription.halted":    auth.SubscriptionHalted,
	"subscription.paused":    auth.SubscriptionPaused,
}

// StatusForEvent returns the status a subscription event sets, or false
// for events LinkPulse ignores.
func StatusForEvent(event string) (auth.SubscriptionStatus, bool) {
	status, ok := subscriptionStatuses[event]
	return status, ok
}

// WebhookEvent is the part of a gateway webhook LinkPulse reads.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription struct {
			Entity SubscriptionEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// SubscriptionEntity is the gateway's view of a subscription. Dates are
// unix seconds; zero means unset.
type SubscriptionEntity struct {
	ID             string            `json:"id"`
	PlanID         string            `json:"plan_id"`
	Status         string            `json:"status"`
	StartAt        int64             `json:"start_at"`
	EndAt          int64             `json:"end_at"`
	CurrentStart   int64             `json:"current_start"`
	CurrentEnd     int64             `json:"current_end"`
	PaidCount      int               `json:"paid_count"`
	RemainingCount int               `json:"remaining_count"`
	Notes          map[string]string `json:"notes"`
}

// UserID returns notes.userId, set when the subscription was created.
func (e SubscriptionEntity) UserID() string {
	return e.Notes["userId"]
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedWebhook, err)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedWebhook)
	}
	return &ev, nil
}

// Subscription converts the entity into stored subscription state.
func (e SubscriptionEntity) Subscription(status auth.SubscriptionStatus) auth.Subscription {
	return auth.Subscription{
		ID:                e.ID,
		PlanID:            e.PlanID,
		Status:            status,
		Start:             unixTime(e.StartAt),
		End:               unixTime(e.EndAt),
		LastBillDate:      unixTime(e.CurrentStart),
		NextBillDate:      unixTime(e.CurrentEnd),
		PaymentsMade:      e.PaidCount,
		PaymentsRemaining: e.RemainingCount,
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
