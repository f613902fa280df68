package api

import (
	"io"
	"net/http"

	"github.com/nerrad567/linkpulse/internal/audit"
	"github.com/nerrad567/linkpulse/internal/billing"
)

// webhookSignatureHeader carries the gateway's HMAC of the raw body.
const webhookSignatureHeader = "X-Razorpay-Signature"

// handleListPacks returns the purchasable credit packs and plans.
func (s *Server) handleListPacks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.billing.Catalog()})
}

// handleVerifyOrder credits a completed purchase and re-issues the access
// cookie so the token carries the new balance.
func (s *Server) handleVerifyOrder(w http.ResponseWriter, r *http.Request) {
	var in billing.VerifyOrderInput
	if !decodeJSON(w, r, &in) {
		return
	}
	caller := identityFromContext(r.Context())

	user, err := s.billing.VerifyOrder(r.Context(), *caller, in)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	token, err := s.auth.IssueAccessToken(user)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.setAccessCookie(w, token)

	s.recordAudit(r, auditSourceAPI, auditEvent{
		Action:     audit.ActionCreditsPurchased,
		EntityType: audit.EntityPayment,
		EntityID:   in.PaymentID,
		UserID:     caller.ID,
		Details:    map[string]any{"credits": in.Credits, "order_id": in.OrderID},
	})
	writeJSON(w, http.StatusOK, userResponse{User: user, Message: "Payment verified"})
}

// handlePaymentWebhook applies a signed subscription webhook. The signature
// covers the exact bytes received, so the body is read raw.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	result, err := s.billing.HandleWebhook(r.Context(), body, r.Header.Get(webhookSignatureHeader))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	if result.Ignored {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "event": result.Event})
		return
	}

	s.recordAudit(r, auditSourceWebhook, auditEvent{
		Action:     audit.ActionSubscriptionUpdated,
		EntityType: audit.EntityUser,
		EntityID:   result.UserID,
		UserID:     result.UserID,
		Details:    map[string]any{"event": result.Event, "status": result.Status},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"event":              result.Event,
		"subscriptionStatus": result.Status,
	})
}
