package billing

import "errors"

// Sentinel errors for billing operations.
var (
	ErrNotConfigured    = errors.New("payments are not configured")
	ErrInvalidSignature = errors.New("signature verification failed")
	ErrInvalidPack      = errors.New("invalid credit value")
	ErrMalformedWebhook = errors.New("malformed webhook payload")
	ErrMissingUserID    = errors.New("userId not found in notes")
	ErrPaymentProcessed = errors.New("payment already processed")
	ErrPaymentNotFound  = errors.New("payment not found")
)
