package link

import "errors"

// Sentinel errors for link operations.
var (
	ErrLinkNotFound       = errors.New("link ID does not exist")
	ErrForbidden          = errors.New("unauthorized access to this link")
	ErrInsufficientCredit = errors.New("insufficient credit balance or no active subscription")
	ErrAnalyticsLocked    = errors.New("insufficient credit balance or no active subscription to view analytics")
	ErrGeoLookupFailed    = errors.New("geo-location lookup failed")
)
