package auth

import (
	"errors"
	"time"
)

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer is the default for self-registered and Google accounts.
	RoleViewer Role = "viewer"

	// RoleDeveloper is assignable by an admin to managed users.
	RoleDeveloper Role = "developer"

	// RoleAdmin manages users and every link owned by its managed users.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every assignable role, lowest privilege first.
var ValidRoles = []Role{RoleViewer, RoleDeveloper, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// SubscriptionStatus mirrors the payment provider's subscription lifecycle.
type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = ""
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionCanceled  SubscriptionStatus = "canceled"
	SubscriptionCompleted SubscriptionStatus = "completed"
	SubscriptionHalted    SubscriptionStatus = "halted"
	SubscriptionPaused    SubscriptionStatus = "paused"
)

// Subscription is the billing state attached to a user.
type Subscription struct {
	ID                string             `json:"id,omitempty"`
	PlanID            string             `json:"planId,omitempty"`
	Status            SubscriptionStatus `json:"status,omitempty"`
	Start             *time.Time         `json:"start,omitempty"`
	End               *time.Time         `json:"end,omitempty"`
	LastBillDate      *time.Time         `json:"lastBillDate,omitempty"`
	NextBillDate      *time.Time         `json:"nextBillDate,omitempty"`
	PaymentsMade      int                `json:"paymentsMade"`
	PaymentsRemaining int                `json:"paymentsRemaining"`
}

// IsActive reports whether the subscription currently grants unlimited use.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionActive
}

// User is a stored account.
type User struct {
	ID             string       `json:"id"`
	Email          string       `json:"email"`
	Name           string       `json:"name"`
	PasswordHash   string       `json:"-"`
	IsGoogleUser   bool         `json:"isGoogleUser"`
	GoogleID       string       `json:"-"`
	Role           Role         `json:"role"`
	AdminID        *string      `json:"adminId"`
	Credits        int          `json:"credits"`
	Subscription   Subscription `json:"subscription"`
	ResetCodeHash  string       `json:"-"`
	ResetExpiresAt *time.Time   `json:"-"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// HasPassword reports whether password login is possible for the account.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Identity returns the claim snapshot carried by tokens.
func (u *User) Identity() Identity {
	id := Identity{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         u.Role,
		Credits:      u.Credits,
		Subscription: u.Subscription,
	}
	if u.AdminID != nil {
		adminID := *u.AdminID
		id.AdminID = &adminID
	}
	return id
}

// Identity is the authenticated caller as seen by handlers and tokens.
type Identity struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Role         Role         `json:"role"`
	AdminID      *string      `json:"adminId"`
	Credits      int          `json:"credits"`
	Subscription Subscription `json:"subscription"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanUsePaidFeatures reports whether the identity has a credit or an
// active subscription.
func (i Identity) CanUsePaidFeatures() bool {
	return i.Credits >= 1 || i.Subscription.IsActive()
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrUserNotFound             = errors.New("user not found")
	ErrEmailExists              = errors.New("user already exists with the given email")
	ErrTokenExpired             = errors.New("token has expired")
	ErrTokenInvalid             = errors.New("invalid token")
	ErrUnauthenticated          = errors.New("unauthenticated")
	ErrForbidden                = errors.New("insufficient permissions")
	ErrNoAccessToken            = errors.New("no access token")
	ErrNoRefreshToken           = errors.New("no refresh token")
	ErrInvalidRefreshToken      = errors.New("invalid refresh token")
	ErrInvalidResetCode         = errors.New("invalid or expired reset code")
	ErrRateLimited              = errors.New("too many attempts")
	ErrInsufficientCredits      = errors.New("insufficient credit balance")
	ErrInvalidGoogleCredential  = errors.New("invalid google credential")
	ErrGoogleSignInNotAvailable = errors.New("google sign-in is not configured")
	ErrNotManaged               = errors.New("user is not managed by caller")
)
