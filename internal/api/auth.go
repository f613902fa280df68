package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/linkpulse/internal/audit"
	"github.com/nerrad567/linkpulse/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// userResponse is the body returned by endpoints that establish or confirm
// a session.
type userResponse struct {
	User    any    `json:"user"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type resetRequest struct {
	Email string `json:"email"`
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// handleLogin authenticates with e-mail and password and sets both cookies.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.IP = s.clientIP(r)

	session, err := s.auth.Login(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusUnauthorized)
		if errorIsCredentialFailure(err) {
			s.recordAudit(r, auditSourceAPI, auditEvent{
				Action:     audit.ActionLoginFailed,
				EntityType: audit.EntityUser,
				Details:    map[string]any{"username": in.Username},
			})
		}
		return
	}

	s.setSessionCookies(w, session.AccessToken, session.RefreshToken)
	s.recordAudit(r, auditSourceAPI, userEvent(audit.ActionLogin, session.User.ID))
	writeJSON(w, http.StatusOK, userResponse{User: session.User, Message: "User authenticated"})
}

// handleRegister creates a viewer account and logs it in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !decodeJSON(w, r, &in) {
		return
	}

	session, err := s.auth.Register(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusUnauthorized)
		return
	}

	s.setSessionCookies(w, session.AccessToken, session.RefreshToken)
	s.recordAudit(r, auditSourceAPI, userEvent(audit.ActionRegister, session.User.ID))
	writeJSON(w, http.StatusOK, userResponse{User: session.User, Message: "User registered"})
}

// handleGoogleAuth signs in with a Google ID token or authorization code.
func (s *Server) handleGoogleAuth(w http.ResponseWriter, r *http.Request) {
	var in auth.GoogleInput
	if !decodeJSON(w, r, &in) {
		return
	}

	session, err := s.auth.GoogleLogin(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusUnauthorized)
		return
	}

	s.setSessionCookies(w, session.AccessToken, session.RefreshToken)
	s.recordAudit(r, auditSourceAPI, userEvent(audit.ActionGoogleLogin, session.User.ID))
	writeJSON(w, http.StatusOK, userResponse{User: session.User, Message: "User authenticated"})
}

// handleLogout clears both session cookies. It needs no valid session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearSessionCookies(w)
	if res, err := s.refresher.Resolve(r.Context(), cookieValue(r, accessCookieName), ""); err == nil {
		s.recordAudit(r, auditSourceAPI, userEvent(audit.ActionLogout, res.Identity.ID))
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
}

// handleIsUserLoggedIn reports the caller resolved by protect.
func (s *Server) handleIsUserLoggedIn(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userResponse{
		User:    identityFromContext(r.Context()),
		Message: "User logged in",
	})
}

// handleSendResetCode answers the same way whether or not the account exists.
func (s *Server) handleSendResetCode(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	s.recordAudit(r, auditSourceAPI, auditEvent{Action: audit.ActionPasswordResetRequested, EntityType: audit.EntityUser})
	writeJSON(w, http.StatusOK, messageResponse{
		Message: "If an account exists for that email, a reset code has been sent",
	})
}

// handleResetPassword consumes a reset code and sets the new password.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in auth.ResetInput
	if !decodeJSON(w, r, &in) {
		return
	}

	if err := s.auth.ResetPassword(r.Context(), in); err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	s.recordAudit(r, auditSourceAPI, auditEvent{Action: audit.ActionPasswordReset, EntityType: audit.EntityUser})
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successful"})
}

// handleWSTicket issues a single-use WebSocket ticket bound to the caller.
// The client presents it on the upgrade request so that tokens never appear
// in URLs.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	ticket := s.tickets.issue(*identity)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

func errorIsCredentialFailure(err error) bool {
	return errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrRateLimited)
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
	now     func() time.Time
}

type ticketEntry struct {
	identity  auth.Identity
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{
		tickets: make(map[string]ticketEntry),
		now:     time.Now,
	}
}

// issue stores a new ticket for identity and returns it.
func (t *ticketStore) issue(identity auth.Identity) string {
	ticket := generateTicket()

	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{
		identity:  identity,
		expiresAt: t.now().Add(ticketTTL),
	}
	t.mu.Unlock()

	return ticket
}

// consume checks a ticket and removes it (single-use).
func (t *ticketStore) consume(ticket string) (auth.Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return auth.Identity{}, false
	}
	delete(t.tickets, ticket)

	if !t.now().Before(entry.expiresAt) {
		return auth.Identity{}, false
	}
	return entry.identity, true
}

// cleanExpired removes expired tickets from the store.
func (t *ticketStore) cleanExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for ticket, entry := range t.tickets {
		if !now.Before(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// size returns the number of pending tickets.
func (t *ticketStore) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tickets)
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop runs cleanExpired periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.cleanExpired()
		}
	}
}
