package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/linkpulse/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped so auditing never blocks a request.
const auditChanSize = 256

// Audit sources.
const (
	auditSourceAPI     = "api"
	auditSourceWebhook = "payment_webhook"
)

// auditEvent is one entry queued by a handler. UserID is the actor and may
// be empty for anonymous requests such as failed logins.
type auditEvent struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Details    map[string]any
}

// userEvent is an action a user performs on their own account.
func userEvent(action, userID string) auditEvent {
	return auditEvent{Action: action, EntityType: audit.EntityUser, EntityID: userID, UserID: userID}
}

// recordAudit queues ev, stamped with the request's client IP and request
// ID. Entries are dropped with a warning when the queue is full.
func (s *Server) recordAudit(r *http.Request, source string, ev auditEvent) {
	if s.auditCh == nil {
		return
	}

	details := make(map[string]any, len(ev.Details)+2)
	for k, v := range ev.Details {
		details[k] = v
	}
	details["ip"] = s.clientIP(r)
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		details["request_id"] = id
	}

	entry := &audit.AuditLog{
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		UserID:     ev.UserID,
		Source:     source,
		Details:    details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit queue full, dropping entry",
			"action", ev.Action,
			"user_id", ev.UserID,
		)
	}
}

// drainAuditLog writes queued entries one at a time until ctx is cancelled,
// then flushes whatever is still queued.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAuditEntry(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAuditEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAuditEntry(entry *audit.AuditLog) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// handleListAuditLogs returns the audit trail of the caller and the users
// the caller manages.
//
// Query parameters:
//   - action: login, user_created, credits_purchased, link_deleted, ...
//   - entity_type: user, link or payment
//   - entity_id: a single entity
//   - limit: page size (default 50, max 200)
//   - offset: entries to skip
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	limit, ok := queryInt(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, q.Get("offset"), "offset")
	if !ok {
		return
	}

	caller := identityFromContext(r.Context())
	managed, err := s.auth.ListManagedUsers(r.Context(), *caller)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	actors := make([]string, 0, len(managed)+1)
	actors = append(actors, caller.ID)
	for _, u := range managed {
		actors = append(actors, u.ID)
	}

	result, err := s.auditRepo.List(r.Context(), audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserIDs:    actors,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional non-negative integer query parameter,
// answering 400 when it is malformed.
func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
