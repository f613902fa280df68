package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/linkpulse/internal/audit"
	"github.com/nerrad567/linkpulse/internal/link"
)

// handleCreateLink creates a link, charging a credit when required.
func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var in link.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	caller := identityFromContext(r.Context())
	result, err := s.links.Create(r.Context(), *caller, in)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.recordAudit(r, auditSourceAPI, auditEvent{
		Action:     audit.ActionLinkCreated,
		EntityType: audit.EntityLink,
		EntityID:   result.LinkID,
		UserID:     caller.ID,
		Details:    map[string]any{"campaign_title": in.CampaignTitle, "credits_left": result.UserCredits},
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"data":    result,
		"message": "Link created",
	})
}

// handleListLinks returns the caller's links, and for admins the links of
// every managed user, newest first.
func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.links.List(r.Context(), *identityFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  links,
		"count": len(links),
	})
}

// handleGetLink returns one link.
func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	l, err := s.links.Get(r.Context(), *identityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": l})
}

// handleUpdateLink replaces a link's editable fields.
func (s *Server) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	var in link.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	caller := identityFromContext(r.Context())
	l, err := s.links.Update(r.Context(), *caller, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.recordAudit(r, auditSourceAPI, auditEvent{
		Action:     audit.ActionLinkUpdated,
		EntityType: audit.EntityLink,
		EntityID:   l.ID,
		UserID:     caller.ID,
		Details:    map[string]any{"owner_id": l.UserID},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"data":    l,
		"message": "Link updated",
	})
}

// handleDeleteLink removes a link and its clicks.
func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	caller := identityFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.links.Delete(r.Context(), *caller, id); err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.recordAudit(r, auditSourceAPI, auditEvent{
		Action:     audit.ActionLinkDeleted,
		EntityType: audit.EntityLink,
		EntityID:   id,
		UserID:     caller.ID,
	})

	writeJSON(w, http.StatusOK, messageResponse{Message: "Link deleted"})
}

// handleLinkAnalytics returns the clicks of one link, newest first.
func (s *Server) handleLinkAnalytics(w http.ResponseWriter, r *http.Request) {
	var q link.AnalyticsQuery
	if !decodeJSON(w, r, &q) {
		return
	}

	clicks, err := s.links.Analytics(r.Context(), *identityFromContext(r.Context()), q)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  clicks,
		"count": len(clicks),
	})
}

// handleRedirect records a click and sends the visitor to the original URL.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	target, err := s.links.Visit(r.Context(), chi.URLParam(r, "id"), link.Visit{
		IP:        s.clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}
