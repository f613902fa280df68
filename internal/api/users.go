package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/linkpulse/internal/audit"
	"github.com/nerrad567/linkpulse/internal/auth"
)

// handleCreateUser provisions an account managed by the calling admin.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in auth.CreateUserInput
	if !decodeJSON(w, r, &in) {
		return
	}
	caller := identityFromContext(r.Context())

	user, err := s.auth.CreateManagedUser(r.Context(), *caller, in)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "role", user.Role, "created_by", caller.ID)
	s.recordAudit(r, auditSourceAPI, auditEvent{
		Action:     audit.ActionUserCreated,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		UserID:     caller.ID,
		Details:    map[string]any{"email": user.Email, "role": user.Role},
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    user,
		"message": "User created",
	})
}

// handleListUsers returns the accounts managed by the caller.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.ListManagedUsers(r.Context(), *identityFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	if users == nil {
		users = []auth.User{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleUpdateUser changes the name or role of a managed account.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in auth.UpdateUserInput
	if !decodeJSON(w, r, &in) {
		return
	}
	caller := identityFromContext(r.Context())
	id := chi.URLParam(r, "id")

	user, err := s.auth.UpdateManagedUser(r.Context(), *caller, id, in)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusBadRequest)
		return
	}

	details := map[string]any{}
	if in.Name != nil {
		details["name"] = *in.Name
	}
	if in.Role != nil {
		details["role"] = *in.Role
	}
	s.recordAudit(r, auditSourceAPI, auditEvent{
		Action:     audit.ActionUserUpdated,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		UserID:     caller.ID,
		Details:    details,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"message": "User updated",
	})
}
