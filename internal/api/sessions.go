package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/askgate/askgate/internal/session"
)

// SessionHandler serves conversation session CRUD. Every route runs
// behind requireAuth; the identity comes from the request context and
// scopes every store call.
type SessionHandler struct {
	store  *session.Store
	logger *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store *session.Store, logger *slog.Logger) (*SessionHandler, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{store: store, logger: logger}, nil
}

type createSessionRequest struct {
	Title string `json:"title"`
}

// Create handles POST /api/v1/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	identityID, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required", h.logger)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", h.logger)
		return
	}

	sess, err := h.store.Create(r.Context(), identityID, req.Title)
	if err != nil {
		h.logger.Error("session create failed", "error", err, "identity_id", identityID)
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to create session", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, sess, h.logger)
}

// List handles GET /api/v1/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	identityID, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required", h.logger)
		return
	}

	sessions, err := h.store.List(r.Context(), identityID)
	if err != nil {
		h.logger.Error("session list failed", "error", err, "identity_id", identityID)
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to list sessions", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions}, h.logger)
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	identityID, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required", h.logger)
		return
	}

	sess, err := h.store.Get(r.Context(), r.PathValue("id"), identityID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "session not found", h.logger)
			return
		}
		h.logger.Error("session get failed", "error", err, "identity_id", identityID)
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to get session", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sess, h.logger)
}

// Delete handles DELETE /api/v1/sessions/{id}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identityID, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required", h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), r.PathValue("id"), identityID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "session not found", h.logger)
			return
		}
		h.logger.Error("session delete failed", "error", err, "identity_id", identityID)
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to delete session", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/sessions/{id}/messages.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	identityID, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required", h.logger)
		return
	}

	messages, err := h.store.Messages(r.Context(), r.PathValue("id"), identityID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "session not found", h.logger)
			return
		}
		h.logger.Error("session messages failed", "error", err, "identity_id", identityID)
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load messages", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages}, h.logger)
}
