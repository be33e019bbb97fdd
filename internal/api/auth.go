package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/askgate/askgate/internal/identity"
	"github.com/askgate/askgate/internal/token"
)

// AuthHandler serves signup, login, verification, and logout.
type AuthHandler struct {
	identities *identity.Service
	tokens     *token.Service
	logger     *slog.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(identities *identity.Service, tokens *token.Service, logger *slog.Logger) (*AuthHandler, error) {
	if identities == nil {
		return nil, errors.New("identity service is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{identities: identities, tokens: tokens, logger: logger}, nil
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupResponse struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
}

type loginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// SignUp handles POST /api/v1/auth/signup.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", h.logger)
		return
	}

	ident, err := h.identities.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid email address", h.logger)
		case errors.Is(err, identity.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "password does not meet requirements", h.logger)
		case errors.Is(err, identity.ErrEmailTaken):
			writeError(w, http.StatusConflict, codeConflict, "email already registered", h.logger)
		default:
			h.logger.Error("signup failed", "error", err)
			writeError(w, http.StatusInternalServerError, codeInternalError, "signup failed", h.logger)
		}
		return
	}

	h.logger.Info("identity created", "identity_id", ident.ID)
	writeJSON(w, http.StatusCreated, signupResponse{IdentityID: ident.ID, Email: ident.Email}, h.logger)
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", h.logger)
		return
	}

	ident, err := h.identities.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "invalid credentials", h.logger)
		case errors.Is(err, identity.ErrSuspended):
			writeError(w, http.StatusForbidden, codeForbidden, "identity suspended", h.logger)
		default:
			h.logger.Error("login failed", "error", err)
			writeError(w, http.StatusInternalServerError, codeInternalError, "login failed", h.logger)
		}
		return
	}

	signed, err := h.tokens.Issue(ident.ID)
	if err != nil {
		h.logger.Error("token issue failed", "error", err, "identity_id", ident.ID)
		writeError(w, http.StatusInternalServerError, codeInternalError, "login failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresIn: int64(h.tokens.TTL().Seconds()),
	}, h.logger)
}

// Verify handles GET /api/v1/auth/verify. It runs behind requireAuth, so
// reaching it means the token checked out.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	identityID, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identity_id": identityID}, h.logger)
}

// Logout handles POST /api/v1/auth/logout. The presented token's nonce goes
// on the revocation list until the token would have expired anyway.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required", h.logger)
		return
	}

	h.tokens.Revoke(claims.Nonce(), claims.ExpiresAt.Time)
	w.WriteHeader(http.StatusNoContent)
}
