package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/askgate/askgate/internal/filestore"
)

// FileHandler issues short-lived download links for the source documents
// cited in answers. The store is optional; when object storage is not
// configured the route answers 503.
type FileHandler struct {
	store  *filestore.Store
	logger *slog.Logger
}

// NewFileHandler creates a file handler. store may be nil.
func NewFileHandler(store *filestore.Store, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{store: store, logger: logger}
}

type fileURLRequest struct {
	SourceRef string `json:"source_ref"`
}

type fileURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DocumentURL handles POST /api/v1/files/url.
func (h *FileHandler) DocumentURL(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "file storage not configured", h.logger)
		return
	}

	var req fileURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", h.logger)
		return
	}

	url, expiresAt, err := h.store.DocumentURL(r.Context(), req.SourceRef)
	if err != nil {
		if errors.Is(err, filestore.ErrInvalidRef) {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid source reference", h.logger)
			return
		}
		h.logger.Error("presign failed", "error", err, "source_ref", req.SourceRef)
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to generate download link", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, fileURLResponse{URL: url, ExpiresAt: expiresAt}, h.logger)
}
