package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/askgate/askgate/internal/admission"
	"github.com/askgate/askgate/internal/answer"
	"github.com/askgate/askgate/internal/guard"
	"github.com/askgate/askgate/internal/knowledge"
	"github.com/askgate/askgate/internal/session"
)

// maxRequestBody caps how much of a query body the server will read.
// Anything larger is rejected by the payload guard rule, which sees the
// declared Content-Length even when the body was not read in full.
const maxRequestBody = 4 << 20

// admitter runs the admission pipeline for one request.
type admitter interface {
	Admit(req admission.Request) admission.Verdict
}

// methodInspector evaluates method rules only. The query handler calls it
// before any token work so a disallowed verb is turned away without
// revealing whether the credential would have passed.
type methodInspector interface {
	InspectMethod(method string) guard.Verdict
}

// retriever fetches context chunks for a question.
type retriever interface {
	Retrieve(ctx context.Context, question string, filters map[string]string) ([]knowledge.Chunk, error)
}

// sessionRecorder persists conversation turns. Optional; nil disables
// session features on the query path.
type sessionRecorder interface {
	AppendMessage(ctx context.Context, sessionID, identityID string, msg session.Message) (*session.Message, error)
}

// QueryHandler serves the main ask route: admission, retrieval, answer
// generation, and assembly in that order, short-circuiting at the first
// stage that says no.
type QueryHandler struct {
	pipeline   admitter
	inspector  methodInspector
	retriever  retriever
	generator  answer.Generator
	assembler  *answer.Assembler
	sessions   sessionRecorder
	trustProxy bool
	logger     *slog.Logger
}

// NewQueryHandler creates a query handler. sessions may be nil.
func NewQueryHandler(
	pipeline admitter,
	inspector methodInspector,
	retr retriever,
	generator answer.Generator,
	assembler *answer.Assembler,
	sessions sessionRecorder,
	trustProxy bool,
	logger *slog.Logger,
) (*QueryHandler, error) {
	if pipeline == nil {
		return nil, errors.New("admission pipeline is required")
	}
	if inspector == nil {
		return nil, errors.New("guard inspector is required")
	}
	if retr == nil {
		return nil, errors.New("retriever is required")
	}
	if generator == nil {
		return nil, errors.New("answer generator is required")
	}
	if assembler == nil {
		return nil, errors.New("answer assembler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{
		pipeline:   pipeline,
		inspector:  inspector,
		retriever:  retr,
		generator:  generator,
		assembler:  assembler,
		sessions:   sessions,
		trustProxy: trustProxy,
		logger:     logger,
	}, nil
}

type queryRequest struct {
	Question  string            `json:"question"`
	Filters   map[string]string `json:"filters,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// queryResponse is the assembled answer plus the session it was appended
// to, when the caller supplied one.
type queryResponse struct {
	Answer    string            `json:"answer"`
	Citations []answer.Citation `json:"citations"`
	Grounded  bool              `json:"grounded"`
	SessionID string            `json:"session_id,omitempty"`
}

// Ask handles /api/v1/query. The route is registered without a method
// pattern so the guard's method rules decide which verbs pass.
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if v := h.inspector.InspectMethod(r.Method); !v.Allowed {
		// The body never names the matched rule.
		writeError(w, http.StatusForbidden, codeForbidden, "request not allowed", h.logger)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "failed to read request body", h.logger)
		return
	}
	bodySize := int64(len(body))
	if r.ContentLength > bodySize {
		bodySize = r.ContentLength
	}

	verdict := h.pipeline.Admit(admission.Request{
		Token:      bearerToken(r),
		SourceAddr: clientIP(r, h.trustProxy),
		Method:     r.Method,
		Header:     r.Header,
		BodySize:   bodySize,
		Body:       body,
	})

	switch verdict.Outcome {
	case admission.OutcomeAdmitted:
	case admission.OutcomeUnauthenticated:
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required", h.logger)
		return
	case admission.OutcomeRateLimited:
		writeRateLimited(w, verdict.RetryAfter, h.logger)
		return
	case admission.OutcomeBlocked:
		writeError(w, http.StatusForbidden, codeForbidden, "request not allowed", h.logger)
		return
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "admission failed", h.logger)
		return
	}

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", h.logger)
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "question is required", h.logger)
		return
	}

	ctx := r.Context()
	chunks, err := h.retriever.Retrieve(ctx, req.Question, req.Filters)
	if err != nil {
		h.logger.Error("retrieval failed", "error", err, "request_id", requestIDFromContext(ctx))
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "knowledge base unavailable", h.logger)
		return
	}

	result, err := h.generator.Generate(ctx, req.Question, chunks)
	if err != nil {
		h.logger.Error("answer generation failed", "error", err, "request_id", requestIDFromContext(ctx))
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "answer generation unavailable", h.logger)
		return
	}

	resp := h.assembler.Assemble(chunks, result)

	recorded := ""
	if req.SessionID != "" && h.sessions != nil {
		if h.recordTurn(ctx, req.SessionID, verdict.IdentityID, req.Question, resp) {
			recorded = req.SessionID
		}
	}

	h.logger.Info("query answered",
		"identity_id", verdict.IdentityID,
		"chunks", len(chunks),
		"grounded", resp.Grounded,
		"request_id", requestIDFromContext(ctx),
	)
	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    resp.Answer,
		Citations: resp.Citations,
		Grounded:  resp.Grounded,
		SessionID: recorded,
	}, h.logger)
}

// recordTurn appends the user question and the assistant answer to the
// session. Persistence failures are logged, not surfaced; the answer was
// already produced and the caller should get it.
func (h *QueryHandler) recordTurn(ctx context.Context, sessionID, identityID, question string, resp answer.Response) bool {
	if _, err := h.sessions.AppendMessage(ctx, sessionID, identityID, session.Message{
		Role:    session.RoleUser,
		Content: question,
	}); err != nil {
		h.logger.Warn("failed to record user turn", "error", err, "session_id", sessionID)
		return false
	}
	if _, err := h.sessions.AppendMessage(ctx, sessionID, identityID, session.Message{
		Role:      session.RoleAssistant,
		Content:   resp.Answer,
		Citations: resp.Citations,
		Grounded:  resp.Grounded,
	}); err != nil {
		h.logger.Warn("failed to record assistant turn", "error", err, "session_id", sessionID)
		return false
	}
	return true
}
