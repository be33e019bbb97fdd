package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/askgate/askgate/internal/admission"
	"github.com/askgate/askgate/internal/answer"
	"github.com/askgate/askgate/internal/guard"
	"github.com/askgate/askgate/internal/identity"
	"github.com/askgate/askgate/internal/knowledge"
	"github.com/askgate/askgate/internal/log"
	"github.com/askgate/askgate/internal/ratelimit"
	"github.com/askgate/askgate/internal/token"
)

// memRepo is an in-memory identity.Repository.
type memRepo struct {
	mu     sync.Mutex
	byID   map[string]*identity.Identity
	byMail map[string]*identity.Identity
	nextID int
}

func newMemRepo() *memRepo {
	return &memRepo{
		byID:   make(map[string]*identity.Identity),
		byMail: make(map[string]*identity.Identity),
	}
}

func (r *memRepo) Create(_ context.Context, email string, hash []byte) (*identity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byMail[email]; exists {
		return nil, identity.ErrEmailTaken
	}
	r.nextID++
	ident := &identity.Identity{
		ID:             fmt.Sprintf("identity-%d", r.nextID),
		Email:          email,
		CredentialHash: hash,
		Status:         identity.StatusActive,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	r.byID[ident.ID] = ident
	r.byMail[email] = ident
	return ident, nil
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*identity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byMail[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return ident, nil
}

// stubRetriever returns canned chunks and counts calls.
type stubRetriever struct {
	mu     sync.Mutex
	chunks []knowledge.Chunk
	err    error
	calls  int
}

func (s *stubRetriever) Retrieve(context.Context, string, map[string]string) ([]knowledge.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.chunks, nil
}

func (s *stubRetriever) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubGenerator returns a canned result.
type stubGenerator struct {
	result *answer.Result
	err    error
}

func (s *stubGenerator) Generate(context.Context, string, []knowledge.Chunk) (*answer.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// testHarness bundles the wired server with handles the tests poke at.
type testHarness struct {
	handler   http.Handler
	tokens    *token.Service
	retriever *stubRetriever
}

func newTestHarness(t *testing.T, retr *stubRetriever, gen answer.Generator, rateLimit int) *testHarness {
	t.Helper()
	logger := log.NewNop()

	tokens, err := token.New([]byte("0123456789abcdef0123456789abcdef"), time.Hour, logger)
	if err != nil {
		t.Fatalf("token.New() error = %v", err)
	}

	identities, err := identity.NewService(newMemRepo(), logger)
	if err != nil {
		t.Fatalf("identity.NewService() error = %v", err)
	}

	rules, err := guard.DefaultRules(guard.RuleConfig{
		AllowedMethods:  []string{http.MethodPost},
		RequiredHeaders: []string{"Content-Type"},
		MaxBodyBytes:    16 * 1024,
	})
	if err != nil {
		t.Fatalf("guard.DefaultRules() error = %v", err)
	}
	patternGuard := guard.New(rules, logger)

	limiter := ratelimit.New(rateLimit, time.Minute, logger)
	pipeline := admission.New(tokens, limiter, patternGuard, logger)

	assembler, err := answer.NewAssembler(answer.FallbackNone, logger)
	if err != nil {
		t.Fatalf("answer.NewAssembler() error = %v", err)
	}

	srv, err := NewServer(ServerConfig{
		Logger:     logger,
		Identities: identities,
		Tokens:     tokens,
		Pipeline:   pipeline,
		Inspector:  patternGuard,
		Retriever:  retr,
		Generator:  gen,
		Assembler:  assembler,
		RateBurst:  10000,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	return &testHarness{handler: srv.Handler(), tokens: tokens, retriever: retr}
}

func (h *testHarness) ask(t *testing.T, method, bearer, question string) *httptest.ResponseRecorder {
	t.Helper()
	body := bytes.NewBufferString(`{"question":` + strconv.Quote(question) + `}`)
	req := httptest.NewRequest(method, "/api/v1/query", body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

var retrievedChunks = []knowledge.Chunk{
	{ID: "chunk-1", SourceRef: "docs/refunds.md", Content: "Refunds are issued within 14 days.", Similarity: 0.91},
	{ID: "chunk-2", SourceRef: "docs/shipping.md", Content: "Standard shipping takes 3-5 business days.", Similarity: 0.72},
}

func TestAsk_GroundedAnswer(t *testing.T) {
	h := newTestHarness(t,
		&stubRetriever{chunks: retrievedChunks},
		&stubGenerator{result: &answer.Result{
			Text:         "Refunds take 14 days [1] and shipping 3-5 days [2].",
			UsedChunkIDs: []string{"chunk-1", "chunk-2"},
		}},
		60)

	bearer, err := h.tokens.Issue("identity-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	rec := h.ask(t, http.MethodPost, bearer, "how do refunds work?")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Grounded {
		t.Error("grounded = false, want true")
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(resp.Citations))
	}
	if resp.Citations[0].SourceRef != "docs/refunds.md" {
		t.Errorf("citation[0].source_ref = %q, want docs/refunds.md", resp.Citations[0].SourceRef)
	}
	if resp.Citations[1].SourceRef != "docs/shipping.md" {
		t.Errorf("citation[1].source_ref = %q, want docs/shipping.md", resp.Citations[1].SourceRef)
	}
}

func TestAsk_RateLimitWindow(t *testing.T) {
	h := newTestHarness(t,
		&stubRetriever{chunks: retrievedChunks},
		&stubGenerator{result: &answer.Result{Text: "ok", UsedChunkIDs: []string{"chunk-1"}}},
		60)

	bearer, err := h.tokens.Issue("identity-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	for i := range 60 {
		if rec := h.ask(t, http.MethodPost, bearer, "q"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	rec := h.ask(t, http.MethodPost, bearer, "q")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("61st request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After header %q is not an integer", rec.Header().Get("Retry-After"))
	}
	if retryAfter < 1 || retryAfter > 60 {
		t.Errorf("Retry-After = %d, want within (0, 60]", retryAfter)
	}

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Error != codeRateLimited {
		t.Errorf("error code = %q, want %q", body.Error, codeRateLimited)
	}
	if body.RetryAfterSeconds < 1 || body.RetryAfterSeconds > 60 {
		t.Errorf("retry_after_seconds = %d, want within (0, 60]", body.RetryAfterSeconds)
	}
}

func TestAsk_InvalidTokenShortCircuits(t *testing.T) {
	retr := &stubRetriever{chunks: retrievedChunks}
	h := newTestHarness(t, retr,
		&stubGenerator{result: &answer.Result{Text: "ok"}},
		60)

	rec := h.ask(t, http.MethodPost, "not-a-valid-token", "q")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if n := retr.callCount(); n != 0 {
		t.Errorf("retriever called %d times after rejected token, want 0", n)
	}
}

func TestAsk_DisallowedMethod(t *testing.T) {
	retr := &stubRetriever{chunks: retrievedChunks}
	h := newTestHarness(t, retr,
		&stubGenerator{result: &answer.Result{Text: "ok"}},
		60)

	bearer, err := h.tokens.Issue("identity-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	rec := h.ask(t, http.MethodGet, bearer, "q")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	// The body stays generic: no rule identifier, no auth detail.
	body := rec.Body.String()
	for _, leak := range []string{"method_whitelist", "rule", "token"} {
		if strings.Contains(body, leak) {
			t.Errorf("response body contains %q: %s", leak, body)
		}
	}
	if n := retr.callCount(); n != 0 {
		t.Errorf("retriever called %d times for disallowed method, want 0", n)
	}
}

func TestAsk_EmptyRetrievalUngrounded(t *testing.T) {
	h := newTestHarness(t,
		&stubRetriever{chunks: []knowledge.Chunk{}},
		&stubGenerator{result: &answer.Result{Text: "I don't have enough information to answer that."}},
		60)

	bearer, err := h.tokens.Issue("identity-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	rec := h.ask(t, http.MethodPost, bearer, "what is the meaning of life?")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Grounded {
		t.Error("grounded = true with no retrieved chunks, want false")
	}
	if len(resp.Citations) != 0 {
		t.Errorf("citations = %d, want 0", len(resp.Citations))
	}
}

func TestAsk_EmptyQuestionRejected(t *testing.T) {
	h := newTestHarness(t,
		&stubRetriever{chunks: retrievedChunks},
		&stubGenerator{result: &answer.Result{Text: "ok"}},
		60)

	bearer, err := h.tokens.Issue("identity-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	rec := h.ask(t, http.MethodPost, bearer, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAuthFlow(t *testing.T) {
	h := newTestHarness(t,
		&stubRetriever{chunks: retrievedChunks},
		&stubGenerator{result: &answer.Result{Text: "ok"}},
		60)

	do := func(method, path, body, bearer string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}

	creds := `{"email":"ada@example.com","password":"correct horse"}`

	rec := do(http.MethodPost, "/api/v1/auth/signup", creds, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: status = %d, want %d, body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	// Duplicate signup conflicts.
	if rec := do(http.MethodPost, "/api/v1/auth/signup", creds, ""); rec.Code != http.StatusConflict {
		t.Errorf("duplicate signup: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = do(http.MethodPost, "/api/v1/auth/login", creds, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var login struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	if login.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", login.TokenType)
	}
	if login.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", login.ExpiresIn)
	}

	if rec := do(http.MethodGet, "/api/v1/auth/verify", "", login.Token); rec.Code != http.StatusOK {
		t.Errorf("verify: status = %d, want %d", rec.Code, http.StatusOK)
	}

	if rec := do(http.MethodPost, "/api/v1/auth/logout", "", login.Token); rec.Code != http.StatusNoContent {
		t.Errorf("logout: status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	// Revoked token no longer verifies.
	if rec := do(http.MethodGet, "/api/v1/auth/verify", "", login.Token); rec.Code != http.StatusUnauthorized {
		t.Errorf("verify after logout: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	if rec := do(http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"wrong"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password login: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestHarness(t,
		&stubRetriever{},
		&stubGenerator{result: &answer.Result{Text: "ok"}},
		60)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health: status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/ready: status = %d, want %d", rec.Code, http.StatusOK)
	}
}
