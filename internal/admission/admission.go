// Package admission orchestrates the request-admission pipeline: token
// verification, rate limiting, then pattern inspection, in that order,
// short-circuiting at the first rejection. No stage downstream of a
// failed stage runs, so unauthenticated callers never spend retrieval
// or inspection cost.
package admission

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/askgate/askgate/internal/guard"
	"github.com/askgate/askgate/internal/ratelimit"
	"github.com/askgate/askgate/internal/token"
)

// Outcome categorizes a pipeline verdict. Rejection outcomes map to the
// reason category surfaced to the caller; the matched guard rule never
// leaves the process.
type Outcome int

const (
	// OutcomeAdmitted means every stage passed; forward to retrieval.
	OutcomeAdmitted Outcome = iota
	// OutcomeUnauthenticated means token verification failed.
	OutcomeUnauthenticated
	// OutcomeRateLimited means the identity's window budget is spent.
	OutcomeRateLimited
	// OutcomeBlocked means a guard rule matched.
	OutcomeBlocked
)

// Request carries the fields the pipeline stages inspect. The transport
// layer builds one per inbound call.
type Request struct {
	Token      string
	SourceAddr string
	Method     string
	Header     http.Header
	BodySize   int64
	Body       []byte
}

// Verdict is the pipeline's terminal decision for one request.
type Verdict struct {
	Outcome    Outcome
	IdentityID string        // set when authentication succeeded
	TokenNonce string        // set when authentication succeeded
	RetryAfter time.Duration // set on OutcomeRateLimited
}

// Verifier checks a bearer token and resolves its claims.
type Verifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// Limiter records an attempt for key and decides whether it is within
// budget.
type Limiter interface {
	Check(key string, now time.Time) ratelimit.Decision
}

// Inspector screens a request against the guard rule set.
type Inspector interface {
	Inspect(req guard.Request) guard.Verdict
}

// Pipeline wires the three admission stages. Stateless itself; all
// cross-request state lives in the stages.
type Pipeline struct {
	verifier  Verifier
	limiter   Limiter
	inspector Inspector
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Pipeline over the given stages.
func New(verifier Verifier, limiter Limiter, inspector Inspector, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		verifier:  verifier,
		limiter:   limiter,
		inspector: inspector,
		logger:    logger,
		now:       time.Now,
	}
}

// Admit runs the pipeline to a terminal verdict. Stages execute strictly
// in sequence; the first rejection is final.
func (p *Pipeline) Admit(req Request) Verdict {
	now := p.now()

	claims, err := p.verifier.Verify(req.Token)
	if err != nil {
		// Failed attempts count against the source address so that
		// credential probing still consumes a rate budget.
		p.limiter.Check(addrKey(req.SourceAddr), now)
		p.logger.Info("admission denied",
			"stage", "auth",
			"reason", authReason(err),
			"source", req.SourceAddr,
		)
		return Verdict{Outcome: OutcomeUnauthenticated}
	}
	identityID := claims.IdentityID()

	decision := p.limiter.Check(identityKey(identityID), now)
	if !decision.Allowed {
		p.logger.Info("admission denied",
			"stage", "rate",
			"identity", identityID,
			"retry_after", decision.RetryAfter,
		)
		return Verdict{
			Outcome:    OutcomeRateLimited,
			IdentityID: identityID,
			RetryAfter: decision.RetryAfter,
		}
	}

	verdict := p.inspector.Inspect(guard.Request{
		Method:   req.Method,
		Header:   req.Header,
		BodySize: req.BodySize,
		Body:     req.Body,
	})
	if !verdict.Allowed {
		p.logger.Info("admission denied",
			"stage", "guard",
			"identity", identityID,
			"rule_id", verdict.RuleID,
		)
		return Verdict{
			Outcome:    OutcomeBlocked,
			IdentityID: identityID,
		}
	}

	return Verdict{
		Outcome:    OutcomeAdmitted,
		IdentityID: identityID,
		TokenNonce: claims.Nonce(),
	}
}

// identityKey namespaces an identity-keyed counter.
func identityKey(id string) string { return "id:" + id }

// addrKey namespaces a source-address counter so an attacker's address
// and a victim identity never share a bucket.
func addrKey(addr string) string { return "addr:" + addr }

// authReason maps a verification error to a stable log label. The caller
// always sees the same generic unauthenticated response.
func authReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, token.ErrRevoked):
		return "revoked"
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}
