// Package guard screens admitted requests for known attack signatures.
//
// Rules are data, not code: each Rule is a record with a kind and its
// parameters, and the Guard evaluates them in a fixed kind order (method,
// header, size, content signature). Cheap structural checks run before
// content inspection so a flood of malformed requests never pays the
// regexp cost. Adding or removing a rule never touches evaluation logic.
package guard

import (
	"log/slog"
	"net/http"
	"sort"
)

// Kind identifies what part of the request a rule constrains.
type Kind int

const (
	// KindMethod restricts the request to a method whitelist.
	KindMethod Kind = iota
	// KindHeader requires a header to be present and non-empty.
	KindHeader
	// KindSize caps the declared payload size.
	KindSize
	// KindSignature matches a content pattern against the payload.
	KindSignature
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindHeader:
		return "header"
	case KindSize:
		return "size"
	case KindSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// Severity classifies a rule for logging and alerting. It never changes
// the verdict; every matched rule rejects.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Request is the subset of an inbound call the guard inspects. The
// admission layer builds one per request; the guard never reads the
// network directly.
type Request struct {
	Method   string
	Header   http.Header
	BodySize int64
	Body     []byte
}

// Verdict is the outcome of an inspection. RuleID identifies the matched
// rule for internal logging only; callers surface a generic rejection and
// must never echo it to the client.
type Verdict struct {
	Allowed  bool
	RuleID   string
	Severity Severity
}

// allow is the verdict when no rule matches.
var allow = Verdict{Allowed: true}

// Guard evaluates an immutable, ordered rule set. Safe for concurrent use;
// rules are loaded once at startup and never mutated.
type Guard struct {
	rules  []Rule
	logger *slog.Logger
}

// New creates a Guard over rules. Rules are reordered by kind (method,
// header, size, signature); within a kind the given order is preserved.
func New(rules []Rule, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind < ordered[j].Kind
	})

	return &Guard{rules: ordered, logger: logger}
}

// Inspect evaluates every rule in order and returns the first match as a
// rejection. A request matching no rule is allowed.
func (g *Guard) Inspect(req Request) Verdict {
	for _, rule := range g.rules {
		if rule.matches(req) {
			g.logger.Warn("request blocked",
				"rule_id", rule.ID,
				"kind", rule.Kind.String(),
				"severity", string(rule.Severity),
				"method", req.Method,
			)
			return Verdict{RuleID: rule.ID, Severity: rule.Severity}
		}
	}
	return allow
}

// InspectMethod evaluates only the method rules. The HTTP layer uses it to
// reject disallowed methods before any token work happens.
func (g *Guard) InspectMethod(method string) Verdict {
	for _, rule := range g.rules {
		if rule.Kind != KindMethod {
			break
		}
		if rule.matches(Request{Method: method}) {
			g.logger.Warn("request blocked",
				"rule_id", rule.ID,
				"kind", rule.Kind.String(),
				"severity", string(rule.Severity),
				"method", method,
			)
			return Verdict{RuleID: rule.ID, Severity: rule.Severity}
		}
	}
	return allow
}
