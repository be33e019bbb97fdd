package guard

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Rule is a single declarative constraint. Exactly the fields for its Kind
// are set; the rest stay zero.
type Rule struct {
	ID       string
	Kind     Kind
	Severity Severity

	Methods  []string       // KindMethod: allowed method whitelist
	Header   string         // KindHeader: required header name
	MaxBytes int64          // KindSize: payload ceiling in bytes
	Pattern  *regexp.Regexp // KindSignature: blocked content pattern
}

// matches reports whether the rule rejects req.
func (r Rule) matches(req Request) bool {
	switch r.Kind {
	case KindMethod:
		return !slices.Contains(r.Methods, req.Method)
	case KindHeader:
		return req.Header.Get(r.Header) == ""
	case KindSize:
		return req.BodySize > r.MaxBytes
	case KindSignature:
		return r.Pattern.Match(req.Body)
	default:
		return false
	}
}

// builtinSignatures are content patterns blocked regardless of
// configuration. They cover markup injection vectors in question text;
// answers render in a web client, so anything that survives storage
// must be inert there.
var builtinSignatures = []struct {
	id      string
	pattern *regexp.Regexp
}{
	{"sig_script_tag", regexp.MustCompile(`(?i)<script[\s>/]`)},
	{"sig_iframe_tag", regexp.MustCompile(`(?i)<iframe[\s>/]`)},
	{"sig_object_tag", regexp.MustCompile(`(?i)<object[\s>/]`)},
	{"sig_embed_tag", regexp.MustCompile(`(?i)<embed[\s>/]`)},
	{"sig_javascript_uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"sig_event_handler", regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)},
	{"sig_data_uri_html", regexp.MustCompile(`(?i)data:text/html`)},
}

// RuleConfig carries the tunable parts of the default rule set.
type RuleConfig struct {
	AllowedMethods  []string
	RequiredHeaders []string
	MaxBodyBytes    int64
	ExtraSignatures []string // additional patterns, compiled at load
}

// DefaultRules builds the standard rule set: one method whitelist, one
// required-header rule per header, one size ceiling, and the built-in
// content signatures followed by any configured extras. Extra patterns
// that fail to compile abort startup; a half-loaded rule set silently
// weakening the guard is worse than refusing to boot.
func DefaultRules(cfg RuleConfig) ([]Rule, error) {
	rules := []Rule{
		{
			ID:       "method_whitelist",
			Kind:     KindMethod,
			Severity: SeverityMedium,
			Methods:  cfg.AllowedMethods,
		},
	}

	for _, h := range cfg.RequiredHeaders {
		rules = append(rules, Rule{
			ID:       "required_header_" + strings.ToLower(h),
			Kind:     KindHeader,
			Severity: SeverityLow,
			Header:   h,
		})
	}

	rules = append(rules, Rule{
		ID:       "payload_ceiling",
		Kind:     KindSize,
		Severity: SeverityMedium,
		MaxBytes: cfg.MaxBodyBytes,
	})

	for _, sig := range builtinSignatures {
		rules = append(rules, Rule{
			ID:       sig.id,
			Kind:     KindSignature,
			Severity: SeverityHigh,
			Pattern:  sig.pattern,
		})
	}

	for i, expr := range cfg.ExtraSignatures {
		p, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling extra signature %d (%q): %w", i, expr, err)
		}
		rules = append(rules, Rule{
			ID:       fmt.Sprintf("sig_extra_%d", i),
			Kind:     KindSignature,
			Severity: SeverityHigh,
			Pattern:  p,
		})
	}

	return rules, nil
}
