// Package mask redacts sensitive substrings from captured text, reconstructed
// commands, and error messages (spec §4.3). Mask runs one pass per catalog
// pattern; cost is linear in input length per pattern, and in (input length
// × catalog size) overall.
package mask

import (
	"regexp"
	"strings"
)

// DefaultReplacement is substituted for every matched span unless a masker
// is configured with a different one.
const DefaultReplacement = "[REDACTED]"

// Pattern is one entry in the catalog: a compiled regular expression plus
// how to render its replacement. Group, when > 0, means only that capture
// group is replaced (preserving surrounding structure, e.g. "Authorization:
// Bearer [REDACTED]" keeps the scheme word); Group == 0 replaces the whole
// match.
type Pattern struct {
	Name   string
	Regexp *regexp.Regexp
	Group  int
}

// Masker redacts text using a compiled pattern catalog.
type Masker struct {
	enabled     bool
	replacement string
	patterns    []Pattern
}

// Option configures a Masker at construction time.
type Option func(*Masker)

// WithReplacement overrides the default replacement literal.
func WithReplacement(s string) Option {
	return func(m *Masker) { m.replacement = s }
}

// WithPatterns appends additional patterns to the default catalog.
func WithPatterns(patterns ...Pattern) Option {
	return func(m *Masker) { m.patterns = append(m.patterns, patterns...) }
}

// WithCatalog replaces the default catalog entirely.
func WithCatalog(patterns []Pattern) Option {
	return func(m *Masker) { m.patterns = patterns }
}

// Disabled returns a Masker whose Mask is the identity function — used when
// an adapter instance has masking turned off.
func Disabled() *Masker {
	return &Masker{enabled: false}
}

// New builds a Masker from the default catalog (spec §4.3) plus any options.
func New(opts ...Option) *Masker {
	m := &Masker{
		enabled:     true,
		replacement: DefaultReplacement,
		patterns:    defaultCatalog(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mask redacts every match of the catalog in s. It is idempotent:
// Mask(Mask(s)) == Mask(s), because replacement text never itself matches
// any catalog pattern (the catalog only matches credential-shaped content,
// and "[REDACTED]" is not credential-shaped).
func (m *Masker) Mask(s string) string {
	if m == nil || !m.enabled || s == "" {
		return s
	}
	out := s
	for _, p := range m.patterns {
		out = maskOne(out, p, m.replacement)
	}
	return out
}

func maskOne(s string, p Pattern, replacement string) string {
	if p.Group == 0 {
		return p.Regexp.ReplaceAllString(s, replacement)
	}
	return p.Regexp.ReplaceAllStringFunc(s, func(match string) string {
		loc := p.Regexp.FindStringSubmatchIndex(match)
		if loc == nil || len(loc) < (p.Group+1)*2 {
			return match
		}
		start, end := loc[p.Group*2], loc[p.Group*2+1]
		if start < 0 || end < 0 {
			return match
		}
		return match[:start] + replacement + match[end:]
	})
}

// defaultCatalog returns the built-in pattern set from spec §4.3. All
// patterns are case-insensitive.
func defaultCatalog() []Pattern {
	mustCompile := func(name, pattern string, group int) Pattern {
		return Pattern{Name: name, Regexp: regexp.MustCompile("(?i)" + pattern), Group: group}
	}

	credKeyNames := `(?:api[_-]?key|apikey|password|token|secret|client[_-]?secret)`

	return []Pattern{
		// JSON key-value pairs: "api_key": "value"
		mustCompile("json_kv", `("`+credKeyNames+`"\s*:\s*")([^"]*)(")`, 2),

		// assignments: key=value / key: value / key = "value"
		mustCompile("assignment", `(\b`+credKeyNames+`\s*[:=]\s*"?)([^"\s,;]+)("?)`, 2),

		// Authorization headers
		mustCompile("auth_bearer", `(Authorization:\s*Bearer\s+)(\S+)`, 2),
		mustCompile("auth_basic", `(Authorization:\s*Basic\s+)(\S+)`, 2),

		// cloud-provider access identifiers/keys by canonical name
		mustCompile("aws_access_key_id", `\b(AKIA[0-9A-Z]{16})\b`, 0),
		mustCompile("aws_secret_access_key", `(aws_secret_access_key\s*=\s*)(\S+)`, 2),
		mustCompile("gcp_api_key", `\b(AIza[0-9A-Za-z_\-]{35})\b`, 0),

		// provider-issued token prefixes
		mustCompile("github_token", `\b((?:ghp|ghs|gho|ghu|ghr)_[0-9A-Za-z]{20,})\b`, 0),
		mustCompile("slack_token", `\b(xox[baprs]-[0-9A-Za-z-]{10,})\b`, 0),

		// PEM-delimited private key blocks (entire block replaced)
		mustCompile("pem_block", `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`, 0),

		// environment-variable names ending in SECRET/TOKEN/KEY/PASSWORD
		mustCompile("env_var", `\b([A-Z0-9_]*(?:SECRET|TOKEN|KEY|PASSWORD)[A-Z0-9_]*=)(\S+)`, 2),

		// command-line flags
		mustCompile("cli_flag", `(--(?:password|client-secret|secret)(?:=|\s+))(\S+)`, 2),
	}
}

// preservesOutsideMatches is a test helper exposed for clarity in mask_test.go.
func preservesOutsideMatches(original, masked, matched string) bool {
	return strings.Contains(original, matched) && !strings.Contains(masked, matched)
}
