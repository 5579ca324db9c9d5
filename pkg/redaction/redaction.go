// Package redaction masks protocol secrets before they reach logs.
// The swarm wire format carries Ed25519 signatures, public keys and
// invite tokens; none of them belong in a request log.
package redaction

import (
	"regexp"
	"strings"
	"sync"
)

const Replacement = "[REDACTED]"

// secretFields are JSON/header field names whose values are always
// masked, at any nesting level.
var secretFields = map[string]bool{
	"signature":     true,
	"public_key":    true,
	"invite_token":  true,
	"authorization": true,
	"x-api-key":     true,
	"x-wake-secret": true,
}

// Config holds redaction configuration.
type Config struct {
	Enabled        bool     `json:"enabled"`
	ExtraFields    []string `json:"extra_fields"`
	CustomPatterns []string `json:"custom_patterns"`
}

// DefaultConfig returns the default redaction configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Redactor masks secret fields and token-shaped substrings.
type Redactor struct {
	config   Config
	fields   map[string]bool
	patterns []*regexp.Regexp
	mu       sync.RWMutex
}

var builtinPatterns = []*regexp.Regexp{
	// JWT-like triples (invite tokens are header.payload.signature)
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
	// swarm:// invite URLs with an embedded token query
	regexp.MustCompile(`(swarm://[^\s?]+\?token=)[A-Za-z0-9_.\-]+`),
	// Bearer credentials
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_.\-]{16,}`),
}

// NewRedactor creates a Redactor with the given configuration.
func NewRedactor(config Config) *Redactor {
	r := &Redactor{
		config: config,
		fields: make(map[string]bool, len(secretFields)+len(config.ExtraFields)),
	}
	for k := range secretFields {
		r.fields[k] = true
	}
	for _, k := range config.ExtraFields {
		r.fields[strings.ToLower(k)] = true
	}
	r.patterns = append(r.patterns, builtinPatterns...)
	for _, p := range config.CustomPatterns {
		if re, err := regexp.Compile(p); err == nil {
			r.patterns = append(r.patterns, re)
		}
	}
	return r
}

// RedactString masks token-shaped substrings in free text.
func (r *Redactor) RedactString(s string) string {
	if !r.config.Enabled {
		return s
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, Replacement)
	}
	return s
}

// RedactFields returns a copy of fields with secret values masked.
// Nested maps are walked recursively; the input is never mutated.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if !r.config.Enabled || fields == nil {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = r.redactValue(strings.ToLower(k), v)
	}
	return out
}

func (r *Redactor) redactValue(key string, v any) any {
	if r.fields[key] {
		return Replacement
	}
	switch val := v.(type) {
	case map[string]any:
		nested := make(map[string]any, len(val))
		for k, inner := range val {
			nested[k] = r.redactValue(strings.ToLower(k), inner)
		}
		return nested
	case []any:
		items := make([]any, len(val))
		for i, inner := range val {
			items[i] = r.redactValue("", inner)
		}
		return items
	case string:
		return r.RedactString(val)
	default:
		return v
	}
}

var (
	globalMu       sync.RWMutex
	globalRedactor = NewRedactor(DefaultConfig())
)

// SetGlobalConfig replaces the process-wide redactor configuration.
func SetGlobalConfig(config Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalRedactor = NewRedactor(config)
}

// Redact masks token-shaped substrings using the global redactor.
func Redact(s string) string {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRedactor.RedactString(s)
}

// RedactFields masks secret fields using the global redactor.
func RedactFields(fields map[string]any) map[string]any {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRedactor.RedactFields(fields)
}
