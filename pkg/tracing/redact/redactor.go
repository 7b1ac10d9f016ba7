// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redact provides sensitive data redaction for recorded message
// content and span metadata.
package redact

import (
	"regexp"
	"strings"
)

// Placeholder replaces the value of a sensitive key.
const Placeholder = "[REDACTED]"

// RedactionMode determines the level of redaction applied to content.
type RedactionMode string

const (
	// ModeNone disables redaction (not recommended for production).
	ModeNone RedactionMode = "none"

	// ModeStandard applies key-based and pattern-based redaction.
	ModeStandard RedactionMode = "standard"

	// ModeStrict replaces every non-empty value with the placeholder.
	ModeStrict RedactionMode = "strict"
)

// DefaultKeys returns the sensitive key names redacted by default.
func DefaultKeys() []string {
	return []string{
		"authorization",
		"api_key", "api-key", "apikey", "x-api-key",
		"password",
		"secret",
		"token",
		"email",
		"phone",
		"ssn",
		"credit_card", "credit-card",
	}
}

// Pattern defines a redaction pattern with a name and regular expression.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// StandardPatterns returns the patterns applied regardless of key names.
// Order matters: longer numeric shapes run before the phone pattern.
func StandardPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "private_key",
			Regex:       regexp.MustCompile(`(?s)(-----BEGIN (RSA |EC |DSA )?PRIVATE KEY-----).*?(-----END (RSA |EC |DSA )?PRIVATE KEY-----)`),
			Replacement: "$1[REDACTED]$3",
		},
		{
			Name:        "bearer_token",
			Regex:       regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_\-\.=]{8,})`),
			Replacement: "${1}[REDACTED]",
		},
		{
			Name:        "jwt",
			Regex:       regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
			Replacement: "[REDACTED_JWT]",
		},
		{
			Name:        "aws_key",
			Regex:       regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			Replacement: "[REDACTED_AWS_KEY]",
		},
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
			Replacement: "[REDACTED_EMAIL]",
		},
		{
			Name:        "credit_card",
			Regex:       regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
			Replacement: "[REDACTED_CC]",
		},
		{
			Name:        "ssn",
			Regex:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[REDACTED_SSN]",
		},
		{
			Name:        "phone",
			Regex:       regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(\d{3}\)|\b\d{3})[\s.-]?\d{3}[\s.-]?\d{4}\b`),
			Replacement: "[REDACTED_PHONE]",
		},
	}
}

// keyPatterns builds the quoted-pair and key=value patterns for one key.
// The key may carry a prefix ("x-api-key", "db_password") but must be
// followed directly by its separator: ":", "=" or "=>".
func keyPatterns(key string) []Pattern {
	k := regexp.QuoteMeta(key)
	return []Pattern{
		{
			Name:        key + "_json",
			Regex:       regexp.MustCompile(`(?i)("[\w-]*` + k + `"\s*(?::|=>)\s*")(?:[^"\\]|\\.)*(")`),
			Replacement: "${1}" + Placeholder + "${2}",
		},
		{
			Name:        key + "_single_quoted",
			Regex:       regexp.MustCompile(`(?i)('[\w-]*` + k + `'\s*(?::|=>)\s*')(?:[^'\\]|\\.)*(')`),
			Replacement: "${1}" + Placeholder + "${2}",
		},
		{
			Name:        key + "_json_scalar",
			Regex:       regexp.MustCompile(`(?i)(["'][\w-]*` + k + `["']\s*(?::|=>)\s*)(?:-?\d[\d.eE+-]*|true|false)`),
			Replacement: `${1}"` + Placeholder + `"`,
		},
		{
			Name:        key + "_pair",
			Regex:       regexp.MustCompile(`(?i)(\b[\w-]*` + k + `\s*(?:=>|[:=])\s*)(?:(?:bearer|basic|token)\s+)?(?:"[^"]*"|'[^']*'|[^\s,;&"'}\]]+)`),
			Replacement: "${1}" + Placeholder,
		},
	}
}

// Redactor applies redaction rules to text. A Redactor is immutable after
// construction and safe for concurrent use.
type Redactor struct {
	mode     RedactionMode
	keys     []string
	patterns []Pattern
}

// NewRedactor creates a redactor with the given mode and sensitive keys.
// A nil or empty keys slice selects DefaultKeys.
func NewRedactor(mode RedactionMode, keys []string) *Redactor {
	if mode == "" {
		mode = ModeStandard
	}
	if len(keys) == 0 {
		keys = DefaultKeys()
	}

	normalized := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		normalized = append(normalized, k)
	}

	patterns := make([]Pattern, 0, len(normalized)*4+8)
	for _, k := range normalized {
		patterns = append(patterns, keyPatterns(k)...)
	}
	patterns = append(patterns, StandardPatterns()...)

	return &Redactor{
		mode:     mode,
		keys:     normalized,
		patterns: patterns,
	}
}

// NewRedactorWithPatterns creates a redactor that applies extra patterns after
// the key-based and standard ones.
func NewRedactorWithPatterns(mode RedactionMode, keys []string, extra []Pattern) *Redactor {
	r := NewRedactor(mode, keys)
	r.patterns = append(r.patterns, extra...)
	return r
}

// Mode returns the redaction mode.
func (r *Redactor) Mode() RedactionMode {
	return r.mode
}

// Redact returns a sanitized copy of s and whether anything changed.
func (r *Redactor) Redact(s string) (string, bool) {
	switch r.mode {
	case ModeNone:
		return s, false
	case ModeStrict:
		if s == "" {
			return s, false
		}
		return Placeholder, s != Placeholder
	}

	result := s
	for _, pattern := range r.patterns {
		result = pattern.Regex.ReplaceAllString(result, pattern.Replacement)
	}
	return result, result != s
}

// RedactString is Redact without the change flag.
func (r *Redactor) RedactString(s string) string {
	out, _ := r.Redact(s)
	return out
}

// RedactMap returns a copy of m where values under sensitive keys are
// replaced and string values are redacted. Nested maps are handled
// recursively.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	if m == nil || r.mode == ModeNone {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.IsSensitiveKey(k) || r.mode == ModeStrict {
			out[k] = Placeholder
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = r.RedactString(val)
		case map[string]any:
			out[k] = r.RedactMap(val)
		case map[string]string:
			nested := make(map[string]any, len(val))
			for nk, nv := range val {
				nested[nk] = nv
			}
			out[k] = r.RedactMap(nested)
		default:
			out[k] = v
		}
	}
	return out
}

// IsSensitiveKey reports whether a key name contains one of the sensitive keys.
func (r *Redactor) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range r.keys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
