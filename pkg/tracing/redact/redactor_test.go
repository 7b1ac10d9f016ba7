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

package redact

import (
	"regexp"
	"strings"
	"testing"
)

func TestRedactor_Redact_StandardMode(t *testing.T) {
	r := NewRedactor(ModeStandard, nil)

	tests := []struct {
		name        string
		input       string
		contains    string
		notContains string
	}{
		{
			name:        "password colon quoted",
			input:       `password: "abc123"`,
			contains:    "password: [REDACTED]",
			notContains: "abc123",
		},
		{
			name:        "json pair",
			input:       `{"user":"bob","password":"hunter2"}`,
			contains:    `"password":"[REDACTED]"`,
			notContains: "hunter2",
		},
		{
			name:        "json pair with escaped quote",
			input:       `{"secret": "a\"b\"c"}`,
			contains:    `"secret": "[REDACTED]"`,
			notContains: `a\"b`,
		},
		{
			name:        "json numeric value",
			input:       `{"ssn": 123456789}`,
			contains:    `"ssn": "[REDACTED]"`,
			notContains: "123456789",
		},
		{
			name:        "key equals value",
			input:       "api_key=sk-live-1234 next",
			contains:    "api_key=[REDACTED] next",
			notContains: "sk-live-1234",
		},
		{
			name:        "hash rocket",
			input:       "password => abc123",
			contains:    "password => [REDACTED]",
			notContains: "abc123",
		},
		{
			name:        "quoted hash rocket",
			input:       `{"password" => "abc123"}`,
			contains:    `"password" => "[REDACTED]"`,
			notContains: "abc123",
		},
		{
			name:        "single quoted dict",
			input:       `{'password': 'abc123'}`,
			contains:    `'password': '[REDACTED]'`,
			notContains: "abc123",
		},
		{
			name:        "single quoted numeric value",
			input:       `{'api_key': 12345}`,
			contains:    `'api_key': "[REDACTED]"`,
			notContains: "12345",
		},
		{
			name:        "prefixed key",
			input:       "db_password=letmein",
			contains:    "db_password=[REDACTED]",
			notContains: "letmein",
		},
		{
			name:        "header style bearer",
			input:       "Authorization: Bearer abcdefghijklmnop",
			contains:    "Authorization: [REDACTED]",
			notContains: "abcdefghijklmnop",
		},
		{
			name:        "email anywhere",
			input:       "Contact user@example.com for support",
			contains:    "[REDACTED_EMAIL]",
			notContains: "user@example.com",
		},
		{
			name:        "phone anywhere",
			input:       "call me at (555) 123-4567 tomorrow",
			contains:    "[REDACTED_PHONE]",
			notContains: "123-4567",
		},
		{
			name:        "international phone",
			input:       "reach +1 555.123.4567",
			contains:    "[REDACTED_PHONE]",
			notContains: "555.123.4567",
		},
		{
			name:        "credit card",
			input:       "Card: 4532-1234-5678-9010",
			contains:    "[REDACTED_CC]",
			notContains: "4532-1234-5678-9010",
		},
		{
			name:        "ssn shape",
			input:       "number 123-45-6789",
			contains:    "[REDACTED_SSN]",
			notContains: "123-45-6789",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, changed := r.Redact(tt.input)
			if !changed {
				t.Errorf("expected change for %q", tt.input)
			}
			if !strings.Contains(result, tt.contains) {
				t.Errorf("expected result to contain %q, got %q", tt.contains, result)
			}
			if tt.notContains != "" && strings.Contains(result, tt.notContains) {
				t.Errorf("expected result to NOT contain %q, got %q", tt.notContains, result)
			}
		})
	}
}

func TestRedactor_Redact_NoSensitiveContent(t *testing.T) {
	r := NewRedactor(ModeStandard, nil)

	inputs := []string{
		"This is normal text without secrets",
		"max_tokens is 256 and the timestamp is 1736500000000",
		"The meeting is on 2025-01-10 at 10:30",
		"",
	}
	for _, in := range inputs {
		out, changed := r.Redact(in)
		if changed {
			t.Errorf("unexpected change for %q: %q", in, out)
		}
		if out != in {
			t.Errorf("output differs for %q: %q", in, out)
		}
	}
}

func TestRedactor_Deterministic(t *testing.T) {
	a := NewRedactor(ModeStandard, []string{"token", "password"})
	b := NewRedactor(ModeStandard, []string{"password", "token"})

	input := `token=abc password: "x" mail bob@example.org`
	first, _ := a.Redact(input)
	for i := 0; i < 10; i++ {
		if got, _ := a.Redact(input); got != first {
			t.Fatalf("non-deterministic output: %q vs %q", got, first)
		}
	}
	if got, _ := b.Redact(input); strings.Contains(got, "abc") || strings.Contains(got, "bob@") {
		t.Errorf("reordered keys leaked content: %q", got)
	}
}

func TestRedactor_CustomKeys(t *testing.T) {
	r := NewRedactor(ModeStandard, []string{"session_cookie"})

	out, changed := r.Redact("session_cookie=abcd1234; path=/")
	if !changed || strings.Contains(out, "abcd1234") {
		t.Errorf("custom key not redacted: %q", out)
	}

	// Default keys are not active when custom keys are supplied.
	out, _ = r.Redact("password=hunter2")
	if !strings.Contains(out, "hunter2") {
		t.Errorf("password should not be a sensitive key here: %q", out)
	}
}

func TestRedactor_Modes(t *testing.T) {
	none := NewRedactor(ModeNone, nil)
	if out, changed := none.Redact("password=x"); changed || out != "password=x" {
		t.Errorf("ModeNone changed content: %q", out)
	}

	strict := NewRedactor(ModeStrict, nil)
	if out, changed := strict.Redact("hello"); !changed || out != Placeholder {
		t.Errorf("ModeStrict = %q, %v", out, changed)
	}
	if _, changed := strict.Redact(""); changed {
		t.Errorf("ModeStrict should not change empty input")
	}
}

func TestRedactor_ExtraPatterns(t *testing.T) {
	r := NewRedactorWithPatterns(ModeStandard, nil, []Pattern{{
		Name:        "order_id",
		Regex:       regexp.MustCompile(`ORD-\d+`),
		Replacement: "[ORDER]",
	}})
	if out := r.RedactString("ref ORD-991"); out != "ref [ORDER]" {
		t.Errorf("got %q", out)
	}
}

func TestRedactor_RedactMap(t *testing.T) {
	r := NewRedactor(ModeStandard, nil)

	in := map[string]any{
		"Authorization": "Bearer abcdefghijk",
		"X-Api-Key":     "k-123",
		"note":          "mail me at a@b.io",
		"count":         3,
		"headers":       map[string]string{"Cookie": "c=1", "Token": "t"},
	}
	out := r.RedactMap(in)

	if out["Authorization"] != Placeholder {
		t.Errorf("Authorization = %v", out["Authorization"])
	}
	if out["X-Api-Key"] != Placeholder {
		t.Errorf("X-Api-Key = %v", out["X-Api-Key"])
	}
	if out["note"] != "mail me at [REDACTED_EMAIL]" {
		t.Errorf("note = %v", out["note"])
	}
	if out["count"] != 3 {
		t.Errorf("count = %v", out["count"])
	}
	nested, ok := out["headers"].(map[string]any)
	if !ok {
		t.Fatalf("headers = %T", out["headers"])
	}
	if nested["Token"] != Placeholder || nested["Cookie"] != "c=1" {
		t.Errorf("nested = %v", nested)
	}
	if in["Authorization"] != "Bearer abcdefghijk" {
		t.Error("input map was mutated")
	}
}
