package generation

import (
	"errors"
	"strings"
	"testing"

	"github.com/basket/testforge/internal/schema"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "raw", in: `{"a":1}`, want: `{"a":1}`},
		{name: "padded", in: "  \n{\"a\":1}\n", want: `{"a":1}`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "generic_fence", in: "text\n```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose", in: `Result: {"a":"}"} done`, want: `{"a":"}"}`},
		{name: "none", in: "no json here", want: ""},
		{name: "unbalanced", in: `{"a":1`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Fatalf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResponseValidator_RecordsRepairs(t *testing.T) {
	v, err := NewResponseValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	parsed, err := v.Validate(validResponse)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(parsed.Repaired) != 1 || parsed.Repaired[0] != 1 {
		t.Fatalf("expected repair at index 1, got %v", parsed.Repaired)
	}
}

func TestResponseValidator_RejectsNonStringField(t *testing.T) {
	v, err := NewResponseValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	_, err = v.Validate(`{"manualTestCases":[{"id":1,"description":"d","steps":"s","expectedResult":"e","priority":"High"}],"cypressScript":"x"}`)
	if err == nil || err.Error() != "Invalid test case at index 0: missing required fields" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestResponseValidator_RejectsArrayDocument(t *testing.T) {
	v, err := NewResponseValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	if _, err := v.Validate(`[1,2,3]`); err != errNotObjectAnswer {
		t.Fatalf("expected errNotObjectAnswer, got %v", err)
	}
}

func TestResponseValidator_PriorityCoercion(t *testing.T) {
	v, err := NewResponseValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	tests := []struct {
		name     string
		priority string
		want     schema.Priority
		repaired bool
	}{
		{name: "high", priority: `"High"`, want: schema.PriorityHigh},
		{name: "low", priority: `"Low"`, want: schema.PriorityLow},
		{name: "unknown_string", priority: `"Urgent"`, want: schema.PriorityMedium, repaired: true},
		{name: "lowercase", priority: `"high"`, want: schema.PriorityMedium, repaired: true},
		{name: "number", priority: `1`, want: schema.PriorityMedium, repaired: true},
		{name: "boolean", priority: `true`, want: schema.PriorityMedium, repaired: true},
		{name: "object", priority: `{"level":"High"}`, want: schema.PriorityMedium, repaired: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"manualTestCases":[{"id":"TC-001","description":"d","steps":"s","expectedResult":"e","priority":` +
				tt.priority + `}],"cypressScript":"describe()"}`
			parsed, err := v.Validate(doc)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if got := parsed.ManualTestCases[0].Priority; got != tt.want {
				t.Fatalf("priority = %q, want %q", got, tt.want)
			}
			if got := len(parsed.Repaired) == 1; got != tt.repaired {
				t.Fatalf("repaired = %v, want %v", parsed.Repaired, tt.repaired)
			}
		})
	}
}

func TestResponseValidator_RejectsAbsentPriority(t *testing.T) {
	v, err := NewResponseValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	for _, priority := range []string{`null`, `""`, `0`, `false`} {
		doc := `{"manualTestCases":[{"id":"TC-001","description":"d","steps":"s","expectedResult":"e","priority":` +
			priority + `}],"cypressScript":"describe()"}`
		_, err := v.Validate(doc)
		if err == nil || err.Error() != "Invalid test case at index 0: missing required fields" {
			t.Fatalf("priority %s: unexpected error %v", priority, err)
		}
	}
}

func TestResponseValidator_WrapsDecodeError(t *testing.T) {
	v, err := NewResponseValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	for _, text := range []string{"sorry, I cannot help", `{"manualTestCases": [`, "   "} {
		_, err := v.Validate(text)
		if err == nil {
			t.Fatalf("%q: expected error", text)
		}
		if !strings.HasPrefix(err.Error(), "Invalid JSON response: ") {
			t.Fatalf("%q: unexpected message %q", text, err.Error())
		}
		if errors.Unwrap(err) == nil {
			t.Fatalf("%q: expected wrapped decode error", text)
		}
	}
}

func TestResponseSchema_RequiresEnvelope(t *testing.T) {
	s := ResponseSchema()
	if s["type"] != "object" {
		t.Fatalf("expected object schema, got %v", s["type"])
	}
	if req, _ := s["required"].([]string); len(req) != 2 {
		t.Fatalf("expected 2 required fields, got %v", s["required"])
	}
	props := s["properties"].(map[string]any)
	items, _ := props["manualTestCases"].(map[string]any)["items"].(map[string]any)
	if req, _ := items["required"].([]string); len(req) != 5 {
		t.Fatalf("expected 5 required case fields, got %+v", items)
	}
	priority := items["properties"].(map[string]any)["priority"].(map[string]any)
	if _, ok := priority["enum"]; ok {
		t.Fatal("priority must not be enum-constrained")
	}
}

func TestClassifyModelError(t *testing.T) {
	cases := map[string]FailureKind{
		"googleapi: Error 401: unauthorized": FailureAuth,
		"API key not valid. Please pass":     FailureAuth,
		"RESOURCE_EXHAUSTED: quota":          FailureRateLimit,
		"context deadline exceeded":          FailureTimeout,
		"something odd happened":             FailureUnknown,
	}
	for msg, want := range cases {
		if got := ClassifyModelError(errString(msg)); got != want {
			t.Errorf("ClassifyModelError(%q) = %s, want %s", msg, got, want)
		}
	}
	schemaMismatch := errString("INTERNAL: model failed to generate output matching expected schema: x")
	if got := ClassifyModelError(schemaMismatch); got != FailureMalformed {
		t.Errorf("schema mismatch should be MALFORMED, got %s", got)
	}
	if got := ClassifyModelError(nil); got != FailureUnknown {
		t.Errorf("nil error should be UNKNOWN, got %s", got)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
