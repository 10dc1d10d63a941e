package schema

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateGenerateRequest_Accepts(t *testing.T) {
	req, err := ValidateGenerateRequest([]byte(`{"requirement":"User logs in with valid credentials"}`))
	if err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if req.Requirement != "User logs in with valid credentials" {
		t.Fatalf("unexpected requirement %q", req.Requirement)
	}
}

func TestValidateGenerateRequest_ExactMinimum(t *testing.T) {
	if _, err := ValidateGenerateRequest([]byte(`{"requirement":"0123456789"}`)); err != nil {
		t.Fatalf("10 characters should pass: %v", err)
	}
	if _, err := ValidateGenerateRequest([]byte(`{"requirement":"012345678"}`)); err == nil {
		t.Fatal("9 characters should fail")
	}
}

func TestValidateGenerateRequest_CountsUTF16Units(t *testing.T) {
	// 9 runes, 18 bytes.
	if _, err := ValidateGenerateRequest([]byte(`{"requirement":"ééééééééé"}`)); err == nil {
		t.Fatal("9 runes should fail even though byte length exceeds 10")
	}
	if _, err := ValidateGenerateRequest([]byte(`{"requirement":"éééééééééé"}`)); err != nil {
		t.Fatalf("10 runes should pass: %v", err)
	}
	// Each emoji is a surrogate pair.
	if _, err := ValidateGenerateRequest([]byte(`{"requirement":"🚀🚀🚀🚀🚀"}`)); err != nil {
		t.Fatalf("5 astral characters are 10 units and should pass: %v", err)
	}
	if _, err := ValidateGenerateRequest([]byte(`{"requirement":"🚀🚀🚀🚀"}`)); err == nil {
		t.Fatal("4 astral characters are 8 units and should fail")
	}
}

func TestTextLength(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{in: "", want: 0},
		{in: "abc", want: 3},
		{in: "\u00e9", want: 1},
		{in: "\U0001F680", want: 2},
		{in: "a\U0001F680b", want: 4},
		{in: "\xff", want: 1},
	}
	for _, tt := range tests {
		if got := textLength(tt.in); got != tt.want {
			t.Errorf("textLength(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidateGenerateRequest_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantMsg  string
	}{
		{name: "short", body: `{"requirement":"short"}`, wantCode: CodeTooSmall, wantMsg: "at least 10 characters"},
		{name: "empty", body: `{"requirement":""}`, wantCode: CodeTooSmall, wantMsg: "at least 10 characters"},
		{name: "missing", body: `{}`, wantCode: CodeInvalidType, wantMsg: "Required"},
		{name: "null", body: `{"requirement":null}`, wantCode: CodeInvalidType, wantMsg: "Required"},
		{name: "number", body: `{"requirement":12345678901}`, wantCode: CodeInvalidType, wantMsg: "received number"},
		{name: "array_body", body: `["requirement"]`, wantCode: CodeInvalidType, wantMsg: "Expected object"},
		{name: "malformed", body: `{"requirement":`, wantCode: CodeInvalidJSON, wantMsg: "Invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateGenerateRequest([]byte(tt.body))
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
			}
			if len(vErr.Issues) != 1 {
				t.Fatalf("expected 1 issue, got %d: %+v", len(vErr.Issues), vErr.Issues)
			}
			issue := vErr.Issues[0]
			if issue.Code != tt.wantCode {
				t.Fatalf("expected code %q, got %q", tt.wantCode, issue.Code)
			}
			if !strings.Contains(issue.Message, tt.wantMsg) {
				t.Fatalf("expected message containing %q, got %q", tt.wantMsg, issue.Message)
			}
		})
	}
}

func TestValidateGenerateRequest_TooSmallCarriesMinimum(t *testing.T) {
	_, err := ValidateGenerateRequest([]byte(`{"requirement":"short"}`))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	issue := vErr.Issues[0]
	if issue.Minimum == nil || *issue.Minimum != MinRequirementLength {
		t.Fatalf("expected minimum=%d, got %v", MinRequirementLength, issue.Minimum)
	}
	if len(issue.Path) != 1 || issue.Path[0] != "requirement" {
		t.Fatalf("unexpected path %v", issue.Path)
	}
	if !strings.Contains(err.Error(), "requirement: Requirement must be at least 10 characters") {
		t.Fatalf("unexpected error text %q", err.Error())
	}
}

func TestNormalizePriority(t *testing.T) {
	cases := map[string]Priority{
		"High":     PriorityHigh,
		"Medium":   PriorityMedium,
		"Low":      PriorityLow,
		"Critical": PriorityMedium,
		"high":     PriorityMedium,
		"":         PriorityMedium,
	}
	for in, want := range cases {
		if got := NormalizePriority(in); got != want {
			t.Errorf("NormalizePriority(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToResponse_FormatsTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	g := TestGeneration{
		ID:          "abc",
		Requirement: "User logs in with valid credentials",
		CreatedAt:   time.Date(2026, 3, 4, 12, 30, 15, 123456789, loc),
	}
	resp := ToResponse(g)
	if resp.CreatedAt != "2026-03-04T10:30:15.123Z" {
		t.Fatalf("unexpected timestamp %q", resp.CreatedAt)
	}
	if resp.ManualTestCases == nil {
		t.Fatal("expected non-nil test case slice")
	}
}

func TestToResponses_EmptyIsNonNil(t *testing.T) {
	if out := ToResponses(nil); out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}
