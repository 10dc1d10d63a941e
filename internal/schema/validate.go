package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
)

// MinRequirementLength is the minimum requirement length in UTF-16 code
// units, the unit browsers use for string length.
const MinRequirementLength = 10

// Validation issue codes.
const (
	CodeInvalidType = "invalid_type"
	CodeTooSmall    = "too_small"
	CodeInvalidJSON = "invalid_json"
)

// FieldError describes one violated constraint.
type FieldError struct {
	Path     []string `json:"path"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Expected string   `json:"expected,omitempty"`
	Received string   `json:"received,omitempty"`
	Minimum  *int     `json:"minimum,omitempty"`
}

// ValidationError collects every violated constraint of a payload.
type ValidationError struct {
	Issues []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		field := strings.Join(issue.Path, ".")
		if field == "" {
			field = "body"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, issue.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ValidateGenerateRequest decodes and validates a generate request body.
func ValidateGenerateRequest(raw []byte) (GenerateTestRequest, error) {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return GenerateTestRequest{}, &ValidationError{Issues: []FieldError{{
			Path:    []string{},
			Code:    CodeInvalidJSON,
			Message: "Invalid JSON body",
		}}}
	}
	if kind := jsonKind(trimmed); kind != "object" {
		return GenerateTestRequest{}, &ValidationError{Issues: []FieldError{{
			Path:     []string{},
			Code:     CodeInvalidType,
			Message:  "Expected object, received " + kind,
			Expected: "object",
			Received: kind,
		}}}
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return GenerateTestRequest{}, &ValidationError{Issues: []FieldError{{
			Path:    []string{},
			Code:    CodeInvalidJSON,
			Message: "Invalid JSON body: " + err.Error(),
		}}}
	}

	var issues []FieldError
	requirement, issue := requirementField(body)
	if issue != nil {
		issues = append(issues, *issue)
	}
	if len(issues) > 0 {
		return GenerateTestRequest{}, &ValidationError{Issues: issues}
	}
	return GenerateTestRequest{Requirement: requirement}, nil
}

func requirementField(body map[string]json.RawMessage) (string, *FieldError) {
	path := []string{"requirement"}
	rawValue, ok := body["requirement"]
	if !ok || string(bytes.TrimSpace(rawValue)) == "null" {
		received := "undefined"
		if ok {
			received = "null"
		}
		return "", &FieldError{
			Path:     path,
			Code:     CodeInvalidType,
			Message:  "Required",
			Expected: "string",
			Received: received,
		}
	}
	var requirement string
	if err := json.Unmarshal(rawValue, &requirement); err != nil {
		kind := jsonKind(bytes.TrimSpace(rawValue))
		return "", &FieldError{
			Path:     path,
			Code:     CodeInvalidType,
			Message:  "Expected string, received " + kind,
			Expected: "string",
			Received: kind,
		}
	}
	if textLength(requirement) < MinRequirementLength {
		minimum := MinRequirementLength
		return "", &FieldError{
			Path:    path,
			Code:    CodeTooSmall,
			Message: fmt.Sprintf("Requirement must be at least %d characters", MinRequirementLength),
			Minimum: &minimum,
		}
	}
	return requirement, nil
}

func jsonKind(raw []byte) string {
	if len(raw) == 0 {
		return "undefined"
	}
	switch raw[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// textLength counts UTF-16 code units, so a character outside the Basic
// Multilingual Plane counts as two.
func textLength(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
