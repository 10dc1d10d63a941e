package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/testforge/internal/schema"
)

// testCaseSchemaJSON constrains each element of manualTestCases.
const testCaseSchemaJSON = `{
  "type": "object",
  "required": ["id", "description", "steps", "expectedResult", "priority"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "description": {"type": "string", "minLength": 1},
    "steps": {"type": "string", "minLength": 1},
    "expectedResult": {"type": "string", "minLength": 1},
    "priority": {}
  }
}`

// ResponseValidator parses model output and checks it against the expected
// structure.
type ResponseValidator struct {
	caseSchema *jsonschema.Schema
}

// NewResponseValidator compiles the per-test-case schema.
func NewResponseValidator() (*ResponseValidator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(testCaseSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("testcase.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile("testcase.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ResponseValidator{caseSchema: s}, nil
}

// Parsed is a validated model response.
type Parsed struct {
	ManualTestCases []schema.TestCase
	CypressScript   string
	// Repaired lists indexes whose priority was rewritten to Medium.
	Repaired []int
}

var (
	errMissingCases    = errors.New("Invalid response structure: missing manualTestCases array")
	errEmptyCases      = errors.New("Invalid response structure: manualTestCases is empty")
	errMissingScript   = errors.New("Invalid response structure: missing cypressScript")
	errNotObjectAnswer = errors.New("Invalid response structure: expected a JSON object")
)

// Validate extracts the JSON document from text and validates it. Any
// invalid element fails the whole batch.
func (v *ResponseValidator) Validate(text string) (*Parsed, error) {
	jsonStr := extractJSON(text)
	if jsonStr == "" {
		// Let the decoder report why the raw text is not JSON.
		jsonStr = text
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("Invalid JSON response: %w", err)
	}

	doc, ok := parsed.(map[string]any)
	if !ok {
		return nil, errNotObjectAnswer
	}

	rawCases, ok := doc["manualTestCases"].([]any)
	if !ok {
		return nil, errMissingCases
	}
	script, ok := doc["cypressScript"].(string)
	if !ok || script == "" {
		return nil, errMissingScript
	}
	if len(rawCases) == 0 {
		return nil, errEmptyCases
	}

	out := &Parsed{
		ManualTestCases: make([]schema.TestCase, 0, len(rawCases)),
		CypressScript:   script,
	}
	for i, raw := range rawCases {
		if err := v.caseSchema.Validate(raw); err != nil {
			return nil, fmt.Errorf("Invalid test case at index %d: missing required fields", i)
		}
		item := raw.(map[string]any)
		if !present(item["priority"]) {
			return nil, fmt.Errorf("Invalid test case at index %d: missing required fields", i)
		}
		// Any other priority, string or not, becomes Medium.
		rawPriority, _ := item["priority"].(string)
		priority := schema.NormalizePriority(rawPriority)
		if string(priority) != rawPriority {
			out.Repaired = append(out.Repaired, i)
		}
		out.ManualTestCases = append(out.ManualTestCases, schema.TestCase{
			ID:             item["id"].(string),
			Description:    item["description"].(string),
			Steps:          item["steps"].(string),
			ExpectedResult: item["expectedResult"].(string),
			Priority:       priority,
		})
	}
	return out, nil
}

// present reports whether a decoded JSON value counts as supplied: null,
// false, zero and the empty string do not.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

// extractJSON finds a JSON object or array in the response text.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if isJSON(trimmed) {
		return trimmed
	}

	// Fenced JSON block: ```json\n...\n```
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	// Generic fenced block.
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	// Raw JSON embedded in prose.
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	if s == "" {
		return false
	}
	return json.Valid([]byte(s))
}

// extractBalanced extracts a balanced JSON structure from the start of the string.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}

	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}

	return ""
}
