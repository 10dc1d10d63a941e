// Package schema defines the records exchanged between the HTTP surface, the
// generation service and the stores, plus validation of inbound payloads.
package schema

import (
	"strings"
	"time"
)

// Priority ranks a manual test case.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Valid reports whether p is one of High, Medium or Low.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// NormalizePriority maps anything outside the enumeration to Medium.
func NormalizePriority(raw string) Priority {
	p := Priority(raw)
	if p.Valid() {
		return p
	}
	return PriorityMedium
}

// TestCase is one manual test case. IDs are unique within a record only.
type TestCase struct {
	ID             string   `json:"id" firestore:"id"`
	Description    string   `json:"description" firestore:"description"`
	Steps          string   `json:"steps" firestore:"steps"`
	ExpectedResult string   `json:"expectedResult" firestore:"expectedResult"`
	Priority       Priority `json:"priority" firestore:"priority"`
}

// TestGeneration is a persisted generation result.
type TestGeneration struct {
	ID              string
	Requirement     string
	ManualTestCases []TestCase
	CypressScript   string
	CreatedAt       time.Time
}

// NewTestGeneration is the insert shape. Stores assign the id and timestamp.
type NewTestGeneration struct {
	Requirement     string
	ManualTestCases []TestCase
	CypressScript   string
}

// User is kept for future authentication; no handler reads it today.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// NewUser is the insert shape for User.
type NewUser struct {
	Username string
	Password string
}

// GenerateTestRequest is the validated body of POST /api/generate.
type GenerateTestRequest struct {
	Requirement string `json:"requirement"`
}

// GenerateTestResponse is the wire shape of a stored generation.
type GenerateTestResponse struct {
	ID              string     `json:"id"`
	Requirement     string     `json:"requirement"`
	ManualTestCases []TestCase `json:"manualTestCases"`
	CypressScript   string     `json:"cypressScript"`
	CreatedAt       string     `json:"createdAt"`
}

// TimestampLayout matches JavaScript's Date.toISOString output.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ToResponse is the only place a record's timestamp becomes a wire string.
func ToResponse(g TestGeneration) GenerateTestResponse {
	cases := g.ManualTestCases
	if cases == nil {
		cases = []TestCase{}
	}
	return GenerateTestResponse{
		ID:              g.ID,
		Requirement:     g.Requirement,
		ManualTestCases: cases,
		CypressScript:   g.CypressScript,
		CreatedAt:       FormatTimestamp(g.CreatedAt),
	}
}

// ToResponses converts a list, always returning a non-nil slice.
func ToResponses(items []TestGeneration) []GenerateTestResponse {
	out := make([]GenerateTestResponse, 0, len(items))
	for _, item := range items {
		out = append(out, ToResponse(item))
	}
	return out
}

// Preview shortens a requirement for log lines.
func Preview(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
