package generation

import (
	"errors"
	"strings"
)

// ErrModelUnavailable is returned by the model when no API key is configured.
var ErrModelUnavailable = errors.New("generative model is not configured (set GEMINI_API_KEY)")

// GenerationError is the single failure type of Service.Generate. Callers
// never receive a partial result alongside it.
type GenerationError struct {
	Kind  FailureKind
	Cause error
}

func (e *GenerationError) Error() string {
	if e.Cause == nil {
		return "Failed to generate test cases: Unknown error"
	}
	return "Failed to generate test cases: " + e.Cause.Error()
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// Reason returns the cause text without the common prefix.
func (e *GenerationError) Reason() string {
	if e.Cause == nil {
		return "Unknown error"
	}
	return e.Cause.Error()
}

func fail(kind FailureKind, cause error) *GenerationError {
	return &GenerationError{Kind: kind, Cause: cause}
}

// FailureKind categorizes a generation failure for logs and metrics.
type FailureKind string

const (
	FailureUnavailable FailureKind = "UNAVAILABLE"
	FailureAuth        FailureKind = "AUTH"
	FailureRateLimit   FailureKind = "RATE_LIMIT"
	FailureTimeout     FailureKind = "TIMEOUT"
	FailureEmpty       FailureKind = "EMPTY"
	FailureMalformed   FailureKind = "MALFORMED"
	FailureUnknown     FailureKind = "UNKNOWN"
)

// ClassifyModelError categorizes an error returned by the model call.
func ClassifyModelError(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, ErrModelUnavailable) {
		return FailureUnavailable
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "api key not valid") ||
		strings.Contains(msg, "invalid api key") {
		return FailureAuth
	}

	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") {
		return FailureRateLimit
	}

	if strings.Contains(msg, "output matching expected schema") {
		return FailureMalformed
	}

	if strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "context canceled") {
		return FailureTimeout
	}

	return FailureUnknown
}
