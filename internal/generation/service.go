// Package generation turns a requirement into manual test cases and a
// Cypress script by calling a generative model and validating its answer.
package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/basket/testforge/internal/otel"
	"github.com/basket/testforge/internal/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Result is a validated generation, ready to persist.
type Result struct {
	ManualTestCases []schema.TestCase
	CypressScript   string
}

// Service runs a single model call per requirement and validates the output.
// It never retries; the caller's context is the only timeout.
type Service struct {
	model     Model
	validator *ResponseValidator
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *otel.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithMetrics(m *otel.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewService wires a model to the response validator.
func NewService(model Model, opts ...Option) (*Service, error) {
	if model == nil {
		return nil, errors.New("generation: nil model")
	}
	v, err := NewResponseValidator()
	if err != nil {
		return nil, err
	}
	s := &Service{
		model:     model,
		validator: v,
		logger:    slog.Default(),
		tracer:    otel.NoopTracer(),
		metrics:   otel.NoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ModelName reports the configured model.
func (s *Service) ModelName() string { return s.model.Name() }

// Configured reports whether the model can reach a provider.
func (s *Service) Configured() bool { return Available(s.model) }

// Generate asks the model for test cases covering requirement. Every failure
// is a *GenerationError.
func (s *Service) Generate(ctx context.Context, requirement string) (Result, error) {
	ctx, span := otel.StartClientSpan(ctx, s.tracer, "generation.generate",
		otel.AttrModel.String(s.model.Name()),
	)
	defer span.End()

	logger := s.logger.With("model", s.model.Name())
	logger.DebugContext(ctx, "generation started", "requirement", schema.Preview(requirement, 80))

	start := time.Now()
	text, err := s.model.Generate(ctx, Request{
		System: SystemPrompt,
		Prompt: BuildPrompt(requirement),
	})
	s.metrics.LLMCallDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("model", s.model.Name())))

	if err != nil {
		return Result{}, s.failed(ctx, span, logger, fail(ClassifyModelError(err), err))
	}
	if text == "" {
		return Result{}, s.failed(ctx, span, logger, fail(FailureEmpty, errors.New("Empty response from Gemini model")))
	}

	parsed, err := s.validator.Validate(text)
	if err != nil {
		return Result{}, s.failed(ctx, span, logger, fail(FailureMalformed, err))
	}
	for _, idx := range parsed.Repaired {
		logger.DebugContext(ctx, "priority coerced to Medium", "index", idx)
	}

	logger.InfoContext(ctx, "generation completed",
		"test_cases", len(parsed.ManualTestCases),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Result{
		ManualTestCases: parsed.ManualTestCases,
		CypressScript:   parsed.CypressScript,
	}, nil
}

func (s *Service) failed(ctx context.Context, span trace.Span, logger *slog.Logger, gErr *GenerationError) error {
	span.RecordError(gErr)
	span.SetStatus(codes.Error, gErr.Reason())
	span.SetAttributes(otel.AttrFailureKind.String(string(gErr.Kind)))
	s.metrics.GenerationFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", string(gErr.Kind))))
	logger.ErrorContext(ctx, "generation failed", "kind", gErr.Kind, "error", gErr.Reason())
	return gErr
}
