package persistence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/testforge/internal/otel"
	"github.com/basket/testforge/internal/schema"
)

// Fallback tries the durable store first and repeats the call against the
// volatile store when it fails. ErrNotFound from the durable store is
// returned as is. The two stores are never reconciled.
type Fallback struct {
	durable  Storage
	volatile Storage
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *otel.Metrics
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

func WithFallbackLogger(l *slog.Logger) FallbackOption {
	return func(f *Fallback) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithFallbackTracer(t trace.Tracer) FallbackOption {
	return func(f *Fallback) {
		if t != nil {
			f.tracer = t
		}
	}
}

func WithFallbackMetrics(m *otel.Metrics) FallbackOption {
	return func(f *Fallback) {
		if m != nil {
			f.metrics = m
		}
	}
}

func NewFallback(durable, volatile Storage, opts ...FallbackOption) *Fallback {
	if durable == nil {
		durable = Unavailable{}
	}
	if volatile == nil {
		volatile = NewMemoryStore()
	}
	f := &Fallback{
		durable:  durable,
		volatile: volatile,
		logger:   slog.Default(),
		tracer:   otel.NoopTracer(),
		metrics:  otel.NoopMetrics(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fallback) Name() string { return f.durable.Name() + "+" + f.volatile.Name() }

// Durable returns the primary store.
func (f *Fallback) Durable() Storage { return f.durable }

// Close releases the durable store's resources.
func (f *Fallback) Close() error {
	if c, ok := f.durable.(Closer); ok {
		return c.Close()
	}
	return nil
}

func run[T any](ctx context.Context, f *Fallback, op string, call func(Storage) (T, error)) (T, error) {
	ctx, span := otel.StartSpan(ctx, f.tracer, "storage."+op, otel.AttrOperation.String(op))
	defer span.End()

	start := time.Now()
	out, err := call(f.durable)
	f.observe(ctx, f.durable, op, start)
	if err == nil || errors.Is(err, ErrNotFound) {
		span.SetAttributes(otel.AttrStore.String(f.durable.Name()))
		return out, err
	}

	f.logger.WarnContext(ctx, "durable store failed; using in-memory storage",
		"operation", op,
		"store", f.durable.Name(),
		"error", err,
	)
	f.metrics.StorageFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("store", f.durable.Name()),
	))
	span.SetAttributes(otel.AttrStore.String(f.volatile.Name()))

	start = time.Now()
	out, err = call(f.volatile)
	f.observe(ctx, f.volatile, op, start)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
	}
	return out, err
}

func (f *Fallback) observe(ctx context.Context, s Storage, op string, start time.Time) {
	f.metrics.StorageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("store", s.Name()),
	))
}

func (f *Fallback) GetUser(ctx context.Context, id string) (*schema.User, error) {
	return run(ctx, f, "get_user", func(s Storage) (*schema.User, error) {
		return s.GetUser(ctx, id)
	})
}

func (f *Fallback) GetUserByUsername(ctx context.Context, username string) (*schema.User, error) {
	return run(ctx, f, "get_user_by_username", func(s Storage) (*schema.User, error) {
		return s.GetUserByUsername(ctx, username)
	})
}

func (f *Fallback) CreateUser(ctx context.Context, user schema.NewUser) (*schema.User, error) {
	return run(ctx, f, "create_user", func(s Storage) (*schema.User, error) {
		return s.CreateUser(ctx, user)
	})
}

func (f *Fallback) GetTestGeneration(ctx context.Context, id string) (*schema.TestGeneration, error) {
	return run(ctx, f, "get_test_generation", func(s Storage) (*schema.TestGeneration, error) {
		return s.GetTestGeneration(ctx, id)
	})
}

func (f *Fallback) ListTestGenerations(ctx context.Context) ([]schema.TestGeneration, error) {
	return run(ctx, f, "list_test_generations", func(s Storage) ([]schema.TestGeneration, error) {
		return s.ListTestGenerations(ctx)
	})
}

func (f *Fallback) CreateTestGeneration(ctx context.Context, gen schema.NewTestGeneration) (*schema.TestGeneration, error) {
	return run(ctx, f, "create_test_generation", func(s Storage) (*schema.TestGeneration, error) {
		return s.CreateTestGeneration(ctx, gen)
	})
}

func (f *Fallback) DeleteTestGeneration(ctx context.Context, id string) (bool, error) {
	return run(ctx, f, "delete_test_generation", func(s Storage) (bool, error) {
		return s.DeleteTestGeneration(ctx, id)
	})
}
