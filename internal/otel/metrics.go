package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the server's metric instruments.
type Metrics struct {
	RequestDuration    metric.Float64Histogram
	LLMCallDuration    metric.Float64Histogram
	GenerationFailures metric.Int64Counter
	StorageFallbacks   metric.Int64Counter
	StorageDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("testforge.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("testforge.llm.duration",
		metric.WithDescription("Model call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.GenerationFailures, err = meter.Int64Counter("testforge.generation.failures",
		metric.WithDescription("Generation attempts that returned an error"),
	)
	if err != nil {
		return nil, err
	}

	m.StorageFallbacks, err = meter.Int64Counter("testforge.storage.fallbacks",
		metric.WithDescription("Storage operations served by the in-memory store after a durable store failure"),
	)
	if err != nil {
		return nil, err
	}

	m.StorageDuration, err = meter.Float64Histogram("testforge.storage.duration",
		metric.WithDescription("Storage operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by a no-op meter. Used by tests and
// callers that run without a Provider.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noopMeter())
	return m
}
