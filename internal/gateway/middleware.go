package gateway

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/testforge/internal/otel"
	"github.com/basket/testforge/internal/shared"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder remembers the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.status = http.StatusOK
		r.wrote = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func recorderFor(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// requestIDMiddleware echoes or assigns X-Request-ID and seeds the trace id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" || len(reqID) > 128 {
			reqID = shared.NewTraceID()
		}
		w.Header().Set(requestIDHeader, reqID)
		ctx := shared.WithRequestID(r.Context(), reqID)
		ctx = shared.WithTraceID(ctx, shared.NewTraceID())
		next.ServeHTTP(recorderFor(w), r.WithContext(ctx))
	})
}

// recoverMiddleware turns a handler panic into a 500 carrying the panic
// message. The process keeps serving.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorderFor(w)
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			msg := fmt.Sprint(p)
			s.logger.ErrorContext(r.Context(), "handler panic",
				"path", r.URL.Path,
				"panic", msg,
				"stack", string(debug.Stack()),
			)
			if !rec.wrote {
				writeError(rec, http.StatusInternalServerError, "Internal Server Error", msg)
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// telemetryMiddleware wraps each request in a server span, records the
// request duration and writes one access log line.
func (s *Server) telemetryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeFor(r.URL.Path)
		ctx, span := otel.StartServerSpan(r.Context(), s.tracer, r.Method+" "+route,
			otel.AttrRoute.String(route),
			otel.AttrRequestID.String(shared.RequestID(r.Context())),
		)
		defer span.End()
		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = shared.WithTraceID(ctx, sc.TraceID().String())
		}

		rec := recorderFor(w)
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		span.SetAttributes(otel.AttrStatusCode.Int(rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		s.cfg.Metrics.RequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.Int("status", rec.status),
		))
		if route == "/" {
			return
		}
		s.logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// routeFor maps a path to a low-cardinality route label.
func routeFor(path string) string {
	switch {
	case path == "/api/generate", path == "/api/history", path == "/healthz":
		return path
	case len(path) > len("/api/history/") && path[:len("/api/history/")] == "/api/history/":
		return "/api/history/{id}"
	case len(path) >= len("/api/") && path[:len("/api/")] == "/api/":
		return "/api/*"
	default:
		return "/"
	}
}
