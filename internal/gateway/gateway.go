// Package gateway serves the HTTP API and the embedded web UI.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/testforge/internal/config"
	"github.com/basket/testforge/internal/generation"
	"github.com/basket/testforge/internal/otel"
	"github.com/basket/testforge/internal/persistence"
)

// Generator produces test cases for a requirement. *generation.Service
// implements it.
type Generator interface {
	Generate(ctx context.Context, requirement string) (generation.Result, error)
}

type Config struct {
	// Store is the fallback policy; handlers never pick a backend themselves.
	Store     persistence.Storage
	Generator Generator

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otel.Metrics

	CORS            config.CORSConfig
	MaxRequestBytes int64

	// ConfigFingerprint is the hash of the active config reported by /healthz.
	ConfigFingerprint string

	// AIConfigured and DurableStore feed /healthz.
	AIConfigured bool
	DurableStore persistence.Storage
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.NoopTracer()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = otel.NoopMetrics()
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = config.DefaultMaxRequestBytes
	}
	return &Server{cfg: cfg, logger: cfg.Logger, tracer: cfg.Tracer}
}

// Handler returns the routed handler wrapped in the middleware chain.
// Outermost first: request ids, recovery, telemetry, CORS, body limit.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/history/", s.handleHistoryByID)
	mux.HandleFunc("/api/", s.handleAPINotFound)
	mux.Handle("/", webHandler())

	var h http.Handler = mux
	h = RequestSizeLimitMiddleware(s.cfg.MaxRequestBytes)(h)
	h = NewCORSMiddleware(s.cfg.CORS)(h)
	h = s.telemetryMiddleware(h)
	h = s.recoverMiddleware(h)
	h = requestIDMiddleware(h)
	return h
}

type storageHealth struct {
	Durable   string `json:"durable"`
	DurableOK bool   `json:"durable_ok"`
	Volatile  string `json:"volatile"`
}

type healthPayload struct {
	Healthy      bool          `json:"healthy"`
	AIConfigured bool          `json:"ai_configured"`
	Storage      storageHealth `json:"storage"`
	ConfigHash   string        `json:"config_hash,omitempty"`
}

// handleHealthz always answers 200: the in-memory store keeps the server
// usable when the durable store is down.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	durableName := "none"
	durableOK := false
	if s.cfg.DurableStore != nil {
		durableName = s.cfg.DurableStore.Name()
		durableOK = persistence.IsAvailable(s.cfg.DurableStore)
	}
	writeJSON(w, http.StatusOK, healthPayload{
		Healthy:      true,
		AIConfigured: s.cfg.AIConfigured,
		Storage: storageHealth{
			Durable:   durableName,
			DurableOK: durableOK,
			Volatile:  "memory",
		},
		ConfigHash: s.cfg.ConfigFingerprint,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
