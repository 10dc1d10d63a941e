package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/testforge/internal/config"
	"github.com/basket/testforge/internal/gateway"
	"github.com/basket/testforge/internal/generation"
	otelPkg "github.com/basket/testforge/internal/otel"
	"github.com/basket/testforge/internal/persistence"
	"github.com/basket/testforge/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3.0"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s [flags]                  Start the HTTP server and web UI

SUBCOMMANDS:
  %s status                   Show server health (/healthz)
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  TESTFORGE_HOME              Data directory (default: ~/.testforge)
  TESTFORGE_BIND_ADDR         Listen address (default: %s)
  PORT                        Listen on 0.0.0.0:PORT when TESTFORGE_BIND_ADDR is unset
  GEMINI_API_KEY              Required for test generation
  GEMINI_MODEL                Model id (default: %s)
  TESTFORGE_STORAGE_BACKEND   firestore, sqlite or none (default: firestore)
  FIREBASE_SERVICE_ACCOUNT    Service account JSON for Firestore
  FIREBASE_PROJECT_ID         Overrides the project in the service account
`, config.DefaultBindAddr, config.DefaultModel)
}

func main() {
	home := flag.String("home", "", "data directory (overrides TESTFORGE_HOME)")
	quiet := flag.Bool("quiet", false, "log to the log file only")
	flag.Usage = printUsage
	flag.Parse()

	if *home != "" {
		_ = os.Setenv("TESTFORGE_HOME", *home)
	}
	config.LoadDotEnv(".env", filepath.Join(config.HomeDir(), ".env"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded",
		"home", cfg.HomeDir,
		"from_file", cfg.FromFile,
		"config_hash", cfg.Fingerprint(),
	)

	// Initialize OpenTelemetry (no-op when disabled).
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,

		Model:          cfg.LLM.Model,
		StorageBackend: cfg.Storage.Backend,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	durable := persistence.OpenDurable(ctx, cfg, logger)
	store := persistence.NewFallback(durable, persistence.NewMemoryStore(),
		persistence.WithFallbackLogger(logger),
		persistence.WithFallbackTracer(otelProvider.Tracer),
		persistence.WithFallbackMetrics(metrics),
	)
	logger.Info("startup phase", "phase", "storage_ready",
		"store", store.Name(),
		"durable_ok", persistence.IsAvailable(durable),
	)

	model := generation.NewModel(ctx, generation.ModelConfig{
		Model:  cfg.LLM.Model,
		APIKey: cfg.LLM.APIKey,
	})
	svc, err := generation.NewService(model,
		generation.WithLogger(logger),
		generation.WithTracer(otelProvider.Tracer),
		generation.WithMetrics(metrics),
	)
	if err != nil {
		fatalStartup(logger, "E_GENERATION_INIT", err)
	}

	gw := gateway.New(gateway.Config{
		Store:             store,
		Generator:         svc,
		Logger:            logger,
		Tracer:            otelProvider.Tracer,
		Metrics:           metrics,
		CORS:              cfg.CORS,
		MaxRequestBytes:   cfg.MaxRequestBytes,
		ConfigFingerprint: cfg.Fingerprint(),
		AIConfigured:      svc.Configured(),
		DurableStore:      durable,
	})

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, portHint(cfg.BindAddr)))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	logger.Info("startup phase", "phase", "listener_bound", "addr", cfg.BindAddr)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "model", svc.ModelName())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	if !*quiet && isatty.IsTerminal(os.Stderr.Fd()) {
		printBanner(os.Stderr, cfg, svc.Configured(), persistence.IsAvailable(durable))
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Stop intake, then release the stores, then flush telemetry.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("store close failed", "error", err)
	}
	if err := otelProvider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry flush failed", "error", err)
	}
	logger.Info("shutdown complete")
}

func printBanner(w io.Writer, cfg config.Config, aiOK, durableOK bool) {
	host, port, err := net.SplitHostPort(cfg.BindAddr)
	if err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		host = "localhost"
	}
	url := "http://" + cfg.BindAddr
	if err == nil {
		url = "http://" + net.JoinHostPort(host, port)
	}
	fmt.Fprintf(w, "\n  testforge %s\n  UI:       %s\n", Version, url)
	if !aiOK {
		fmt.Fprintln(w, "  AI:       GEMINI_API_KEY not set, generation will fail")
	}
	storage := cfg.Storage.Backend
	if !durableOK {
		storage += " (unavailable, using in-memory history)"
	}
	fmt.Fprintf(w, "  Storage:  %s\n\n", storage)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"server","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return errors.Is(sysErr.Err, syscall.EADDRINUSE)
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

func portHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or set TESTFORGE_BIND_ADDR.", addr)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or set TESTFORGE_BIND_ADDR.", port)
}
