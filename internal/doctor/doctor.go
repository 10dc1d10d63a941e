package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/testforge/internal/config"
	"github.com/basket/testforge/internal/persistence"
	"github.com/basket/testforge/internal/shared"
)

var envKeys = []string{
	"TESTFORGE_HOME",
	"TESTFORGE_BIND_ADDR",
	"PORT",
	"TESTFORGE_LOG_LEVEL",
	"TESTFORGE_STORAGE_BACKEND",
	"TESTFORGE_SQLITE_PATH",
	"GEMINI_API_KEY",
	"GEMINI_MODEL",
	"FIREBASE_SERVICE_ACCOUNT",
	"FIREBASE_PROJECT_ID",
	"TESTFORGE_OTEL_EXPORTER",
}

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkStorage,
		checkPermissions,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	detail := fmt.Sprintf("fingerprint %s; env %v", cfg.Fingerprint(), envOverrides())
	if !cfg.FromFile {
		return CheckResult{
			Name:    "Config",
			Status:  "PASS",
			Message: fmt.Sprintf("Using defaults and environment (no %s)", config.ConfigPath(cfg.HomeDir)),
			Detail:  detail,
		}
	}
	return CheckResult{
		Name:    "Config",
		Status:  "PASS",
		Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.HomeDir)),
		Detail:  detail,
	}
}

// envOverrides lists the recognised variables that are set, secrets masked.
func envOverrides() []string {
	var out []string
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			out = append(out, k+"="+shared.RedactEnvValue(k, v))
		}
	}
	return out
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.AIConfigured() {
		return CheckResult{Name: "API Key", Status: "PASS", Message: fmt.Sprintf("Gemini key set (model %s)", cfg.LLM.Model)}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  "WARN",
		Message: "GEMINI_API_KEY not set; generation requests will fail",
		Detail:  "Set GEMINI_API_KEY in the environment, .env or llm.api_key in config.yaml",
	}
}

// checkStorage opens the configured durable backend and issues one lookup.
// An unreachable backend is a WARN: the server still runs on memory.
func checkStorage(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Storage", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Storage.Backend == config.BackendNone {
		return CheckResult{Name: "Storage", Status: "SKIP", Message: "Durable storage disabled; history is in-memory only"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := persistence.OpenDurable(probeCtx, *cfg, quiet)
	if c, ok := store.(persistence.Closer); ok {
		defer c.Close()
	}
	if u, ok := store.(persistence.Unavailable); ok {
		return CheckResult{
			Name:    "Storage",
			Status:  "WARN",
			Message: fmt.Sprintf("%s unavailable; falling back to in-memory storage", store.Name()),
			Detail:  fmt.Sprint(u.Reason),
		}
	}

	start := time.Now()
	_, err := store.GetTestGeneration(probeCtx, "doctor-probe")
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return CheckResult{
			Name:    "Storage",
			Status:  "FAIL",
			Message: fmt.Sprintf("%s query failed: %v", store.Name(), err),
		}
	}
	return CheckResult{
		Name:    "Storage",
		Status:  "PASS",
		Message: fmt.Sprintf("%s reachable (%dms)", store.Name(), time.Since(start).Milliseconds()),
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	if err := os.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unavailable: %v", err)}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	hosts := []string{"generativelanguage.googleapis.com"}
	if cfg.Storage.Backend == config.BackendFirestore {
		hosts = append(hosts, "firestore.googleapis.com")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	var resolved []string
	for _, host := range hosts {
		addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
		if err != nil {
			return CheckResult{
				Name:    "Network",
				Status:  "FAIL",
				Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
				Detail:  fmt.Sprintf("latency=%dms", time.Since(start).Milliseconds()),
			}
		}
		resolved = append(resolved, fmt.Sprintf("%s=%d", host, len(addrs)))
	}

	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %d hosts (%dms)", len(hosts), time.Since(start).Milliseconds()),
		Detail:  fmt.Sprintf("%v", resolved),
	}
}
