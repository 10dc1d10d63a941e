package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBindAddr        = "127.0.0.1:5000"
	DefaultModel           = "gemini-2.5-pro"
	DefaultCollection      = "test_generations"
	DefaultMaxRequestBytes = 1 << 20

	BackendFirestore = "firestore"
	BackendSQLite    = "sqlite"
	BackendNone      = "none"
)

// LLMConfig selects the generative model.
type LLMConfig struct {
	// Provider names the model provider. Only "google" (Gemini) is supported.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// FirestoreConfig holds the durable document store settings.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`

	// ServiceAccount is the raw service account JSON. FIREBASE_SERVICE_ACCOUNT
	// overrides it.
	ServiceAccount string `yaml:"service_account"`

	// ServiceAccountFile is read when ServiceAccount is empty.
	ServiceAccountFile string `yaml:"service_account_file"`
}

// SQLiteConfig holds the optional local durable store settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig picks the durable backend tried before the in-memory store.
type StorageConfig struct {
	// Backend is "firestore", "sqlite" or "none". "none" leaves only the
	// in-memory store.
	Backend   string          `yaml:"backend"`
	Firestore FirestoreConfig `yaml:"firestore"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
}

// CORSConfig controls cross-origin access to the HTTP API.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// TelemetryConfig mirrors otel.Config in config.yaml.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr        string `yaml:"bind_addr"`
	LogLevel        string `yaml:"log_level"`
	MaxRequestBytes int64  `yaml:"max_request_bytes"`

	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	CORS      CORSConfig      `yaml:"cors"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// FromFile is true when config.yaml existed.
	FromFile bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func HomeDir() string {
	if override := os.Getenv("TESTFORGE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".testforge")
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func defaultConfig() Config {
	return Config{
		BindAddr:        DefaultBindAddr,
		LogLevel:        "info",
		MaxRequestBytes: DefaultMaxRequestBytes,
		LLM: LLMConfig{
			Provider: "google",
			Model:    DefaultModel,
		},
		Storage: StorageConfig{
			Backend: BackendFirestore,
			Firestore: FirestoreConfig{
				Collection: DefaultCollection,
			},
		},
	}
}

// Load reads config.yaml from HomeDir(), then applies environment overrides.
// A missing config.yaml is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create testforge home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else {
		cfg.FromFile = true
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config.yaml: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.BindAddr) == "" {
		cfg.BindAddr = DefaultBindAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = DefaultMaxRequestBytes
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = DefaultModel
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFirestore
	}
	if cfg.Storage.Firestore.Collection == "" {
		cfg.Storage.Firestore.Collection = DefaultCollection
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = filepath.Join(cfg.HomeDir, "testforge.db")
	}
}

func validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case BackendFirestore, BackendSQLite, BackendNone:
	default:
		return fmt.Errorf("storage.backend %q is not supported (firestore, sqlite, none)", cfg.Storage.Backend)
	}
	if cfg.LLM.Provider != "google" {
		return fmt.Errorf("llm.provider %q is not supported (google)", cfg.LLM.Provider)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TESTFORGE_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("PORT"); raw != "" && os.Getenv("TESTFORGE_BIND_ADDR") == "" {
		if _, err := strconv.Atoi(raw); err == nil {
			cfg.BindAddr = "0.0.0.0:" + raw
		}
	}
	if raw := os.Getenv("TESTFORGE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TESTFORGE_MAX_REQUEST_BYTES"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.MaxRequestBytes = v
		}
	}
	if raw := os.Getenv("GEMINI_API_KEY"); raw != "" {
		cfg.LLM.APIKey = raw
	}
	if raw := os.Getenv("GEMINI_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("TESTFORGE_STORAGE_BACKEND"); raw != "" {
		cfg.Storage.Backend = raw
	}
	if raw := os.Getenv("FIREBASE_SERVICE_ACCOUNT"); raw != "" {
		cfg.Storage.Firestore.ServiceAccount = raw
	}
	if raw := os.Getenv("FIREBASE_PROJECT_ID"); raw != "" {
		cfg.Storage.Firestore.ProjectID = raw
	}
	if raw := os.Getenv("TESTFORGE_SQLITE_PATH"); raw != "" {
		cfg.Storage.SQLite.Path = raw
	}
	if raw := os.Getenv("TESTFORGE_OTEL_EXPORTER"); raw != "" {
		cfg.Telemetry.Enabled = raw != "none"
		cfg.Telemetry.Exporter = raw
	}
}

// ServiceAccountJSON returns the Firestore service account document, reading
// ServiceAccountFile when no inline JSON is configured. Empty means Firestore
// is not configured.
func (c Config) ServiceAccountJSON() (string, error) {
	if raw := strings.TrimSpace(c.Storage.Firestore.ServiceAccount); raw != "" {
		return raw, nil
	}
	path := strings.TrimSpace(c.Storage.Firestore.ServiceAccountFile)
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read service account file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// AIConfigured reports whether a Gemini API key is available.
func (c Config) AIConfigured() bool {
	return strings.TrimSpace(c.LLM.APIKey) != ""
}

// Fingerprint returns a stable hash of the active config. Secrets are excluded.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|model=%s|backend=%s|collection=%s|origins=%v|otel=%t",
		c.BindAddr, c.LogLevel, c.LLM.Model, c.Storage.Backend, c.Storage.Firestore.Collection,
		c.CORS.AllowedOrigins, c.Telemetry.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
