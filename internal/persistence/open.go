package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/basket/testforge/internal/config"
)

// OpenDurable builds the configured durable backend. A backend that cannot be
// set up is returned as Unavailable with the reason, never as an error, so
// the server still starts on the in-memory store.
func OpenDurable(ctx context.Context, cfg config.Config, logger *slog.Logger) Storage {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		store, err := OpenSQLite(cfg.Storage.SQLite.Path)
		if err != nil {
			logger.Warn("sqlite store unavailable; using in-memory storage", "path", cfg.Storage.SQLite.Path, "error", err)
			return Unavailable{Backend: "sqlite", Reason: err}
		}
		logger.Info("durable store ready", "backend", "sqlite", "path", cfg.Storage.SQLite.Path)
		return store

	case config.BackendFirestore:
		sa, err := cfg.ServiceAccountJSON()
		if err == nil && sa == "" {
			err = fmt.Errorf("FIREBASE_SERVICE_ACCOUNT is not set")
		}
		if err != nil {
			logger.Warn("firestore unavailable; using in-memory storage", "error", err)
			return Unavailable{Backend: "firestore", Reason: err}
		}
		store, err := OpenFirestore(ctx, FirestoreConfig{
			ProjectID:          cfg.Storage.Firestore.ProjectID,
			ServiceAccountJSON: sa,
			Collection:         cfg.Storage.Firestore.Collection,
		})
		if err != nil {
			logger.Warn("firestore unavailable; using in-memory storage", "error", err)
			return Unavailable{Backend: "firestore", Reason: err}
		}
		logger.Info("durable store ready", "backend", "firestore", "collection", cfg.Storage.Firestore.Collection)
		return store

	default:
		logger.Info("durable store disabled; using in-memory storage", "backend", cfg.Storage.Backend)
		return Unavailable{Backend: cfg.Storage.Backend, Reason: fmt.Errorf("backend %q disabled", cfg.Storage.Backend)}
	}
}

// IsAvailable reports whether s is a working durable backend.
func IsAvailable(s Storage) bool {
	_, off := s.(Unavailable)
	return s != nil && !off
}
