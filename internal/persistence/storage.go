// Package persistence stores test generations. A durable backend (Firestore
// or SQLite) is tried first and an in-memory store takes over when it fails.
package persistence

import (
	"context"
	"errors"

	"github.com/basket/testforge/internal/schema"
)

var (
	// ErrNotFound reports a missing record. It is an answer, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable reports a durable backend that is not configured
	// or could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUsernameTaken is returned by CreateUser for a duplicate username.
	ErrUsernameTaken = errors.New("username already exists")
)

// Storage is implemented by every backend and by the Fallback policy.
type Storage interface {
	GetUser(ctx context.Context, id string) (*schema.User, error)
	GetUserByUsername(ctx context.Context, username string) (*schema.User, error)
	CreateUser(ctx context.Context, user schema.NewUser) (*schema.User, error)

	// GetTestGeneration returns ErrNotFound when id is absent.
	GetTestGeneration(ctx context.Context, id string) (*schema.TestGeneration, error)
	// ListTestGenerations returns every record, newest first.
	ListTestGenerations(ctx context.Context) ([]schema.TestGeneration, error)
	// CreateTestGeneration assigns the id and creation time.
	CreateTestGeneration(ctx context.Context, gen schema.NewTestGeneration) (*schema.TestGeneration, error)
	// DeleteTestGeneration reports false when id was absent.
	DeleteTestGeneration(ctx context.Context, id string) (bool, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Closer is implemented by stores that hold external resources.
type Closer interface {
	Close() error
}
