package persistence

import (
	"context"
	"fmt"

	"github.com/basket/testforge/internal/schema"
)

// Unavailable stands in for a durable backend that could not be set up.
// Every call fails with ErrStorageUnavailable.
type Unavailable struct {
	Backend string
	Reason  error
}

func (u Unavailable) Name() string {
	if u.Backend == "" {
		return "unavailable"
	}
	return u.Backend
}

func (u Unavailable) err() error {
	if u.Reason == nil {
		return fmt.Errorf("%s: %w", u.Name(), ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", u.Name(), ErrStorageUnavailable, u.Reason)
}

func (u Unavailable) GetUser(context.Context, string) (*schema.User, error) {
	return nil, u.err()
}

func (u Unavailable) GetUserByUsername(context.Context, string) (*schema.User, error) {
	return nil, u.err()
}

func (u Unavailable) CreateUser(context.Context, schema.NewUser) (*schema.User, error) {
	return nil, u.err()
}

func (u Unavailable) GetTestGeneration(context.Context, string) (*schema.TestGeneration, error) {
	return nil, u.err()
}

func (u Unavailable) ListTestGenerations(context.Context) ([]schema.TestGeneration, error) {
	return nil, u.err()
}

func (u Unavailable) CreateTestGeneration(context.Context, schema.NewTestGeneration) (*schema.TestGeneration, error) {
	return nil, u.err()
}

func (u Unavailable) DeleteTestGeneration(context.Context, string) (bool, error) {
	return false, u.err()
}
