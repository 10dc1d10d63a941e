package persistence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/testforge/internal/schema"
)

type memoryEntry struct {
	gen schema.TestGeneration
	seq uint64
}

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]schema.User
	generations map[string]memoryEntry
	seq         uint64
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       map[string]schema.User{},
		generations: map[string]memoryEntry{},
		now:         time.Now,
	}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) GetUser(_ context.Context, id string) (*schema.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (*schema.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateUser(_ context.Context, in schema.NewUser) (*schema.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == in.Username {
			return nil, ErrUsernameTaken
		}
	}
	u := schema.User{ID: uuid.NewString(), Username: in.Username, Password: in.Password}
	m.users[u.ID] = u
	return &u, nil
}

func (m *MemoryStore) GetTestGeneration(_ context.Context, id string) (*schema.TestGeneration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.generations[id]
	if !ok {
		return nil, ErrNotFound
	}
	g := cloneGeneration(e.gen)
	return &g, nil
}

// ListTestGenerations orders by CreatedAt descending; equal timestamps list
// the later insertion first.
func (m *MemoryStore) ListTestGenerations(_ context.Context) ([]schema.TestGeneration, error) {
	m.mu.RLock()
	entries := make([]memoryEntry, 0, len(m.generations))
	for _, e := range m.generations {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	slices.SortFunc(entries, func(a, b memoryEntry) int {
		if c := b.gen.CreatedAt.Compare(a.gen.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
	out := make([]schema.TestGeneration, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneGeneration(e.gen))
	}
	return out, nil
}

func (m *MemoryStore) CreateTestGeneration(_ context.Context, in schema.NewTestGeneration) (*schema.TestGeneration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	g := schema.TestGeneration{
		ID:              uuid.NewString(),
		Requirement:     in.Requirement,
		ManualTestCases: slices.Clone(in.ManualTestCases),
		CypressScript:   in.CypressScript,
		CreatedAt:       m.now(),
	}
	m.generations[g.ID] = memoryEntry{gen: g, seq: m.seq}
	out := cloneGeneration(g)
	return &out, nil
}

func (m *MemoryStore) DeleteTestGeneration(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.generations[id]; !ok {
		return false, nil
	}
	delete(m.generations, id)
	return true, nil
}

func cloneGeneration(g schema.TestGeneration) schema.TestGeneration {
	g.ManualTestCases = slices.Clone(g.ManualTestCases)
	return g
}
