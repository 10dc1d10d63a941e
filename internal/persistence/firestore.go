package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/basket/testforge/internal/schema"
)

const (
	DefaultGenerationsCollection = "test_generations"
	DefaultUsersCollection       = "users"
)

// FirestoreConfig selects the project, credentials and collections.
type FirestoreConfig struct {
	ProjectID string
	// ServiceAccountJSON is the raw service account key document.
	ServiceAccountJSON string
	Collection         string
	UsersCollection    string
}

// FirestoreStore is the default durable backend.
type FirestoreStore struct {
	client      *firestore.Client
	generations string
	users       string
}

// generationDoc is the stored document shape. Field names match the JSON
// wire format.
type generationDoc struct {
	Requirement     string            `firestore:"requirement"`
	ManualTestCases []schema.TestCase `firestore:"manualTestCases"`
	CypressScript   string            `firestore:"cypressScript"`
	CreatedAt       time.Time         `firestore:"createdAt,serverTimestamp"`
}

type userDoc struct {
	Username string `firestore:"username"`
	Password string `firestore:"password"`
}

// ServiceAccountProjectID reads project_id from a service account document.
func ServiceAccountProjectID(serviceAccountJSON string) (string, error) {
	var sa struct {
		Type      string `json:"type"`
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(serviceAccountJSON), &sa); err != nil {
		return "", fmt.Errorf("parse service account: %w", err)
	}
	return sa.ProjectID, nil
}

// OpenFirestore builds a client from the service account credentials. It
// fails without partial state when credentials are missing or malformed.
func OpenFirestore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	sa := strings.TrimSpace(cfg.ServiceAccountJSON)
	if sa == "" {
		return nil, errors.New("FIREBASE_SERVICE_ACCOUNT is not set")
	}
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		var err error
		projectID, err = ServiceAccountProjectID(sa)
		if err != nil {
			return nil, err
		}
	} else if !json.Valid([]byte(sa)) {
		return nil, errors.New("parse service account: invalid JSON")
	}
	if projectID == "" {
		return nil, errors.New("firestore project id is not set")
	}

	client, err := firestore.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(sa)))
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	s := &FirestoreStore{
		client:      client,
		generations: cfg.Collection,
		users:       cfg.UsersCollection,
	}
	if s.generations == "" {
		s.generations = DefaultGenerationsCollection
	}
	if s.users == "" {
		s.users = DefaultUsersCollection
	}
	return s, nil
}

func (s *FirestoreStore) Name() string { return "firestore" }

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *FirestoreStore) GetUser(ctx context.Context, id string) (*schema.User, error) {
	snap, err := s.client.Collection(s.users).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return userFromSnapshot(snap)
}

func (s *FirestoreStore) GetUserByUsername(ctx context.Context, username string) (*schema.User, error) {
	iter := s.client.Collection(s.users).Where("username", "==", username).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return userFromSnapshot(snap)
}

func (s *FirestoreStore) CreateUser(ctx context.Context, in schema.NewUser) (*schema.User, error) {
	users := s.client.Collection(s.users)
	ref := users.NewDoc()
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(users.Where("username", "==", in.Username).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrUsernameTaken
		}
		return tx.Create(ref, userDoc{Username: in.Username, Password: in.Password})
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &schema.User{ID: ref.ID, Username: in.Username, Password: in.Password}, nil
}

func (s *FirestoreStore) GetTestGeneration(ctx context.Context, id string) (*schema.TestGeneration, error) {
	snap, err := s.client.Collection(s.generations).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get test generation: %w", err)
	}
	return generationFromSnapshot(snap)
}

func (s *FirestoreStore) ListTestGenerations(ctx context.Context) ([]schema.TestGeneration, error) {
	snaps, err := s.client.Collection(s.generations).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list test generations: %w", err)
	}
	out := make([]schema.TestGeneration, 0, len(snaps))
	for _, snap := range snaps {
		g, err := generationFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, nil
}

// CreateTestGeneration writes the record with a server-assigned createdAt and
// re-reads it so the returned timestamp is the stored one.
func (s *FirestoreStore) CreateTestGeneration(ctx context.Context, in schema.NewTestGeneration) (*schema.TestGeneration, error) {
	cases := in.ManualTestCases
	if cases == nil {
		cases = []schema.TestCase{}
	}
	ref := s.client.Collection(s.generations).NewDoc()
	if _, err := ref.Create(ctx, generationDoc{
		Requirement:     in.Requirement,
		ManualTestCases: cases,
		CypressScript:   in.CypressScript,
	}); err != nil {
		return nil, fmt.Errorf("create test generation: %w", err)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read created test generation: %w", err)
	}
	return generationFromSnapshot(snap)
}

func (s *FirestoreStore) DeleteTestGeneration(ctx context.Context, id string) (bool, error) {
	_, err := s.client.Collection(s.generations).Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete test generation: %w", err)
	}
	return true, nil
}

func generationFromSnapshot(snap *firestore.DocumentSnapshot) (*schema.TestGeneration, error) {
	var doc generationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode test generation %s: %w", snap.Ref.ID, err)
	}
	return generationFromDoc(snap.Ref.ID, doc), nil
}

func generationFromDoc(id string, doc generationDoc) *schema.TestGeneration {
	cases := doc.ManualTestCases
	if cases == nil {
		cases = []schema.TestCase{}
	}
	return &schema.TestGeneration{
		ID:              id,
		Requirement:     doc.Requirement,
		ManualTestCases: cases,
		CypressScript:   doc.CypressScript,
		CreatedAt:       doc.CreatedAt.UTC(),
	}
}

func userFromSnapshot(snap *firestore.DocumentSnapshot) (*schema.User, error) {
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
	}
	return &schema.User{ID: snap.Ref.ID, Username: doc.Username, Password: doc.Password}, nil
}
