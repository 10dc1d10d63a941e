package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/basket/testforge/internal/schema"
)

const (
	schemaVersion  = 1
	schemaChecksum = "tf-v1-test-generations"

	busyRetries = 5
)

// SQLiteStore is the local durable backend.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		// ±25% jitter.
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, either
// as a driver error or as its message after being flattened by a wrapper.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func (s *SQLiteStore) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// initSchema creates the tables on first open and refuses databases written
// by a different schema.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS test_generations (
			id TEXT PRIMARY KEY,
			requirement TEXT NOT NULL,
			manual_test_cases TEXT NOT NULL,
			cypress_script TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_test_generations_created_at ON test_generations(created_at DESC);`,
	}
	for _, q := range statements {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case maxVersion == 0:
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);`, schemaVersion, schemaChecksum); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case maxVersion != schemaVersion:
		return fmt.Errorf("db schema version %d is not supported (want %d)", maxVersion, schemaVersion)
	default:
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&existing); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if existing != schemaChecksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, existing, schemaChecksum)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*schema.User, error) {
	var u schema.User
	err := s.db.QueryRowContext(ctx, `SELECT id, username, password FROM users WHERE id = ?;`, id).
		Scan(&u.ID, &u.Username, &u.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*schema.User, error) {
	var u schema.User
	err := s.db.QueryRowContext(ctx, `SELECT id, username, password FROM users WHERE username = ?;`, username).
		Scan(&u.ID, &u.Username, &u.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, in schema.NewUser) (*schema.User, error) {
	u := schema.User{ID: uuid.NewString(), Username: in.Username, Password: in.Password}
	err := retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, password) VALUES (?, ?, ?);`,
			u.ID, u.Username, u.Password)
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) GetTestGeneration(ctx context.Context, id string) (*schema.TestGeneration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requirement, manual_test_cases, cypress_script, created_at
		FROM test_generations WHERE id = ?;
	`, id)
	g, err := scanGeneration(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test generation: %w", err)
	}
	return g, nil
}

func (s *SQLiteStore) ListTestGenerations(ctx context.Context) ([]schema.TestGeneration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requirement, manual_test_cases, cypress_script, created_at
		FROM test_generations
		ORDER BY created_at DESC, rowid DESC;
	`)
	if err != nil {
		return nil, fmt.Errorf("query test generations: %w", err)
	}
	defer rows.Close()

	out := []schema.TestGeneration{}
	for rows.Next() {
		g, err := scanGeneration(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan test generation: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("test generation rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateTestGeneration(ctx context.Context, in schema.NewTestGeneration) (*schema.TestGeneration, error) {
	cases := in.ManualTestCases
	if cases == nil {
		cases = []schema.TestCase{}
	}
	casesJSON, err := json.Marshal(cases)
	if err != nil {
		return nil, fmt.Errorf("encode test cases: %w", err)
	}
	g := schema.TestGeneration{
		ID:              uuid.NewString(),
		Requirement:     in.Requirement,
		ManualTestCases: cases,
		CypressScript:   in.CypressScript,
		CreatedAt:       s.now().UTC(),
	}
	err = retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO test_generations (id, requirement, manual_test_cases, cypress_script, created_at)
			VALUES (?, ?, ?, ?, ?);
		`, g.ID, g.Requirement, string(casesJSON), g.CypressScript, g.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert test generation: %w", err)
	}
	return &g, nil
}

func (s *SQLiteStore) DeleteTestGeneration(ctx context.Context, id string) (bool, error) {
	var affected int64
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM test_generations WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete test generation: %w", err)
	}
	return affected > 0, nil
}

// Backup writes an online-consistent copy of the database with VACUUM INTO.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	if destPath == "" {
		return fmt.Errorf("backup destination path required")
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup destination already exists: %s", destPath)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?;`, destPath); err != nil {
		return fmt.Errorf("backup (VACUUM INTO): %w", err)
	}
	return nil
}

func scanGeneration(scanFn func(dest ...any) error) (*schema.TestGeneration, error) {
	var (
		g         schema.TestGeneration
		casesJSON string
		createdNs int64
	)
	if err := scanFn(&g.ID, &g.Requirement, &casesJSON, &g.CypressScript, &createdNs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(casesJSON), &g.ManualTestCases); err != nil {
		return nil, fmt.Errorf("decode test cases: %w", err)
	}
	g.CreatedAt = time.Unix(0, createdNs).UTC()
	return &g, nil
}
