package persistence_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/testforge/internal/persistence"
)

func openTestSQLite(t *testing.T) (*persistence.SQLiteStore, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "testforge.db")
	store, err := persistence.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, dbPath
}

func queryOneString(t *testing.T, db *sql.DB, q string) string {
	t.Helper()
	var out string
	if err := db.QueryRow(q).Scan(&out); err != nil {
		t.Fatalf("query %q: %v", q, err)
	}
	return out
}

func TestSQLiteStore_OpenConfiguresWALAndSchema(t *testing.T) {
	store, _ := openTestSQLite(t)
	db := store.DB()

	if journal := queryOneString(t, db, "PRAGMA journal_mode;"); journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}
	var synchronous int
	if err := db.QueryRow("PRAGMA synchronous;").Scan(&synchronous); err != nil {
		t.Fatalf("query synchronous: %v", err)
	}
	if synchronous != 2 {
		t.Fatalf("expected synchronous=FULL(2), got %d", synchronous)
	}
	for _, table := range []string{"schema_migrations", "users", "test_generations"} {
		name := queryOneString(t, db, "SELECT name FROM sqlite_master WHERE type='table' AND name='"+table+"';")
		if name != table {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestSQLiteStore_ReopenKeepsRecords(t *testing.T) {
	store, dbPath := openTestSQLite(t)
	ctx := context.Background()
	created, err := store.CreateTestGeneration(ctx, sampleGeneration("User logs in with valid credentials"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := persistence.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetTestGeneration(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if len(got.ManualTestCases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(got.ManualTestCases))
	}
}

func TestSQLiteStore_RejectsForeignSchema(t *testing.T) {
	store, dbPath := openTestSQLite(t)
	if _, err := store.DB().Exec(`UPDATE schema_migrations SET checksum = 'other' WHERE version = 1;`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	_ = store.Close()

	if _, err := persistence.OpenSQLite(dbPath); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestSQLiteStore_OpenRequiresPath(t *testing.T) {
	if _, err := persistence.OpenSQLite(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteStore_Backup(t *testing.T) {
	store, _ := openTestSQLite(t)
	ctx := context.Background()
	if _, err := store.CreateTestGeneration(ctx, sampleGeneration("User logs in with valid credentials")); err != nil {
		t.Fatalf("create: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := store.Backup(ctx, dest); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if err := store.Backup(ctx, dest); err == nil {
		t.Fatal("expected error when destination exists")
	}

	copyStore, err := persistence.OpenSQLite(dest)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer copyStore.Close()
	list, err := copyStore.ListTestGenerations(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 record in backup, got %d (%v)", len(list), err)
	}
}
