package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/testforge/internal/persistence"
	"github.com/basket/testforge/internal/schema"
)

const records = 40

func main() {
	ctx := context.Background()
	baseDir, err := os.MkdirTemp("", "testforge-backup-drill-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(baseDir)

	dbPath := filepath.Join(baseDir, "testforge.db")
	backupPath := filepath.Join(baseDir, "backup.db")

	store, err := persistence.OpenSQLite(dbPath)
	if err != nil {
		fmt.Printf("open_store_error=%v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	for i := 0; i < records; i++ {
		_, err := store.CreateTestGeneration(ctx, schema.NewTestGeneration{
			Requirement: fmt.Sprintf("Backup drill requirement number %d", i),
			ManualTestCases: []schema.TestCase{{
				ID:             "TC-001",
				Description:    "drill",
				Steps:          "1. run",
				ExpectedResult: "restored",
				Priority:       schema.PriorityLow,
			}},
			CypressScript: "describe('drill', () => {});",
		})
		if err != nil {
			fmt.Printf("create_generation_error=%v\n", err)
			os.Exit(1)
		}
	}
	newest, err := store.ListTestGenerations(ctx)
	if err != nil || len(newest) == 0 {
		fmt.Printf("list_error=%v\n", err)
		os.Exit(1)
	}

	backupStart := time.Now().UTC()
	if err := store.Backup(ctx, backupPath); err != nil {
		fmt.Printf("backup_error=%v\n", err)
		os.Exit(1)
	}
	backupEnd := time.Now().UTC()

	restoreStart := time.Now().UTC()
	restored, err := persistence.OpenSQLite(backupPath)
	if err != nil {
		fmt.Printf("open_restore_error=%v\n", err)
		os.Exit(1)
	}
	defer restored.Close()
	restoreEnd := time.Now().UTC()

	items, err := restored.ListTestGenerations(ctx)
	if err != nil {
		fmt.Printf("list_restored_error=%v\n", err)
		os.Exit(1)
	}
	got, err := restored.GetTestGeneration(ctx, newest[0].ID)
	if err != nil {
		fmt.Printf("get_restored_error=%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("backup_started=%s\n", backupStart.Format(time.RFC3339Nano))
	fmt.Printf("backup_completed=%s\n", backupEnd.Format(time.RFC3339Nano))
	fmt.Printf("restore_started=%s\n", restoreStart.Format(time.RFC3339Nano))
	fmt.Printf("restore_completed=%s\n", restoreEnd.Format(time.RFC3339Nano))
	fmt.Printf("rpo_duration=%s\n", backupEnd.Sub(backupStart))
	fmt.Printf("rto_duration=%s\n", restoreEnd.Sub(restoreStart))
	fmt.Printf("restored_generations=%d\n", len(items))

	if len(items) != records || items[0].ID != newest[0].ID || len(got.ManualTestCases) != 1 {
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}
