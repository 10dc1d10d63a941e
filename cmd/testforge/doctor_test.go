package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeDoctorConfig(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("TESTFORGE_HOME", home)
	t.Setenv("TESTFORGE_STORAGE_BACKEND", "")
	cfg := "storage:\n  backend: sqlite\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunDoctorCommand_TextOutput(t *testing.T) {
	writeDoctorConfig(t)

	code := runDoctorCommand(context.Background(), nil)
	// Network may fail offline; a parse error would be 2.
	if code == 2 {
		t.Fatalf("unexpected exit code 2 (usage error)")
	}
}

func TestRunDoctorCommand_JSONOutput(t *testing.T) {
	writeDoctorConfig(t)

	code := runDoctorCommand(context.Background(), []string{"-json"})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0 for JSON output", code)
	}
}

func TestRunDoctorCommand_DoubleDashJSON(t *testing.T) {
	writeDoctorConfig(t)

	code := runDoctorCommand(context.Background(), []string{"--json"})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0 for --json", code)
	}
}

func TestRunDoctorCommand_UnknownFlag(t *testing.T) {
	code := runDoctorCommand(context.Background(), []string{"-verbose"})
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunDoctorCommand_BadConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TESTFORGE_HOME", home)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("storage:\n  backend: redis\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runDoctorCommand(context.Background(), nil)
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 for unusable config", code)
	}
}
