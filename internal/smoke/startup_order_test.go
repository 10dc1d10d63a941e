package smoke

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func pickFreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pick free addr: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// serverEnv runs the binary without a model key or durable store.
func serverEnv(home, addr string) []string {
	return append(os.Environ(),
		"TESTFORGE_HOME="+home,
		"TESTFORGE_BIND_ADDR="+addr,
		"TESTFORGE_STORAGE_BACKEND=none",
		"GEMINI_API_KEY=",
		"FIREBASE_SERVICE_ACCOUNT=",
	)
}

func waitHealthy(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s never became healthy", addr)
}

func TestSmoke_StartupPhasesFollowRequiredOrder(t *testing.T) {
	bin := buildBinary(t)
	home := t.TempDir()
	addr := pickFreeAddr(t)

	cmd := exec.Command(bin, "-quiet")
	cmd.Env = serverEnv(home, addr)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	waitHealthy(t, addr)

	// Validation rejects short input even without a model key.
	resp, err := http.Post("http://"+addr+"/api/generate", "application/json", strings.NewReader(`{"requirement":"short"}`))
	if err != nil {
		t.Fatalf("post generate: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}

	_ = cmd.Process.Signal(os.Interrupt)
	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()
	select {
	case <-time.After(8 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		t.Fatalf("server did not exit after signal")
	case <-waitDone:
	}

	data, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read logs: %v", err)
	}

	phases := map[string]int{}
	shutdownLine := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["msg"] == "shutdown complete" {
			shutdownLine = lineNo
		}
		phase, _ := entry["phase"].(string)
		if phase == "" {
			continue
		}
		if _, exists := phases[phase]; !exists {
			phases[phase] = lineNo
		}
	}
	required := []string{
		"config_loaded",
		"storage_ready",
		"listener_bound",
	}
	for _, phase := range required {
		if _, ok := phases[phase]; !ok {
			t.Fatalf("missing startup phase %q in logs\noutput=%s", phase, out.String())
		}
	}
	for i := 1; i < len(required); i++ {
		prev := required[i-1]
		cur := required[i]
		if phases[prev] >= phases[cur] {
			t.Fatalf("phase ordering invalid: %s(%d) >= %s(%d)", prev, phases[prev], cur, phases[cur])
		}
	}
	if shutdownLine == 0 {
		t.Fatalf("missing shutdown complete log\noutput=%s", out.String())
	}
}

func TestSmoke_StartupFailureEmitsReasonCode(t *testing.T) {
	bin := buildBinary(t)
	home := t.TempDir()

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("storage:\n  backend: redis\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"TESTFORGE_HOME="+home,
		"TESTFORGE_BIND_ADDR="+pickFreeAddr(t),
		"TESTFORGE_STORAGE_BACKEND=",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err == nil {
		t.Fatalf("expected startup failure for unsupported backend")
	}

	combined := out.String()
	for _, want := range []string{
		`"reason_code":"E_CONFIG_LOAD"`,
		`"msg":"startup failure"`,
		`"component":"server"`,
		`"level":"ERROR"`,
	} {
		if !strings.Contains(combined, want) {
			t.Fatalf("expected %s in output\ncombined=%s", want, combined)
		}
	}
}
