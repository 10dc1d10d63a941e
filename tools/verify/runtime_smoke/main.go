package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type healthResponse struct {
	Healthy      bool `json:"healthy"`
	AIConfigured bool `json:"ai_configured"`
	Storage      struct {
		Durable   string `json:"durable"`
		DurableOK bool   `json:"durable_ok"`
	} `json:"storage"`
}

type generation struct {
	ID              string            `json:"id"`
	Requirement     string            `json:"requirement"`
	ManualTestCases []json.RawMessage `json:"manualTestCases"`
	CypressScript   string            `json:"cypressScript"`
	CreatedAt       string            `json:"createdAt"`
}

func main() {
	base := flag.String("url", "http://127.0.0.1:5000", "server base URL")
	timeout := flag.Duration("timeout", 90*time.Second, "overall timeout")
	generate := flag.Bool("generate", false, "run a real generation round trip (needs a model key on the server)")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	root := strings.TrimRight(*base, "/")
	reqID := uuid.NewString()

	var health healthResponse
	status, raw, err := call(ctx, http.MethodGet, root+"/healthz", reqID, nil)
	if err != nil || status != http.StatusOK {
		fatal("healthz", fmt.Errorf("status=%d err=%v body=%s", status, err, raw))
	}
	if err := json.Unmarshal(raw, &health); err != nil {
		fatal("decode healthz", err)
	}
	fmt.Printf("healthy=%t ai_configured=%t durable=%s durable_ok=%t\n",
		health.Healthy, health.AIConfigured, health.Storage.Durable, health.Storage.DurableOK)

	status, raw, err = call(ctx, http.MethodPost, root+"/api/generate", reqID, map[string]string{"requirement": "short"})
	if err != nil || status != http.StatusBadRequest {
		fatal("validation check", fmt.Errorf("expected 400, status=%d err=%v body=%s", status, err, raw))
	}
	fmt.Println("validation_rejects_short=true")

	status, raw, err = call(ctx, http.MethodGet, root+"/api/history", reqID, nil)
	if err != nil || status != http.StatusOK {
		fatal("history", fmt.Errorf("status=%d err=%v", status, err))
	}
	var history []generation
	if err := json.Unmarshal(raw, &history); err != nil {
		fatal("decode history", err)
	}
	fmt.Printf("history_items=%d\n", len(history))

	if !*generate {
		fmt.Println("VERDICT PASS")
		return
	}

	status, raw, err = call(ctx, http.MethodPost, root+"/api/generate", reqID,
		map[string]string{"requirement": "A user can log in with a valid email and password and sees an error for invalid credentials"})
	if err != nil || status != http.StatusOK {
		fatal("generate", fmt.Errorf("status=%d err=%v body=%s", status, err, raw))
	}
	var created generation
	if err := json.Unmarshal(raw, &created); err != nil {
		fatal("decode generate", err)
	}
	fmt.Printf("generated_id=%s test_cases=%d script_bytes=%d\n", created.ID, len(created.ManualTestCases), len(created.CypressScript))
	if len(created.ManualTestCases) == 0 || created.CypressScript == "" {
		fatal("generate", fmt.Errorf("empty result"))
	}

	itemURL := root + "/api/history/" + created.ID
	if status, _, err = call(ctx, http.MethodGet, itemURL, reqID, nil); err != nil || status != http.StatusOK {
		fatal("get generated", fmt.Errorf("status=%d err=%v", status, err))
	}
	if status, _, err = call(ctx, http.MethodDelete, itemURL, reqID, nil); err != nil || status != http.StatusOK {
		fatal("delete generated", fmt.Errorf("status=%d err=%v", status, err))
	}
	if status, _, err = call(ctx, http.MethodGet, itemURL, reqID, nil); err != nil || status != http.StatusNotFound {
		fatal("get deleted", fmt.Errorf("expected 404, status=%d err=%v", status, err))
	}
	fmt.Println("round_trip=true")
	fmt.Println("VERDICT PASS")
}

func call(ctx context.Context, method, url, reqID string, body any) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

func fatal(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", step, err)
	fmt.Println("VERDICT FAIL")
	os.Exit(1)
}
