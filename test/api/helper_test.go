//go:build integration

package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"
)

// APIResponse mirrors the envelope every endpoint answers with.
type APIResponse struct {
	Code    int             `json:"-"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (r APIResponse) IsSuccess() bool {
	return r.Status == "success"
}

func (r APIResponse) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("decode response data: %v (%s)", err, r.Data)
	}
}

var client = &http.Client{Timeout: 30 * time.Second}

func baseURL() string {
	if u := os.Getenv("API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// requireServer skips the suite when nothing listens on API_URL.
func requireServer(t *testing.T) {
	t.Helper()
	resp, err := client.Get(baseURL() + "/api/v1/health/live")
	if err != nil {
		t.Skipf("API server not reachable at %s: %v", baseURL(), err)
	}
	resp.Body.Close()
}

func makeRequest(t *testing.T, method, path string, body interface{}, token string) APIResponse {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, baseURL()+path, reqBody)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return send(t, req, token)
}

func uploadCSV(t *testing.T, token, filename, content string) APIResponse {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, baseURL()+"/api/v1/uploads", &buf)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return send(t, req, token)
}

func send(t *testing.T, req *http.Request, token string) APIResponse {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	out := APIResponse{Code: resp.StatusCode}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: non-JSON response %d: %s", req.Method, req.URL.Path, resp.StatusCode, raw)
		}
	}
	return out
}

func login(t *testing.T) string {
	t.Helper()
	resp := makeRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    env("ADMIN_EMAIL", "admin@clinic.local"),
		"password": env("ADMIN_PASSWORD", "changeme123"),
	}, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", resp.Code, resp.Message)
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	resp.Decode(t, &token)
	return token.AccessToken
}

// uniqueEmail keeps reruns against the same database from colliding on idempotency keys.
func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s+%d@example.com", prefix, time.Now().UnixNano())
}
