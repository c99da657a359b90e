package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// Smoke-tests a running instance end to end: login, create an account, run it
// through a lifecycle round-trip and confirm the trail recorded everything.
func main() {
	base := os.Getenv("SMOKE_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	email := os.Getenv("SMOKE_EMAIL")
	password := os.Getenv("SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("SMOKE_EMAIL and SMOKE_PASSWORD are required (an admin-rank account)")
	}

	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	var login struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	c.call(http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, http.StatusOK, &login)
	c.token = login.Token
	log.Printf("logged in as %s", login.Role)

	probeEmail := fmt.Sprintf("smoke-%d@amexing.mx", rand.Int63())
	var created struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	c.call(http.MethodPost, "/v1/accounts", map[string]any{
		"email":    probeEmail,
		"name":     "Smoke Probe",
		"password": "smoke-probe-pass",
		"role":     "driver",
	}, http.StatusCreated, &created)
	if !created.Active {
		log.Fatal("new account should start active")
	}

	var toggled struct {
		Active bool `json:"active"`
		Exists bool `json:"exists"`
	}
	c.call(http.MethodPost, "/v1/accounts/"+created.ID+"/toggle", nil, http.StatusOK, &toggled)
	if toggled.Active || !toggled.Exists {
		log.Fatalf("unexpected state after toggle: active=%v exists=%v", toggled.Active, toggled.Exists)
	}
	c.call(http.MethodPost, "/v1/accounts/"+created.ID+"/reactivate", nil, http.StatusOK, &toggled)
	if !toggled.Active {
		log.Fatal("account should be active after reactivate")
	}

	var listed struct {
		Total int `json:"total"`
	}
	c.call(http.MethodGet, "/v1/accounts?role=driver", nil, http.StatusOK, &listed)
	if listed.Total < 1 {
		log.Fatalf("created driver missing from listing, total=%d", listed.Total)
	}

	// The trail needs a moment; appends are asynchronous.
	time.Sleep(500 * time.Millisecond)
	var trail struct {
		Count int `json:"count"`
	}
	c.call(http.MethodGet, "/v1/audit?entityId="+created.ID, nil, http.StatusOK, &trail)
	if trail.Count < 3 {
		log.Fatalf("expected create+toggle+reactivate in the trail, got %d events", trail.Count)
	}

	fmt.Printf("smoke test passed: account=%s events=%d\n", created.ID, trail.Count)
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) call(method, path string, body any, wantStatus int, out any) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
