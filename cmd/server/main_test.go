package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/config"
	"github.com/babylon/engine/internal/model"
	"github.com/babylon/engine/internal/store"
	"github.com/babylon/engine/internal/stream"
)

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a := newApp(cfg, st, stream.NewHub())
	srv := httptest.NewServer(a.router(cfg))
	t.Cleanup(srv.Close)
	return srv, st
}

func TestRouter_Health(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestRouter_MountsServices(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())

	resp, err := http.Post(srv.URL+"/api/v1/markets", "application/json",
		strings.NewReader(`{"question":"Will the bridge open by June?"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("create market status = %d", resp.StatusCode)
	}

	for _, path := range []string{"/api/v1/markets", "/api/v1/pools", "/api/v1/agents/a1/logs"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}

	resp, err = http.Get(srv.URL + "/api/v1/reputation/nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown reputation status = %d, want 404", resp.StatusCode)
	}
}

func TestRouter_CronTick(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.CronSecret = "tick-secret"
	srv, st := newTestServer(t, cfg)

	err := st.CreateUser(context.Background(), &model.User{
		ID:                 "agent-1",
		Username:           "agent-1",
		IsAgent:            true,
		VirtualBalance:     decimal.NewFromInt(5),
		AgentPointsBalance: 3,
		AutonomousPosting:  true,
		CreatedAt:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp, err := http.Post(srv.URL+"/api/cron/agent-tick", "", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/cron/agent-tick", nil)
	req.Header.Set("Authorization", "Bearer tick-secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || !body.Success || body.Processed != 1 {
		t.Errorf("tick = %d %+v", resp.StatusCode, body)
	}

	u, _ := st.GetUser(context.Background(), "agent-1")
	if u.AgentPointsBalance != 2 || u.AgentStatus != model.AgentStatusRunning {
		t.Errorf("agent after tick = points %d status %s", u.AgentPointsBalance, u.AgentStatus)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "babylon.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  cron_secret: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CRON_SECRET", "from-env")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.CronSecret != "from-env" {
		t.Errorf("cron secret = %q, want env override", cfg.Agent.CronSecret)
	}

	t.Setenv("LOG_LEVEL", "shouting")
	if _, err := loadConfig(""); err == nil {
		t.Error("expected a validation error")
	}
}
