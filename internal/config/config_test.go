package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/babylon/engine/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Agent.ProTickCost != 2 || cfg.Agent.FreeTickCost != 1 {
		t.Errorf("tick costs = %d/%d", cfg.Agent.FreeTickCost, cfg.Agent.ProTickCost)
	}
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
log_level: debug
pool:
  performance_fee_rate: 0.1
agent:
  tick_interval: 1m
  trade_size: 25
llm:
  model: small
  pro_model: large
  timeout: 5s
`)
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Pool.PerformanceFeeRate != 0.1 {
		t.Errorf("server/pool = %+v / %+v", cfg.Server, cfg.Pool)
	}
	if cfg.Agent.TickInterval != time.Minute || cfg.Agent.TradeSize != 25 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.LLM.ProModel != "large" || cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.ReadTimeout != 10*time.Second || cfg.Agent.ProTickCost != 2 {
		t.Errorf("defaults lost: %+v %+v", cfg.Server, cfg.Agent)
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelDebug {
		t.Errorf("level = %v", lvl)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
	if _, err := config.LoadFile(writeFile(t, "server: [")); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_URL", "postgres://localhost/babylon")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_TICK_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Server.Addr != ":7000" || cfg.DatabaseURL == "" || cfg.Agent.CronSecret != "s3cret" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LLM.APIKey != "sk-test" || cfg.Agent.TickInterval != 30*time.Second || cfg.LogLevel != "warn" {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("AGENT_TICK_INTERVAL", "soon")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("expected an error for a bad interval")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   string
	}{
		{"fee rate", func(c *config.Config) { c.Pool.PerformanceFeeRate = 1 }, "performance_fee_rate"},
		{"log level", func(c *config.Config) { c.LogLevel = "loud" }, "log_level"},
		{"liquidity", func(c *config.Config) { c.Market.DefaultLiquidity = 0 }, "default_liquidity"},
		{"tick cost", func(c *config.Config) { c.Agent.ProTickCost = 0 }, "tick costs"},
		{"trade size", func(c *config.Config) { c.Agent.TradeSize = -1 }, "trade_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want mention of %q", err, tt.want)
			}
		})
	}
}
