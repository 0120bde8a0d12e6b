// Package config loads server settings from a YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/babylon/engine/internal/llm"
)

type Config struct {
	Server      ServerConfig  `yaml:"server"`
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	LogLevel    string        `yaml:"log_level"`
	Market      MarketConfig  `yaml:"market"`
	Pool        PoolConfig    `yaml:"pool"`
	Agent       AgentConfig   `yaml:"agent"`
	LLM         llm.Config    `yaml:"llm"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MarketConfig holds AMM defaults and position limits. A zero limit
// disables that check.
type MarketConfig struct {
	DefaultLiquidity     float64 `yaml:"default_liquidity"`
	MaxPositionPerMarket float64 `yaml:"max_position_per_market"`
	MaxTotalExposure     float64 `yaml:"max_total_exposure"`
}

type PoolConfig struct {
	PerformanceFeeRate float64 `yaml:"performance_fee_rate"`
}

// AgentConfig controls the autonomous agent tick. A zero TickInterval means
// ticks only run when the cron endpoint is called.
type AgentConfig struct {
	CronSecret       string        `yaml:"cron_secret"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	Concurrency      int           `yaml:"concurrency"`
	FreeTickCost     int64         `yaml:"free_tick_cost"`
	ProTickCost      int64         `yaml:"pro_tick_cost"`
	TradeSize        float64       `yaml:"trade_size"`
	MaxTradesPerTick int           `yaml:"max_trades_per_tick"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	cfg := Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.RequestTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.CacheTTL = 30 * time.Second
	cfg.LogLevel = "info"
	cfg.Market.DefaultLiquidity = 100
	cfg.Market.MaxPositionPerMarket = 1000
	cfg.Market.MaxTotalExposure = 5000
	cfg.Pool.PerformanceFeeRate = 0.20
	cfg.Agent.Concurrency = 4
	cfg.Agent.FreeTickCost = 1
	cfg.Agent.ProTickCost = 2
	cfg.Agent.TradeSize = 10
	cfg.Agent.MaxTradesPerTick = 3
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.Timeout = 20 * time.Second
	cfg.LLM.MaxTokens = 280
	cfg.LLM.Temperature = 0.8
	return cfg
}

// LoadFile reads path over the defaults. Keys absent from the file keep
// their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		c.Agent.CronSecret = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("AGENT_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AGENT_TICK_INTERVAL: %w", err)
		}
		c.Agent.TickInterval = d
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.RequestTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server request and shutdown timeouts must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Market.DefaultLiquidity <= 0 {
		errs = append(errs, errors.New("market.default_liquidity must be positive"))
	}
	if c.Market.MaxPositionPerMarket < 0 || c.Market.MaxTotalExposure < 0 {
		errs = append(errs, errors.New("market position limits must not be negative"))
	}
	if c.Pool.PerformanceFeeRate < 0 || c.Pool.PerformanceFeeRate >= 1 {
		errs = append(errs, fmt.Errorf("pool.performance_fee_rate must be in [0, 1), got %v", c.Pool.PerformanceFeeRate))
	}
	if c.Agent.TickInterval < 0 {
		errs = append(errs, errors.New("agent.tick_interval must not be negative"))
	}
	if c.Agent.FreeTickCost < 1 || c.Agent.ProTickCost < 1 {
		errs = append(errs, errors.New("agent tick costs must be at least 1"))
	}
	if c.Agent.TradeSize <= 0 {
		errs = append(errs, errors.New("agent.trade_size must be positive"))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
