package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/agent"
	"github.com/babylon/engine/internal/config"
	"github.com/babylon/engine/internal/llm"
	"github.com/babylon/engine/internal/market"
	"github.com/babylon/engine/internal/metrics"
	"github.com/babylon/engine/internal/model"
	"github.com/babylon/engine/internal/pool"
	"github.com/babylon/engine/internal/reputation"
	"github.com/babylon/engine/internal/risk"
	"github.com/babylon/engine/internal/store"
	"github.com/babylon/engine/internal/stream"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("BABYLON_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("babylon engine failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := stream.NewHub()
	go hub.Run(ctx)

	app := newApp(cfg, st, hub)
	if cfg.Agent.TickInterval > 0 {
		go app.coordinator.Run(ctx, cfg.Agent.TickInterval)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.router(cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("babylon engine listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down babylon engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("babylon engine stopped")
	return nil
}

// openStore picks Postgres (optionally behind Redis) when DATABASE_URL is
// set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pgPool.Close)

	pg := store.NewPostgresStore(pgPool)
	if err := pg.Migrate(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
	}
	return st, closeAll, nil
}

type app struct {
	hub         *stream.Hub
	reputation  *reputation.Service
	markets     *market.Service
	pools       *pool.Service
	coordinator *agent.Coordinator
}

func newApp(cfg config.Config, st store.Store, hub *stream.Hub) *app {
	limiter := risk.NewPositionLimiter(
		decimal.NewFromFloat(cfg.Market.MaxPositionPerMarket),
		decimal.NewFromFloat(cfg.Market.MaxTotalExposure),
	)

	repSvc := reputation.NewService(st)

	marketSvc := market.NewService(st, limiter, hub, repSvc)
	marketSvc.DefaultLiquidity = decimal.NewFromFloat(cfg.Market.DefaultLiquidity)

	poolSvc := pool.NewService(st, hub)
	poolSvc.FeeRate = decimal.NewFromFloat(cfg.Pool.PerformanceFeeRate)

	gen := llm.New(cfg.LLM)
	if gen == nil {
		slog.Warn("OPENAI_API_KEY not set, autonomous social actions are disabled")
	}
	social := agent.SocialConfig{Model: cfg.LLM.Model, ProModel: cfg.LLM.ProModel}
	coordinator := agent.NewCoordinator(st, agent.Handlers{
		Trading:    agent.NewTradingHandler(marketSvc, st, decimal.NewFromFloat(cfg.Agent.TradeSize), cfg.Agent.MaxTradesPerTick),
		Posting:    agent.NewSocialHandler(model.PostKindPost, gen, st, social),
		Commenting: agent.NewSocialHandler(model.PostKindComment, gen, st, social),
		DMs:        agent.NewSocialHandler(model.PostKindDM, gen, st, social),
		GroupChats: agent.NewSocialHandler(model.PostKindGroupChat, gen, st, social),
	}, agent.Config{
		Concurrency:  cfg.Agent.Concurrency,
		FreeTickCost: cfg.Agent.FreeTickCost,
		ProTickCost:  cfg.Agent.ProTickCost,
		Logger:       slog.Default().With("component", "agent"),
	})

	return &app{
		hub:         hub,
		reputation:  repSvc,
		markets:     marketSvc,
		pools:       poolSvc,
		coordinator: coordinator,
	}
}

func (a *app) router(cfg config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"babylon-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	tick := a.coordinator.CronHandler(cfg.Agent.CronSecret)
	r.Get(agent.CronPath, tick)
	r.Post(agent.CronPath, tick)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", a.hub.HandleWS)
		a.markets.Routes(r)
		a.pools.Routes(r)
		a.reputation.Routes(r)
		a.coordinator.Routes(r)
	})
	return r
}
