package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JAM-Corp/CryptoFantasy/internal/config"
	"github.com/JAM-Corp/CryptoFantasy/internal/feed"
	"github.com/JAM-Corp/CryptoFantasy/internal/league"
	"github.com/JAM-Corp/CryptoFantasy/internal/ledger"
	"github.com/JAM-Corp/CryptoFantasy/internal/metrics"
	"github.com/JAM-Corp/CryptoFantasy/internal/registry"
	"github.com/JAM-Corp/CryptoFantasy/internal/standings"
	"github.com/JAM-Corp/CryptoFantasy/internal/store"
	"github.com/JAM-Corp/CryptoFantasy/internal/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	reg, err := registry.New(cfg.Game.Assets)
	if err != nil {
		slog.Error("invalid asset whitelist", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := web.NewWSHub()
	go wsHub.Run()

	// --- Core services ---
	engine := ledger.NewEngine(st, reg, logger)
	valuator := ledger.NewValuator(st)
	leagueSvc := league.NewService(st, reg, logger)
	standingsSvc := standings.NewService(st, valuator, logger)
	srv := web.NewServer(st, engine, valuator, leagueSvc, standingsSvc, wsHub, logger)

	// --- Price poller ---
	pollCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	if cfg.Feed.Enabled {
		client := feed.NewCoinGeckoClient(cfg.Feed.BaseURL, cfg.Feed.RateLimit, cfg.Feed.RateLimitBurst, logger)
		poller := feed.NewPoller(client, st, reg.Assets(),
			time.Duration(cfg.Feed.IntervalSeconds)*time.Second, wsHub, logger)
		go poller.Run(pollCtx)
		slog.Info("price poller started", "assets", len(reg.Assets()))
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"cryptofantasy"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	srv.Routes(r)

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("cryptofantasy listening", "port", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopPoller()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down cryptofantasy...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("cryptofantasy stopped")
}
