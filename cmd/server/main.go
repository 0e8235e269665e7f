package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	_ "github.com/mattn/go-sqlite3"

	"metricgate/internal/api"
	"metricgate/internal/cache"
	"metricgate/internal/catalog"
	"metricgate/internal/config"
	internaldb "metricgate/internal/db"
	"metricgate/internal/engine"
	"metricgate/internal/gateway"
	"metricgate/internal/guardrails"
	"metricgate/internal/history"
	"metricgate/internal/middleware"
	"metricgate/internal/planner"
	"metricgate/internal/ratelimit"
)

func main() {
	// Load .env file (if present)
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Warn("could not load .env", "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	runner := engine.NewRunner(engine.Config{
		Command:      cfg.EngineCommand,
		ProjectDir:   cfg.EngineProjectDir,
		QueryTimeout: cfg.QueryTimeout,
	}, logger)

	// Catalog: prefer the YAML file when configured, otherwise discover
	// metrics and dimensions from the engine itself.
	var cat *catalog.Catalog
	if cfg.CatalogFile != "" {
		cat, err = catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			logger.Error("catalog file load failed", "path", cfg.CatalogFile, "error", err)
			os.Exit(1)
		}
		logger.Info("catalog loaded from file", "path", cfg.CatalogFile, "entries", cat.Size())
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		cat, err = catalog.Load(ctx, runner)
		cancel()
		if err != nil {
			logger.Error("catalog discovery failed", "error", err)
			os.Exit(1)
		}
		logger.Info("catalog discovered from engine", "entries", cat.Size())
	}

	// Open SQLite metastore with hardened connection settings.
	// writeDB: single-connection pool for serialized writes (WAL + txlock=immediate).
	// readDB:  4-connection pool for concurrent reads (WAL, no txlock).
	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.HistoryDBPath, 4)
	if err != nil {
		logger.Error("failed to open metastore", "error", err)
		os.Exit(1)
	}
	defer writeDB.Close()
	defer readDB.Close()

	if err := internaldb.RunMigrations(writeDB); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	hist := history.NewRepo(writeDB, readDB)

	plannerClient := planner.NewClient(planner.Config{
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		Timeout: cfg.PlanTimeout,
	}, logger)

	resultCache := cache.New(cfg.CacheSize, cfg.CacheTTL)
	limiter := ratelimit.New(ratelimit.Config{
		PerMinute: cfg.RateLimitPerMinute,
		PerHour:   cfg.RateLimitPerHour,
	})

	svc := gateway.New(cat, plannerClient, runner, resultCache, limiter, hist,
		guardrails.Limits{
			Default: cfg.RowLimitDefault,
			Min:     1,
			Max:     cfg.RowLimitMax,
		}, logger)

	// Background maintenance: drop expired cache entries and idle
	// rate-limit buckets.
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", func() {
		if n := resultCache.Sweep(); n > 0 {
			logger.Debug("cache sweep", "removed", n)
		}
	}); err != nil {
		logger.Error("cron setup failed", "error", err)
		os.Exit(1)
	}
	if _, err := c.AddFunc("@every 10m", func() {
		if n := limiter.Cleanup(2 * time.Hour); n > 0 {
			logger.Debug("rate limiter cleanup", "removed", n)
		}
	}); err != nil {
		logger.Error("cron setup failed", "error", err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	handler := api.NewHandler(svc, hist, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		Auth: middleware.AuthConfig{
			StaticToken: cfg.Auth.StaticToken,
			JWTSecret:   cfg.Auth.JWTSecret,
		},
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "auth", cfg.Auth.Enabled())
	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
