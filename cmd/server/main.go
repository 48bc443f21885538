package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/balcao-pos/api/internal/cashledger"
	"github.com/balcao-pos/api/internal/config"
	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/livecache"
	"github.com/balcao-pos/api/internal/router"
	"github.com/balcao-pos/api/internal/settlement"
	"github.com/balcao-pos/api/internal/ws"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		slog.Error("ping database", "error", err)
		os.Exit(1)
	}
	queries := database.New(pool)

	// Display cache is optional; without Redis everything reads straight
	// from the database.
	var cache livecache.Cache = livecache.Noop{}
	if cfg.RedisAddr != "" {
		rc := livecache.NewRedisCache(cfg.RedisAddr, "", cfg.RedisDB)
		if err := rc.Ping(ctx); err != nil {
			slog.Warn("redis unreachable, display cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			cache = rc
			defer rc.Close()
		}
	}

	hub := ws.NewHub()
	go hub.Run()

	ledger := cashledger.NewLedger(queries)
	orchestrator := settlement.NewOrchestrator(pool, queries,
		func(db database.DBTX) settlement.Store {
			return database.New(db)
		}, ledger)

	reconciler := settlement.NewReconciler(orchestrator)
	go reconciler.Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router.New(cfg, queries, pool, hub, cache, orchestrator),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("server listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func setupLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
