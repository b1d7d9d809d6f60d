package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ripplechat/ripple/internal/ai"
	"github.com/ripplechat/ripple/internal/auth"
	"github.com/ripplechat/ripple/internal/config"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/kv"
	"github.com/ripplechat/ripple/internal/llm"
	"github.com/ripplechat/ripple/internal/notify"
	"github.com/ripplechat/ripple/internal/server"
	"github.com/ripplechat/ripple/internal/store"
	"github.com/ripplechat/ripple/internal/upload"
	"github.com/ripplechat/ripple/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may be set by the deployment.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := store.New(pool)
	slog.Info("database connected")

	rdb, err := kv.Connect(ctx, cfg.KVURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	kvs := kv.New(rdb)
	slog.Info("kv store connected")

	authSvc := auth.New(st, kvs, cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	registry := hub.NewRegistry()
	notifier := notify.New(st, registry)

	// upstream stays a nil interface when unconfigured; downstream
	// consumers treat nil as "AI disabled".
	var upstream llm.Streamer
	if cfg.IsAIConfigured() {
		upstream = llm.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
		slog.Info("ai upstream configured", "model", cfg.AIModel)
	} else {
		slog.Warn("ai upstream not configured, generation disabled")
	}

	uploads, err := upload.New(ctx, cfg.UploadBucket)
	if err != nil {
		return err
	}
	if uploads != nil {
		defer uploads.Close()
		slog.Info("uploads configured", "bucket", cfg.UploadBucket)
	}

	coordinator := ai.New(st, registry, upstream, notifier)
	calls := ws.NewCallManager(st, registry, notifier)
	wsHandler := ws.NewHandler(cfg, authSvc, st, kvs, registry, coordinator, calls, notifier)

	srv := server.New(cfg, authSvc, st, kvs, registry, notifier, upstream, uploads, wsHandler,
		func(ctx context.Context) error { return pool.Ping(ctx) })

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	return g.Wait()
}
