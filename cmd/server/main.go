package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/omnisocial/omnisocial/internal/adapters"
	"github.com/omnisocial/omnisocial/internal/api"
	"github.com/omnisocial/omnisocial/internal/auth"
	"github.com/omnisocial/omnisocial/internal/config"
	"github.com/omnisocial/omnisocial/internal/hub"
	"github.com/omnisocial/omnisocial/internal/logging"
	"github.com/omnisocial/omnisocial/internal/metrics"
	"github.com/omnisocial/omnisocial/internal/platform"
	"github.com/omnisocial/omnisocial/internal/server"
	"github.com/omnisocial/omnisocial/internal/store"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting omnisocial")

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional Postgres connection-record store
	var connectionStore hub.ConnectionStore
	if cfg.Database.URL != "" {
		logger.Info("connecting to database")
		db, err := store.Connect(ctx, store.DefaultConnectConfig(cfg.Database.URL))
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pg := store.NewPostgresConnectionStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure database schema", "error", err)
			os.Exit(1)
		}
		connectionStore = pg
		logger.Info("database connected")
	} else {
		logger.Info("no DATABASE_URL set, connections held in memory only")
	}

	// Event sink: buffered, drained to the log
	sink := hub.NewBufferedSink(cfg.Hub.EventBufferSize, logger)
	go func() {
		for ev := range sink.Events() {
			logger.Info("event",
				"event_id", ev.ID,
				"type", string(ev.Type),
				"platform", ev.Platform.String(),
				"user_id", ev.UserID)
		}
	}()

	h := hub.New(logger, collector, sink, connectionStore, hub.Config{
		HealthInterval: cfg.Hub.HealthInterval,
	})

	for p, pc := range cfg.Platforms {
		adapter, err := adapters.New(p, platform.Config{
			BaseURL:  pc.BaseURL,
			TokenURL: pc.TokenURL,
			RateLimit: platform.RateLimitConfig{
				Requests: pc.RateLimit,
				Window:   pc.RateWindow,
			},
			Retry: platform.RetryConfig{
				MaxRetries: pc.MaxRetries,
				Delay:      pc.RetryDelay,
			},
		}, logger, collector)
		if err != nil {
			logger.Error("failed to build adapter", "platform", p.String(), "error", err)
			os.Exit(1)
		}
		h.Register(adapter)
	}

	go h.Run(ctx)

	authConfig := auth.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		AdminPassword: cfg.Auth.AdminPassword,
		TokenDuration: cfg.Auth.TokenDuration,
	}
	logger.Info("auth configured", "jwt_secret_set", authConfig.JWTSecret != "change-this-secret")

	mux := http.NewServeMux()
	api.SetupRoutes(mux, h, authConfig, collector.Handler(), logger)

	srv := server.New(cfg.Server, logger, collector.InstrumentHandler(mux))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("omnisocial started successfully")
	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	<-ctx.Done()
	logger.Info("shutting down")

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
