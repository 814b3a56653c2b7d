package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"pecademic/api/internal/app"
	"pecademic/api/internal/auth"
	"pecademic/api/internal/config"
	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/logging"
	"pecademic/api/internal/search"
	"pecademic/api/internal/session"
	"pecademic/api/internal/store"
	"pecademic/api/internal/submission"
)

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.Environment)
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	upstream, err := contentstore.ParseRepo(cfg.UpstreamRepo)
	if err != nil {
		logger.Fatal("invalid UPSTREAM_REPO", zap.Error(err))
	}
	backend, err := app.NewBackend(cfg)
	if err != nil {
		logger.Fatal("content store setup failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checks := map[string]app.Check{}

	var history app.History
	var journal submission.Journal
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		pg := store.NewJournal(db)
		history, journal = pg, pg
		checks["database"] = db.PingContext
	} else {
		logger.Info("DATABASE_URL not set, keeping submission history in memory")
		mem := store.NewMemoryJournal()
		history, journal = mem, mem
	}

	var credentials session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		credentials = redisStore
		checks["redis"] = redisStore.Ping
	} else {
		logger.Info("REDIS_URL not set, keeping credentials in memory")
		credentials = session.NewMemoryStore()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("search"))
	}
	searchService := search.NewService(meiliClient, logger.Named("search"))
	defer searchService.Close()

	orchestrator, err := app.NewOrchestrator(cfg, backend, logger.Named("submission"),
		submission.WithJournal(journal),
		submission.WithMetrics(submission.NewMetrics(registry)),
	)
	if err != nil {
		logger.Fatal("orchestrator setup failed", zap.Error(err))
	}

	service, err := app.NewService(app.ServiceConfig{
		Upstream:     upstream,
		CatalogPath:  cfg.CatalogPath,
		CatalogCache: cfg.CatalogCache,
		ReadToken:    cfg.GitHubReadToken,
		NotifyTo:     cfg.NotifyTo,
	}, app.Deps{
		Client:       backend,
		Sessions:     session.NewManager(credentials, backend, cfg.SessionTTL, logger.Named("session")),
		Orchestrator: orchestrator,
		History:      history,
		Search:       searchService,
		Notifier:     app.NewMailer(cfg),
		Checks:       checks,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("service setup failed", zap.Error(err))
	}
	defer service.Close()

	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := service.Catalog(warmCtx); err != nil {
			logger.Warn("catalog warm-up failed (will retry on first request)", zap.Error(err))
		}
	}()

	exchanger := auth.NewExchanger(auth.ExchangeConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURI:  cfg.GitHubRedirectURI,
		WebURL:       cfg.GitHubWebURL,
	})
	httpServer := app.NewHTTPServer(service, exchanger, app.HTTPConfig{
		AppURL:              cfg.AppURL,
		CORSOrigin:          cfg.CORSOrigin,
		StateSecret:         []byte(cfg.StateSecret),
		MaxUploadBytes:      cfg.MaxUploadBytes,
		SubmitRatePerMinute: cfg.SubmitRatePerMinute,
		Gatherer:            registry,
	}, logger.Named("http"))
	defer httpServer.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// A submission runs up to ten remote steps, each bounded by STEP_TIMEOUT.
		WriteTimeout: 10*cfg.StepTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("pecademic API listening",
			zap.String("addr", cfg.Addr),
			zap.String("content_store", cfg.ContentStore),
			zap.String("upstream", upstream.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
