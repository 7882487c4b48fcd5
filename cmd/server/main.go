package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/proptax/calculator/api/internal/config"
	"github.com/proptax/calculator/api/internal/handlers"
	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/metrics"
	"github.com/proptax/calculator/api/internal/repository"
	"github.com/proptax/calculator/api/internal/scraper"
	"github.com/proptax/calculator/api/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Local env files are optional; production reads the real environment only
	if os.Getenv("ENV") != "production" {
		_ = godotenv.Load(".env.local", ".env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Server.Env, cfg.Server.LogLevel)
	log.Info("Starting property tax calculator API", map[string]interface{}{
		"version":       handlers.APIVersion,
		"environment":   cfg.Server.Env,
		"port":          cfg.Server.Port,
		"cache_backend": cfg.Cache.Backend,
		"cache_enabled": cfg.Cache.Enabled,
		"cache_ttl":     cfg.Cache.TTL().String(),
	})

	ctx := context.Background()
	repo, closeRepo, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open property cache", err, map[string]interface{}{
			"backend": cfg.Cache.Backend,
		})
	}
	defer closeRepo()

	m := metrics.New()

	if cfg.Scraper.APIKey == "" {
		log.Warn("APIFY_API_KEY is not set; cache misses will fail with SERVICE_UNAVAILABLE", nil)
	}
	fetcher := scraper.NewApifyClient(nil, scraper.Config{
		APIKey:     cfg.Scraper.APIKey,
		ActorID:    cfg.Scraper.ActorID,
		BaseURL:    cfg.Scraper.BaseURL,
		Timeout:    cfg.Scraper.Timeout,
		MaxRetries: cfg.Scraper.MaxRetries,
	}, log)

	// Initialize cache, persistence and service layers
	cache := services.NewPropertyCache(repo, services.CacheOptions{
		Enabled: cfg.Cache.Enabled,
		TTL:     cfg.Cache.TTL(),
	}, log, m)
	persister := services.NewAsyncPersister(cache, services.PersisterOptions{
		Workers:   cfg.Persist.Workers,
		QueueSize: cfg.Persist.QueueSize,
		Timeout:   cfg.Persist.Timeout,
	}, log, m)
	calculateService := services.NewCalculateService(cache, fetcher, persister, log, m)

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(routerDeps{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		calculate: handlers.NewCalculateHandler(calculateService, cfg.Cache.TTL()),
		health:    handlers.NewHealthHandler(cache, cfg.Cache.Backend, cfg.Server.Env),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	// In-flight requests are done; flush their queued cache writes
	if err := persister.Close(shutdownCtx); err != nil {
		log.Error("Pending cache writes were not flushed", err, nil)
	}

	log.Info("Server exited", nil)
}
