package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/proptax/calculator/api/internal/config"
	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/metrics"
	"github.com/proptax/calculator/api/internal/repository"
	"github.com/proptax/calculator/api/internal/scraper"
	"github.com/proptax/calculator/api/internal/services"
	"github.com/rs/zerolog"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if os.Getenv("ENV") != "production" {
		_ = godotenv.Load(".env.local", ".env")
	}

	app := newCLIApp(openRuntime)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openRuntime wires the configured cache backend and the Apify client the
// same way the API server does. Only warnings are logged, to stderr, so
// stdout stays JSON.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.NewWithWriter(os.Stderr, zerolog.WarnLevel)
	repo, closeRepo, err := repository.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	fetcher := scraper.NewApifyClient(nil, scraper.Config{
		APIKey:     cfg.Scraper.APIKey,
		ActorID:    cfg.Scraper.ActorID,
		BaseURL:    cfg.Scraper.BaseURL,
		Timeout:    cfg.Scraper.Timeout,
		MaxRetries: cfg.Scraper.MaxRetries,
	}, log)

	cache := services.NewPropertyCache(repo, services.CacheOptions{
		Enabled: cfg.Cache.Enabled,
		TTL:     cfg.Cache.TTL(),
	}, log, m)
	persister := services.NewAsyncPersister(cache, services.PersisterOptions{
		Workers:   1,
		QueueSize: cfg.Persist.QueueSize,
		Timeout:   cfg.Persist.Timeout,
	}, log, m)

	return &runtime{
		service:   services.NewCalculateService(cache, fetcher, persister, log, m),
		persister: persister,
		close:     closeRepo,
	}, nil
}
