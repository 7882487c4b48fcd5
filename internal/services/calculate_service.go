package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/proptax/calculator/api/internal/address"
	"github.com/proptax/calculator/api/internal/calculator"
	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/metrics"
	"github.com/proptax/calculator/api/internal/models"
	"github.com/proptax/calculator/api/internal/scraper"
)

// Service-level errors
var (
	ErrPropertyNotFound = errors.New("property not found")
)

// CalculateResult is the outcome of a successful calculation.
type CalculateResult struct {
	Address  string
	Property models.PropertyRecord
	Analysis models.TaxAnalysis
	CacheHit bool
	Warnings []string
}

// ScrapeResult is the outcome of a successful scrape-only request.
type ScrapeResult struct {
	Address     string
	Property    models.PropertyRecord
	CacheHit    bool
	ScrapedAt   time.Time
	ScrapeCount int
	Warnings    []string
}

// CalculateService defines the property tax savings operations.
type CalculateService interface {
	// Calculate validates address, serves a cached analysis when one is fresh,
	// and otherwise computes one from cached or freshly fetched property data.
	// New analyses are persisted in the background after Calculate returns.
	// Returns *address.ValidationError, a calculator precondition error,
	// ErrPropertyNotFound, or a wrapped scraper error.
	Calculate(ctx context.Context, address string) (*CalculateResult, error)

	// Scrape returns property data without computing an analysis. Fresh data
	// is saved synchronously; a failed save is logged and does not fail the
	// request.
	Scrape(ctx context.Context, address string) (*ScrapeResult, error)

	// History returns archived snapshots for address, most recent first.
	History(ctx context.Context, address string, limit int) ([]models.CacheEntry, error)
}

// calculateService is the concrete implementation of CalculateService.
type calculateService struct {
	cache     PropertyCache
	fetcher   scraper.Fetcher
	persister Persister
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewCalculateService creates a new instance of CalculateService.
func NewCalculateService(cache PropertyCache, fetcher scraper.Fetcher, persister Persister, log *logger.Logger, m *metrics.Metrics) CalculateService {
	return &calculateService{
		cache:     cache,
		fetcher:   fetcher,
		persister: persister,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

func (s *calculateService) Calculate(ctx context.Context, raw string) (*CalculateResult, error) {
	addr, err := address.Validate(raw)
	if err != nil {
		return nil, err
	}
	log := requestLogger(ctx, s.log)

	entry, hit := s.cache.Get(ctx, addr)
	if hit && entry.Calculations != nil {
		log.Info("Serving cached analysis", map[string]interface{}{
			"address":      addr,
			"scrape_count": entry.ScrapeCount,
		})
		return &CalculateResult{
			Address:  addr,
			Property: entry.Record(),
			Analysis: *entry.Calculations,
			CacheHit: true,
			Warnings: entry.Warnings,
		}, nil
	}

	var record models.PropertyRecord
	if hit {
		// Cached data without an analysis.
		record = entry.Record()
	} else {
		fetched, err := s.fetch(ctx, addr)
		if err != nil {
			return nil, err
		}
		record = *fetched
	}

	analysis, err := calculator.Calculate(record, s.now())
	if err != nil {
		log.Warn("Calculation precondition failed", map[string]interface{}{
			"address": addr,
			"reason":  err.Error(),
		})
		return nil, err
	}

	log.Info("Tax analysis calculated", map[string]interface{}{
		"address":           addr,
		"cache_hit":         hit,
		"tax_rate_percent":  analysis.TaxRatePercent,
		"potential_savings": analysis.PotentialSavings,
	})

	s.persister.Enqueue(PersistJob{
		Address:   addr,
		Record:    record,
		Analysis:  &analysis,
		RequestID: RequestIDFrom(ctx),
	})

	return &CalculateResult{
		Address:  addr,
		Property: record,
		Analysis: analysis,
		CacheHit: hit,
		Warnings: record.Warnings,
	}, nil
}

func (s *calculateService) Scrape(ctx context.Context, raw string) (*ScrapeResult, error) {
	addr, err := address.Validate(raw)
	if err != nil {
		return nil, err
	}
	log := requestLogger(ctx, s.log)

	if entry, hit := s.cache.Get(ctx, addr); hit {
		return &ScrapeResult{
			Address:     addr,
			Property:    entry.Record(),
			CacheHit:    true,
			ScrapedAt:   entry.ScrapedAt,
			ScrapeCount: entry.ScrapeCount,
			Warnings:    entry.Warnings,
		}, nil
	}

	record, err := s.fetch(ctx, addr)
	if err != nil {
		return nil, err
	}

	result := &ScrapeResult{
		Address:   addr,
		Property:  *record,
		ScrapedAt: s.now(),
		Warnings:  record.Warnings,
	}

	saved, err := s.cache.Put(ctx, addr, *record, nil)
	if err != nil {
		log.Error("Failed to save scraped property", err, map[string]interface{}{
			"address": addr,
		})
		return result, nil
	}
	result.ScrapeCount = saved.ScrapeCount

	return result, nil
}

func (s *calculateService) History(ctx context.Context, raw string, limit int) ([]models.CacheEntry, error) {
	addr, err := address.Validate(raw)
	if err != nil {
		return nil, err
	}
	return s.cache.History(ctx, addr, limit)
}

// fetch calls the provider and maps an empty result to ErrPropertyNotFound.
func (s *calculateService) fetch(ctx context.Context, addr string) (*models.PropertyRecord, error) {
	log := requestLogger(ctx, s.log)
	start := time.Now()

	record, err := s.fetcher.Fetch(ctx, addr)
	elapsed := time.Since(start)

	switch {
	case err == nil && record != nil:
		s.metrics.ObserveFetch("ok", elapsed)
		return record, nil
	case err == nil, errors.Is(err, scraper.ErrNotFound):
		s.metrics.ObserveFetch("not_found", elapsed)
		log.Info("Property not found", map[string]interface{}{"address": addr})
		return nil, ErrPropertyNotFound
	case errors.Is(err, scraper.ErrTimeout):
		s.metrics.ObserveFetch("timeout", elapsed)
	default:
		s.metrics.ObserveFetch("error", elapsed)
	}

	log.Error("Property fetch failed", err, map[string]interface{}{
		"address":    addr,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return nil, fmt.Errorf("failed to fetch property data: %w", err)
}

type requestIDKey struct{}

// WithRequestID attaches the request correlation ID to ctx for log fields
// and background jobs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFrom returns the ID stored by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestLogger(ctx context.Context, log *logger.Logger) *logger.Logger {
	if id := RequestIDFrom(ctx); id != "" {
		return log.WithRequestID(id)
	}
	return log
}
