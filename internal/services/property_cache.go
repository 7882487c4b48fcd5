package services

import (
	"context"
	"fmt"
	"time"

	"github.com/proptax/calculator/api/internal/address"
	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/metrics"
	"github.com/proptax/calculator/api/internal/models"
	"github.com/proptax/calculator/api/internal/repository"
)

// History limits.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// PropertyCache is the address-keyed, TTL-bound view over the property
// repository.
type PropertyCache interface {
	// Get returns the fresh entry for address. The second result is false on
	// a miss: cache disabled, no entry, entry older than the TTL, or a failed
	// read. Read failures are logged, never returned.
	Get(ctx context.Context, address string) (*models.CacheEntry, bool)

	// Put writes record and the optional analysis for address. It writes even
	// when reads are disabled.
	Put(ctx context.Context, address string, record models.PropertyRecord, analysis *models.TaxAnalysis) (*models.SaveResult, error)

	// History returns archived snapshots for address, most recent first.
	// limit defaults to DefaultHistoryLimit and is capped at MaxHistoryLimit.
	History(ctx context.Context, address string, limit int) ([]models.CacheEntry, error)

	// TTL returns the freshness window.
	TTL() time.Duration

	// Ping checks the backing store.
	Ping(ctx context.Context) error
}

// CacheOptions configures a PropertyCache.
type CacheOptions struct {
	Enabled bool
	TTL     time.Duration
	Now     func() time.Time
}

type propertyCache struct {
	repo    repository.PropertyRepository
	log     *logger.Logger
	metrics *metrics.Metrics
	enabled bool
	ttl     time.Duration
	now     func() time.Time
}

// NewPropertyCache creates a new instance of PropertyCache.
func NewPropertyCache(repo repository.PropertyRepository, opts CacheOptions, log *logger.Logger, m *metrics.Metrics) PropertyCache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &propertyCache{
		repo:    repo,
		log:     log,
		metrics: m,
		enabled: opts.Enabled,
		ttl:     opts.TTL,
		now:     now,
	}
}

func (c *propertyCache) TTL() time.Duration {
	return c.ttl
}

func (c *propertyCache) Get(ctx context.Context, addr string) (*models.CacheEntry, bool) {
	if !c.enabled {
		c.metrics.CacheLookup(metrics.CacheDisabled)
		return nil, false
	}

	key := address.Key(addr)
	entry, err := c.repo.Get(ctx, key)
	if err != nil {
		c.log.Warn("Cache read failed, treating as miss", map[string]interface{}{
			"address_key": key,
			"error":       err.Error(),
		})
		c.metrics.CacheLookup(metrics.CacheError)
		return nil, false
	}

	if entry == nil {
		c.log.Debug("Cache miss", map[string]interface{}{"address_key": key})
		c.metrics.CacheLookup(metrics.CacheMiss)
		return nil, false
	}

	if entry.IsStale(c.now(), c.ttl) {
		c.log.Info("Cache entry stale", map[string]interface{}{
			"address_key": key,
			"scraped_at":  entry.ScrapedAt,
		})
		c.metrics.CacheLookup(metrics.CacheStale)
		return nil, false
	}

	result := metrics.CacheHit
	if entry.Calculations == nil {
		result = metrics.CachePartial
	}
	c.log.Info("Cache hit", map[string]interface{}{
		"address_key":      key,
		"scrape_count":     entry.ScrapeCount,
		"has_calculations": entry.Calculations != nil,
	})
	c.metrics.CacheLookup(result)

	return entry, true
}

func (c *propertyCache) Put(ctx context.Context, addr string, record models.PropertyRecord, analysis *models.TaxAnalysis) (*models.SaveResult, error) {
	key := address.Key(addr)

	result, err := c.repo.Upsert(ctx, key, models.PropertyWrite{
		Record:   record,
		Analysis: analysis,
		Now:      c.now(),
		TTL:      c.ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save property: %w", err)
	}
	return result, nil
}

func (c *propertyCache) History(ctx context.Context, addr string, limit int) ([]models.CacheEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	key := address.Key(addr)
	history, err := c.repo.History(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}

func (c *propertyCache) Ping(ctx context.Context) error {
	return c.repo.Ping(ctx)
}
