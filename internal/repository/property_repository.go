package repository

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/proptax/calculator/api/internal/models"
)

// VersionsCollection is the sub-collection holding superseded snapshots.
const VersionsCollection = "scrapes"

// PropertyRepository defines the interface for cached property data access.
type PropertyRepository interface {
	// Get returns the cache entry stored under key.
	// Returns nil, nil if no entry exists (not an error).
	Get(ctx context.Context, key string) (*models.CacheEntry, error)

	// Upsert writes the entry for key. On update the previous snapshot is
	// archived verbatim into the version history first, scrapeCount is
	// incremented and createdAt is carried over. Archive and overwrite happen
	// in one transaction.
	Upsert(ctx context.Context, key string, write models.PropertyWrite) (*models.SaveResult, error)

	// History returns archived snapshots for key, most recently scraped first.
	// Returns an empty slice if there are none.
	History(ctx context.Context, key string, limit int) ([]models.CacheEntry, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// buildEntry produces the document written for key given the previous one.
func buildEntry(key string, prev *models.CacheEntry, write models.PropertyWrite) models.CacheEntry {
	record := write.Record

	entry := models.CacheEntry{
		Key:             key,
		Address:         record.Address,
		PurchaseHistory: record.PurchaseHistory,
		TaxHistory:      record.TaxHistory,
		MarketEstimate:  record.MarketEstimate,
		Warnings:        record.Warnings,
		Calculations:    write.Analysis,
		ScrapedAt:       write.Now,
		UpdatedAt:       write.Now,
		CreatedAt:       write.Now,
		ExpiresAt:       write.Now.Add(write.TTL),
		ScrapeCount:     1,
	}
	if entry.PurchaseHistory == nil {
		entry.PurchaseHistory = []models.PurchaseEvent{}
	}
	if entry.TaxHistory == nil {
		entry.TaxHistory = []models.TaxYearEntry{}
	}

	if prev != nil {
		entry.ScrapeCount = prev.ScrapeCount + 1
		if !prev.CreatedAt.IsZero() {
			entry.CreatedAt = prev.CreatedAt
		}
	}

	return entry
}

func saveResult(entry models.CacheEntry, prev *models.CacheEntry) *models.SaveResult {
	return &models.SaveResult{
		Key:                   entry.Key,
		ScrapeCount:           entry.ScrapeCount,
		IsNewProperty:         prev == nil,
		VersionHistoryCreated: prev != nil,
	}
}

// newVersionID returns a lexically sortable ID prefixed with the write time.
func newVersionID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
