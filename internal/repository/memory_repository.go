package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/proptax/calculator/api/internal/models"
)

// memoryRepository keeps entries in process memory. Used for local
// development and tests.
type memoryRepository struct {
	mu       sync.RWMutex
	entries  map[string]models.CacheEntry
	versions map[string][]models.CacheEntry
}

// NewMemoryRepository creates an empty in-memory PropertyRepository.
func NewMemoryRepository() PropertyRepository {
	return &memoryRepository{
		entries:  make(map[string]models.CacheEntry),
		versions: make(map[string][]models.CacheEntry),
	}
}

func (r *memoryRepository) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	clone := cloneEntry(entry)
	return &clone, nil
}

func (r *memoryRepository) Upsert(_ context.Context, key string, write models.PropertyWrite) (*models.SaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev *models.CacheEntry
	if existing, ok := r.entries[key]; ok {
		archived := cloneEntry(existing)
		archived.VersionID = newVersionID(write.Now)
		r.versions[key] = append(r.versions[key], archived)
		prev = &existing
	}

	entry := cloneEntry(buildEntry(key, prev, write))
	r.entries[key] = entry

	return saveResult(entry, prev), nil
}

func (r *memoryRepository) History(_ context.Context, key string, limit int) ([]models.CacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[key]
	result := make([]models.CacheEntry, 0, min(len(versions), max(limit, 0)))
	for _, v := range versions {
		result = append(result, cloneEntry(v))
	}

	slices.SortStableFunc(result, func(a, b models.CacheEntry) int {
		return b.ScrapedAt.Compare(a.ScrapedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memoryRepository) Ping(context.Context) error {
	return nil
}

// cloneEntry copies the slices and pointers of an entry so callers cannot
// mutate stored state.
func cloneEntry(e models.CacheEntry) models.CacheEntry {
	out := e
	out.PurchaseHistory = slices.Clone(e.PurchaseHistory)
	out.Warnings = slices.Clone(e.Warnings)
	if e.TaxHistory != nil {
		out.TaxHistory = make([]models.TaxYearEntry, len(e.TaxHistory))
		for i, t := range e.TaxHistory {
			out.TaxHistory[i] = models.TaxYearEntry{
				Year:          t.Year,
				AssessedValue: copyInt64(t.AssessedValue),
				TaxPaid:       copyInt64(t.TaxPaid),
			}
		}
	}
	out.MarketEstimate = copyInt64(e.MarketEstimate)
	if e.Calculations != nil {
		analysis := *e.Calculations
		out.Calculations = &analysis
	}
	return out
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
