package services

import (
	"context"
	"sync"
	"time"

	"github.com/proptax/calculator/api/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockPropertyCache is a mock implementation of PropertyCache for testing
type MockPropertyCache struct {
	mock.Mock
}

func (m *MockPropertyCache) Get(ctx context.Context, address string) (*models.CacheEntry, bool) {
	args := m.Called(ctx, address)
	entry, _ := args.Get(0).(*models.CacheEntry)
	return entry, args.Bool(1)
}

func (m *MockPropertyCache) Put(ctx context.Context, address string, record models.PropertyRecord, analysis *models.TaxAnalysis) (*models.SaveResult, error) {
	args := m.Called(ctx, address, record, analysis)
	result, _ := args.Get(0).(*models.SaveResult)
	return result, args.Error(1)
}

func (m *MockPropertyCache) History(ctx context.Context, address string, limit int) ([]models.CacheEntry, error) {
	args := m.Called(ctx, address, limit)
	history, _ := args.Get(0).([]models.CacheEntry)
	return history, args.Error(1)
}

func (m *MockPropertyCache) TTL() time.Duration {
	return 30 * 24 * time.Hour
}

func (m *MockPropertyCache) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockFetcher is a mock implementation of scraper.Fetcher for testing
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, address string) (*models.PropertyRecord, error) {
	args := m.Called(ctx, address)
	record, _ := args.Get(0).(*models.PropertyRecord)
	return record, args.Error(1)
}

// recordingPersister captures enqueued jobs instead of writing them.
type recordingPersister struct {
	mu   sync.Mutex
	jobs []PersistJob
}

func (p *recordingPersister) Enqueue(job PersistJob) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return true
}

func (p *recordingPersister) Jobs() []PersistJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PersistJob(nil), p.jobs...)
}
