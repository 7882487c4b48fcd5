package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/proptax/calculator/api/internal/address"
	"github.com/proptax/calculator/api/internal/calculator"
	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/metrics"
	"github.com/proptax/calculator/api/internal/models"
	"github.com/proptax/calculator/api/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testAddress = "123 Main St, Springfield, IL 62704"

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func springfieldRecord() *models.PropertyRecord {
	return &models.PropertyRecord{
		Address: testAddress,
		TaxHistory: []models.TaxYearEntry{
			{Year: 2025, AssessedValue: models.Int64Ptr(500000)},
			{Year: 2024, AssessedValue: models.Int64Ptr(480000), TaxPaid: models.Int64Ptr(9120)},
		},
		PurchaseHistory: []models.PurchaseEvent{{Date: "2019-05-15", Price: 350000}},
		MarketEstimate:  models.Int64Ptr(400000),
		Warnings:        []string{},
	}
}

func newTestService(cache PropertyCache, fetcher scraper.Fetcher, persister Persister) *calculateService {
	svc := NewCalculateService(cache, fetcher, persister, logger.Nop(), metrics.New()).(*calculateService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestCalculate_CacheMissFetchesCalculatesAndPersists(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	persister := &recordingPersister{}
	svc := newTestService(cache, fetcher, persister)

	ctx := WithRequestID(context.Background(), "req-1")
	cache.On("Get", ctx, testAddress).Return(nil, false)
	fetcher.On("Fetch", ctx, testAddress).Return(springfieldRecord(), nil)

	result, err := svc.Calculate(ctx, "  "+testAddress+"  ")
	require.NoError(t, err)

	assert.Equal(t, testAddress, result.Address)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 1.9, result.Analysis.TaxRatePercent)
	assert.Equal(t, 2024, result.Analysis.DerivedFromYear)
	assert.Equal(t, int64(9500), result.Analysis.CurrentTaxBill)
	assert.Equal(t, int64(7600), result.Analysis.ReducedTaxBill)
	assert.Equal(t, int64(1900), result.Analysis.PotentialSavings)
	assert.Equal(t, 20.0, result.Analysis.PotentialSavingsPercent)
	assert.Equal(t, fixedNow, result.Analysis.CalculatedAt)

	jobs := persister.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, testAddress, jobs[0].Address)
	assert.Equal(t, "req-1", jobs[0].RequestID)
	require.NotNil(t, jobs[0].Analysis)
	assert.Equal(t, result.Analysis, *jobs[0].Analysis)

	cache.AssertExpectations(t)
	fetcher.AssertExpectations(t)
}

func TestCalculate_FullCacheHitSkipsFetchAndPersist(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	persister := &recordingPersister{}
	svc := newTestService(cache, fetcher, persister)

	stored := models.TaxAnalysis{
		TaxRatePercent:     1.9,
		PotentialSavings:   1900,
		CalculatedAt:       fixedNow.Add(-48 * time.Hour),
		CalculationVersion: models.CalculationVersion,
	}
	record := springfieldRecord()
	entry := &models.CacheEntry{
		Address:        record.Address,
		TaxHistory:     record.TaxHistory,
		MarketEstimate: record.MarketEstimate,
		Calculations:   &stored,
		ScrapedAt:      fixedNow.Add(-48 * time.Hour),
		ScrapeCount:    3,
	}

	ctx := context.Background()
	cache.On("Get", ctx, testAddress).Return(entry, true)

	result, err := svc.Calculate(ctx, testAddress)
	require.NoError(t, err)

	assert.True(t, result.CacheHit)
	assert.Equal(t, stored, result.Analysis, "cached analysis is returned unchanged")
	assert.Equal(t, testAddress, result.Property.Address)
	assert.Empty(t, persister.Jobs())
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestCalculate_PartialHitCalculatesAndPersistsWithoutFetch(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	persister := &recordingPersister{}
	svc := newTestService(cache, fetcher, persister)

	record := springfieldRecord()
	entry := &models.CacheEntry{
		Address:         record.Address,
		TaxHistory:      record.TaxHistory,
		PurchaseHistory: record.PurchaseHistory,
		MarketEstimate:  record.MarketEstimate,
		ScrapedAt:       fixedNow.Add(-time.Hour),
		ScrapeCount:     1,
	}

	ctx := context.Background()
	cache.On("Get", ctx, testAddress).Return(entry, true)

	result, err := svc.Calculate(ctx, testAddress)
	require.NoError(t, err)

	assert.True(t, result.CacheHit)
	assert.Equal(t, int64(1900), result.Analysis.PotentialSavings)

	jobs := persister.Jobs()
	require.Len(t, jobs, 1)
	assert.NotNil(t, jobs[0].Analysis)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestCalculate_InvalidAddressShortCircuits(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"empty", "", address.ReasonRequired},
		{"whitespace", "    ", address.ReasonEmpty},
		{"too short", "  12 O  ", address.ReasonTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := new(MockPropertyCache)
			fetcher := new(MockFetcher)
			persister := &recordingPersister{}
			svc := newTestService(cache, fetcher, persister)

			result, err := svc.Calculate(context.Background(), tt.input)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, address.ErrInvalidAddress)
			assert.Equal(t, tt.reason, err.Error())

			cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
			fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
			assert.Empty(t, persister.Jobs())
		})
	}
}

func TestCalculate_NotFoundDoesNotPersist(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	persister := &recordingPersister{}
	svc := newTestService(cache, fetcher, persister)

	ctx := context.Background()
	cache.On("Get", ctx, "999 Nowhere Ln").Return(nil, false)
	fetcher.On("Fetch", ctx, "999 Nowhere Ln").Return(nil, scraper.ErrNotFound)

	_, err := svc.Calculate(ctx, "999 Nowhere Ln")
	assert.ErrorIs(t, err, ErrPropertyNotFound)
	assert.Empty(t, persister.Jobs())
}

func TestCalculate_NilRecordIsNotFound(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	svc := newTestService(cache, fetcher, &recordingPersister{})

	ctx := context.Background()
	cache.On("Get", ctx, testAddress).Return(nil, false)
	fetcher.On("Fetch", ctx, testAddress).Return(nil, nil)

	_, err := svc.Calculate(ctx, testAddress)
	assert.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestCalculate_UpstreamFailuresAreWrapped(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"timeout", fmt.Errorf("%w: deadline", scraper.ErrTimeout)},
		{"unavailable", scraper.ErrServiceUnavailable},
		{"malformed", &scraper.MalformedDataError{Field: "zestimate", Reason: "bad"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := new(MockPropertyCache)
			fetcher := new(MockFetcher)
			persister := &recordingPersister{}
			svc := newTestService(cache, fetcher, persister)

			ctx := context.Background()
			cache.On("Get", ctx, testAddress).Return(nil, false)
			fetcher.On("Fetch", ctx, testAddress).Return(nil, tt.err)

			_, err := svc.Calculate(ctx, testAddress)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.err) || errors.Is(err, scraper.ErrMalformedData))
			assert.NotErrorIs(t, err, ErrPropertyNotFound)
			assert.Empty(t, persister.Jobs())
		})
	}
}

func TestCalculate_CalculationErrorDoesNotPersist(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	persister := &recordingPersister{}
	svc := newTestService(cache, fetcher, persister)

	record := springfieldRecord()
	record.TaxHistory = []models.TaxYearEntry{}

	ctx := context.Background()
	cache.On("Get", ctx, testAddress).Return(nil, false)
	fetcher.On("Fetch", ctx, testAddress).Return(record, nil)

	_, err := svc.Calculate(ctx, testAddress)
	assert.ErrorIs(t, err, calculator.ErrNoTaxHistory)
	assert.Equal(t, "No tax history available for calculation.", calculator.Reason(err))
	assert.Empty(t, persister.Jobs())
}

func TestCalculate_WarningsPassThrough(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	svc := newTestService(cache, fetcher, &recordingPersister{})

	record := springfieldRecord()
	record.Warnings = []string{"Address mismatch: Requested unit '12' but the property data service returned unit '4'. Please verify this is the correct property."}

	ctx := context.Background()
	cache.On("Get", ctx, testAddress).Return(nil, false)
	fetcher.On("Fetch", ctx, testAddress).Return(record, nil)

	result, err := svc.Calculate(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, record.Warnings, result.Warnings)
}

func TestScrape_MissSavesSynchronously(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	persister := &recordingPersister{}
	svc := newTestService(cache, fetcher, persister)

	record := springfieldRecord()
	ctx := context.Background()
	cache.On("Get", ctx, testAddress).Return(nil, false)
	fetcher.On("Fetch", ctx, testAddress).Return(record, nil)
	cache.On("Put", ctx, testAddress, *record, (*models.TaxAnalysis)(nil)).
		Return(&models.SaveResult{Key: address.Key(testAddress), ScrapeCount: 4}, nil)

	result, err := svc.Scrape(ctx, testAddress)
	require.NoError(t, err)

	assert.False(t, result.CacheHit)
	assert.Equal(t, 4, result.ScrapeCount)
	assert.Equal(t, fixedNow, result.ScrapedAt)
	assert.Empty(t, persister.Jobs())
	cache.AssertExpectations(t)
}

func TestScrape_SaveFailureIsSwallowed(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	svc := newTestService(cache, fetcher, &recordingPersister{})

	record := springfieldRecord()
	ctx := context.Background()
	cache.On("Get", ctx, testAddress).Return(nil, false)
	fetcher.On("Fetch", ctx, testAddress).Return(record, nil)
	cache.On("Put", ctx, testAddress, *record, (*models.TaxAnalysis)(nil)).
		Return(nil, errors.New("firestore unavailable"))

	result, err := svc.Scrape(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ScrapeCount)
	assert.Equal(t, testAddress, result.Property.Address)
}

func TestScrape_HitReturnsCachedEntry(t *testing.T) {
	cache := new(MockPropertyCache)
	fetcher := new(MockFetcher)
	svc := newTestService(cache, fetcher, &recordingPersister{})

	scrapedAt := fixedNow.Add(-72 * time.Hour)
	entry := &models.CacheEntry{Address: testAddress, ScrapedAt: scrapedAt, ScrapeCount: 2}

	ctx := context.Background()
	cache.On("Get", ctx, testAddress).Return(entry, true)

	result, err := svc.Scrape(ctx, testAddress)
	require.NoError(t, err)
	assert.True(t, result.CacheHit)
	assert.Equal(t, scrapedAt, result.ScrapedAt)
	assert.Equal(t, 2, result.ScrapeCount)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestHistory_ValidatesAndDelegates(t *testing.T) {
	cache := new(MockPropertyCache)
	svc := newTestService(cache, new(MockFetcher), &recordingPersister{})

	ctx := context.Background()
	cache.On("History", ctx, testAddress, 5).Return([]models.CacheEntry{{ScrapeCount: 1}}, nil)

	history, err := svc.History(ctx, testAddress, 5)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = svc.History(ctx, "", 5)
	assert.ErrorIs(t, err, address.ErrInvalidAddress)
}
