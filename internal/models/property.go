package models

import (
	"time"
)

// CalculationVersion tags the savings algorithm that produced a TaxAnalysis.
const CalculationVersion = "1.0"

// PurchaseEvent is a single recorded sale of the property.
type PurchaseEvent struct {
	Date  string `json:"date" firestore:"date"` // YYYY-MM-DD
	Price int64  `json:"price" firestore:"price"`
}

// TaxYearEntry is one calendar year's assessment and tax record.
// Nullable amounts use pointers to distinguish absence from zero.
type TaxYearEntry struct {
	AssessedValue *int64 `json:"assessedValue" firestore:"assessedValue"`
	TaxPaid       *int64 `json:"taxPaid" firestore:"taxPaid"`
	Year          int    `json:"year" firestore:"year"`
}

// HasAssessedValue reports whether the entry carries a usable assessment.
func (e TaxYearEntry) HasAssessedValue() bool {
	return e.AssessedValue != nil && *e.AssessedValue > 0
}

// IsComplete reports whether the entry can be used to derive a tax rate.
func (e TaxYearEntry) IsComplete() bool {
	return e.HasAssessedValue() && e.TaxPaid != nil && *e.TaxPaid > 0
}

// PropertyRecord holds the best-known facts about a property at a point in time.
// PurchaseHistory and TaxHistory are ordered most-recent first.
type PropertyRecord struct {
	MarketEstimate  *int64          `json:"marketEstimate"`
	Address         string          `json:"address"`
	PurchaseHistory []PurchaseEvent `json:"purchaseHistory"`
	TaxHistory      []TaxYearEntry  `json:"taxHistory"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// TaxAnalysis is the savings estimate derived from exactly one PropertyRecord.
type TaxAnalysis struct {
	CalculatedAt            time.Time `json:"calculatedAt" firestore:"calculatedAt"`
	CalculationVersion      string    `json:"calculationVersion" firestore:"calculationVersion"`
	TaxRatePercent          float64   `json:"taxRatePercent" firestore:"taxRatePercent"`
	PotentialSavingsPercent float64   `json:"potentialSavingsPercent" firestore:"potentialSavingsPercent"`
	CurrentAssessedValue    int64     `json:"currentAssessedValue" firestore:"currentAssessedValue"`
	MarketEstimate          int64     `json:"marketEstimate" firestore:"marketEstimate"`
	CurrentTaxBill          int64     `json:"currentTaxBill" firestore:"currentTaxBill"`
	ReducedTaxBill          int64     `json:"reducedTaxBill" firestore:"reducedTaxBill"`
	PotentialSavings        int64     `json:"potentialSavings" firestore:"potentialSavings"`
	DerivedFromYear         int       `json:"derivedFromYear" firestore:"derivedFromYear"`
	CurrentAssessedYear     int       `json:"currentAssessedYear" firestore:"currentAssessedYear"`
}

// CacheEntry is the persisted document for one address key. The property
// record is stored flattened alongside the optional analysis.
type CacheEntry struct {
	ScrapedAt       time.Time       `json:"scrapedAt" firestore:"scrapedAt"`
	ExpiresAt       time.Time       `json:"expiresAt" firestore:"expiresAt"`
	CreatedAt       time.Time       `json:"createdAt" firestore:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" firestore:"updatedAt"`
	MarketEstimate  *int64          `json:"marketEstimate" firestore:"marketEstimate"`
	Calculations    *TaxAnalysis    `json:"calculations" firestore:"calculations"`
	Key             string          `json:"key,omitempty" firestore:"-"`
	VersionID       string          `json:"versionId,omitempty" firestore:"-"`
	Address         string          `json:"address" firestore:"address"`
	PurchaseHistory []PurchaseEvent `json:"purchaseHistory" firestore:"purchaseHistory"`
	TaxHistory      []TaxYearEntry  `json:"taxHistory" firestore:"taxHistory"`
	Warnings        []string        `json:"warnings,omitempty" firestore:"warnings"`
	ScrapeCount     int             `json:"scrapeCount" firestore:"scrapeCount"`
}

// Record returns the property record stored in the entry.
func (e *CacheEntry) Record() PropertyRecord {
	return PropertyRecord{
		Address:         e.Address,
		PurchaseHistory: e.PurchaseHistory,
		TaxHistory:      e.TaxHistory,
		MarketEstimate:  e.MarketEstimate,
		Warnings:        e.Warnings,
	}
}

// IsStale reports whether the entry was scraped longer than ttl before now.
// An entry without a scrape timestamp is always stale.
func (e *CacheEntry) IsStale(now time.Time, ttl time.Duration) bool {
	if e.ScrapedAt.IsZero() {
		return true
	}
	return now.Sub(e.ScrapedAt) > ttl
}

// PropertyWrite describes a single upsert into the property cache.
type PropertyWrite struct {
	Now      time.Time
	Analysis *TaxAnalysis
	Record   PropertyRecord
	TTL      time.Duration
}

// SaveResult reports the outcome of a cache upsert.
type SaveResult struct {
	Key                   string `json:"key"`
	ScrapeCount           int    `json:"scrapeCount"`
	IsNewProperty         bool   `json:"isNewProperty"`
	VersionHistoryCreated bool   `json:"versionHistoryCreated"`
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
