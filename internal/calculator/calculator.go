// Package calculator derives an effective tax rate from a property's tax
// history and projects the bill the owner would pay if the property were
// assessed at its market estimate.
package calculator

import (
	"errors"
	"time"

	"github.com/proptax/calculator/api/internal/models"
	"github.com/shopspring/decimal"
)

// Precondition failures. Each reflects unusable upstream data rather than a
// transient fault, so callers should not retry.
var (
	ErrNoTaxHistory      = errors.New("no tax history available")
	ErrNoMarketEstimate  = errors.New("market estimate unavailable")
	ErrNoCompleteTaxYear = errors.New("no complete tax year available for rate derivation")
	ErrNoAssessedValue   = errors.New("no assessed value in tax history")
)

// reasons are the client-facing descriptions of each precondition failure.
var reasons = map[error]string{
	ErrNoTaxHistory:      "No tax history available for calculation.",
	ErrNoMarketEstimate:  "Market estimate unavailable for calculation.",
	ErrNoCompleteTaxYear: "No complete tax history available for rate calculation.",
	ErrNoAssessedValue:   "No assessed value found in tax history.",
}

var hundred = decimal.NewFromInt(100)

// IsCalculationError reports whether err is one of the calculator's
// precondition failures.
func IsCalculationError(err error) bool {
	return errors.Is(err, ErrNoTaxHistory) ||
		errors.Is(err, ErrNoMarketEstimate) ||
		errors.Is(err, ErrNoCompleteTaxYear) ||
		errors.Is(err, ErrNoAssessedValue)
}

// Reason returns the client-facing description of a precondition failure,
// or "" when err is not one.
func Reason(err error) string {
	for sentinel, reason := range reasons {
		if errors.Is(err, sentinel) {
			return reason
		}
	}
	return ""
}

// Rate is the effective tax rate realized in one year.
type Rate struct {
	Percent decimal.Decimal
	Year    int
}

// Assessment is the most recent assessed value in a tax history.
type Assessment struct {
	Value int64
	Year  int
}

// Calculate produces the savings analysis for record. The tax history must be
// ordered most-recent first. now only sets CalculatedAt.
func Calculate(record models.PropertyRecord, now time.Time) (models.TaxAnalysis, error) {
	if len(record.TaxHistory) == 0 {
		return models.TaxAnalysis{}, ErrNoTaxHistory
	}
	if record.MarketEstimate == nil || *record.MarketEstimate <= 0 {
		return models.TaxAnalysis{}, ErrNoMarketEstimate
	}

	rate, err := DeriveRate(record.TaxHistory)
	if err != nil {
		return models.TaxAnalysis{}, err
	}

	assessment, err := CurrentAssessment(record.TaxHistory)
	if err != nil {
		return models.TaxAnalysis{}, err
	}

	marketEstimate := *record.MarketEstimate
	currentTaxBill := applyRate(assessment.Value, rate.Percent)
	reducedTaxBill := applyRate(marketEstimate, rate.Percent)
	potentialSavings := currentTaxBill - reducedTaxBill

	savingsPercent := decimal.Zero
	if currentTaxBill > 0 {
		savingsPercent = decimal.NewFromInt(potentialSavings).
			Div(decimal.NewFromInt(currentTaxBill)).
			Mul(hundred).
			Round(2)
	}

	return models.TaxAnalysis{
		TaxRatePercent:          rate.Percent.InexactFloat64(),
		DerivedFromYear:         rate.Year,
		CurrentAssessedValue:    assessment.Value,
		CurrentAssessedYear:     assessment.Year,
		MarketEstimate:          marketEstimate,
		CurrentTaxBill:          currentTaxBill,
		ReducedTaxBill:          reducedTaxBill,
		PotentialSavings:        potentialSavings,
		PotentialSavingsPercent: savingsPercent.InexactFloat64(),
		CalculatedAt:            now,
		CalculationVersion:      models.CalculationVersion,
	}, nil
}

// DeriveRate computes taxPaid / assessedValue * 100, rounded to four places,
// from the first entry carrying both amounts.
func DeriveRate(history []models.TaxYearEntry) (Rate, error) {
	for _, entry := range history {
		if !entry.IsComplete() {
			continue
		}
		percent := decimal.NewFromInt(*entry.TaxPaid).
			Div(decimal.NewFromInt(*entry.AssessedValue)).
			Mul(hundred).
			Round(4)
		return Rate{Percent: percent, Year: entry.Year}, nil
	}
	return Rate{}, ErrNoCompleteTaxYear
}

// CurrentAssessment returns the first entry with an assessed value, whether
// or not tax has been paid for that year yet.
func CurrentAssessment(history []models.TaxYearEntry) (Assessment, error) {
	for _, entry := range history {
		if entry.HasAssessedValue() {
			return Assessment{Value: *entry.AssessedValue, Year: entry.Year}, nil
		}
	}
	return Assessment{}, ErrNoAssessedValue
}

// applyRate returns value * percent / 100 rounded to a whole currency unit.
func applyRate(value int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(value).Mul(percent).Div(hundred).Round(0).IntPart()
}
