package scraper

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/proptax/calculator/api/internal/address"
	"github.com/proptax/calculator/api/internal/models"
)

const soldEvent = "Sold"

// dateLayouts are the formats the provider uses for price history dates.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

// rawProperty is the subset of the provider's detail record we consume.
type rawProperty struct {
	Address      *rawAddress     `json:"address"`
	Zestimate    *float64        `json:"zestimate"`
	PriceHistory []rawPriceEvent `json:"priceHistory"`
	TaxHistory   []rawTaxRecord  `json:"taxHistory"`
}

type rawAddress struct {
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	State         string `json:"state"`
	Zipcode       string `json:"zipcode"`
}

type rawPriceEvent struct {
	Price *float64 `json:"price"`
	Event string   `json:"event"`
	Date  string   `json:"date"`
}

type rawTaxRecord struct {
	Time    *float64 `json:"time"` // milliseconds since epoch
	Value   *float64 `json:"value"`
	TaxPaid *float64 `json:"taxPaid"`
}

// ParseItems maps a provider dataset (a JSON array of detail records) into a
// PropertyRecord built from the first item. requested is the address the
// caller asked for and is used to flag unit mismatches.
func ParseItems(requested string, payload []byte) (*models.PropertyRecord, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(payload), &items); err != nil {
		return nil, malformed("items", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return ParseProperty(requested, items[0])
}

// ParseProperty maps a single provider detail record into a PropertyRecord.
func ParseProperty(requested string, payload []byte) (*models.PropertyRecord, error) {
	var raw rawProperty
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, malformed("property", err)
	}

	purchases, err := purchaseHistory(raw.PriceHistory)
	if err != nil {
		return nil, err
	}

	record := &models.PropertyRecord{
		Address:         formatAddress(raw.Address),
		PurchaseHistory: purchases,
		TaxHistory:      taxHistory(raw.TaxHistory),
		MarketEstimate:  roundedAmount(raw.Zestimate),
	}
	record.Warnings = address.CompareUnits(requested, record.Address)
	if record.Warnings == nil {
		record.Warnings = []string{}
	}

	return record, nil
}

func formatAddress(raw *rawAddress) string {
	if raw == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	for _, part := range []string{raw.StreetAddress, raw.City, raw.State, raw.Zipcode} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

// purchaseHistory keeps completed sales that carry both a date and a price,
// most recent first.
func purchaseHistory(events []rawPriceEvent) ([]models.PurchaseEvent, error) {
	type dated struct {
		at    time.Time
		event models.PurchaseEvent
	}

	sales := make([]dated, 0, len(events))
	for i, event := range events {
		if event.Event != soldEvent || event.Date == "" {
			continue
		}
		price := roundedAmount(event.Price)
		if price == nil {
			continue
		}
		at, err := parseDate(event.Date)
		if err != nil {
			return nil, &MalformedDataError{
				Field:  fmt.Sprintf("priceHistory[%d].date", i),
				Reason: err.Error(),
			}
		}
		sales = append(sales, dated{
			at:    at,
			event: models.PurchaseEvent{Date: at.Format(dateLayouts[0]), Price: *price},
		})
	}

	slices.SortStableFunc(sales, func(a, b dated) int {
		return b.at.Compare(a.at)
	})

	result := make([]models.PurchaseEvent, 0, len(sales))
	for _, s := range sales {
		result = append(result, s.event)
	}
	return result, nil
}

// taxHistory keeps records with an assessed value and a timestamp, most
// recent year first. Tax paid is optional: the newest year is often assessed
// before it is billed.
func taxHistory(records []rawTaxRecord) []models.TaxYearEntry {
	result := make([]models.TaxYearEntry, 0, len(records))
	for _, record := range records {
		assessed := roundedAmount(record.Value)
		if assessed == nil || record.Time == nil {
			continue
		}
		result = append(result, models.TaxYearEntry{
			Year:          time.UnixMilli(int64(*record.Time)).UTC().Year(),
			AssessedValue: assessed,
			TaxPaid:       roundedAmount(record.TaxPaid),
		})
	}

	slices.SortStableFunc(result, func(a, b models.TaxYearEntry) int {
		return cmp.Compare(b.Year, a.Year)
	})
	return result
}

// roundedAmount rounds a provider amount to a whole currency unit. Missing,
// zero and negative amounts are treated as absent.
func roundedAmount(v *float64) *int64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	rounded := int64(math.Round(*v))
	if rounded <= 0 {
		return nil
	}
	return &rounded
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func malformed(field string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		field = field + "." + typeErr.Field
	}
	return &MalformedDataError{Field: field, Reason: err.Error()}
}
