// Package scraper fetches raw property records from the third-party scraping
// provider and maps them into models.PropertyRecord.
package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/proptax/calculator/api/internal/models"
)

// Fetch failures. Callers classify them with errors.Is.
var (
	ErrNotFound           = errors.New("property not found")
	ErrServiceUnavailable = errors.New("property data service unavailable")
	ErrTimeout            = errors.New("property data service timeout")
	ErrMalformedData      = errors.New("malformed property data")

	// ErrNotConfigured is an ErrServiceUnavailable caused by missing
	// provider credentials.
	ErrNotConfigured = fmt.Errorf("%w: provider not configured", ErrServiceUnavailable)
)

// Fetcher returns the provider's record for an address.
type Fetcher interface {
	// Fetch returns ErrNotFound when the provider has no result for the
	// address, ErrServiceUnavailable when it cannot be reached or is not
	// configured, ErrTimeout when the time budget is exceeded, and
	// ErrMalformedData when the payload cannot be mapped.
	Fetch(ctx context.Context, address string) (*models.PropertyRecord, error)
}

// MalformedDataError identifies the provider field that failed to map.
type MalformedDataError struct {
	Field  string
	Reason string
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformedData, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedData) match any MalformedDataError.
func (e *MalformedDataError) Is(target error) bool {
	return target == ErrMalformedData
}
