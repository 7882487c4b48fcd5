package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/proptax/calculator/api/internal/address"
	"github.com/proptax/calculator/api/internal/calculator"
	apierrors "github.com/proptax/calculator/api/internal/errors"
	"github.com/proptax/calculator/api/internal/middleware"
	"github.com/proptax/calculator/api/internal/models"
	"github.com/proptax/calculator/api/internal/scraper"
	"github.com/proptax/calculator/api/internal/services"
)

// CalculateHandler handles the tax calculation, scrape and history endpoints.
type CalculateHandler struct {
	service  services.CalculateService
	cacheTTL time.Duration
}

// NewCalculateHandler creates a new CalculateHandler instance.
func NewCalculateHandler(service services.CalculateService, cacheTTL time.Duration) *CalculateHandler {
	return &CalculateHandler{
		service:  service,
		cacheTTL: cacheTTL,
	}
}

// AddressRequest is the JSON body of the calculate and scrape endpoints.
// A pointer distinguishes a missing or null address from an empty one.
type AddressRequest struct {
	Address *string `json:"address" binding:"required"`
}

// HistoryRequest represents the query parameters for the history endpoint.
type HistoryRequest struct {
	Address string `form:"address" binding:"required"`
	Limit   int    `form:"limit" binding:"omitempty,gte=1,lte=100"`
}

// PropertyData is the property section of a calculate response.
type PropertyData struct {
	MarketEstimate  *int64                 `json:"marketEstimate"`
	Address         string                 `json:"address"`
	PurchaseHistory []models.PurchaseEvent `json:"purchaseHistory"`
	TaxHistory      []models.TaxYearEntry  `json:"taxHistory"`
}

// CalculateData is the data section of a calculate response.
type CalculateData struct {
	Property     PropertyData       `json:"property"`
	Calculations models.TaxAnalysis `json:"calculations"`
}

// CalculateMetadata describes how a calculate response was produced.
type CalculateMetadata struct {
	CalculatedAt       time.Time `json:"calculatedAt"`
	RequestID          string    `json:"requestId"`
	CalculationVersion string    `json:"calculationVersion"`
	LatencyMs          int64     `json:"latencyMs"`
	CacheHit           bool      `json:"cacheHit"`
}

// CalculateResponse represents the response for POST /calculate.
type CalculateResponse struct {
	Data     CalculateData     `json:"data"`
	Metadata CalculateMetadata `json:"metadata"`
	Warnings []string          `json:"warnings,omitempty"`
	Success  bool              `json:"success"`
}

// ScrapeMetadata describes how a scrape response was produced.
type ScrapeMetadata struct {
	ScrapedAt    time.Time `json:"scrapedAt"`
	RequestID    string    `json:"requestId"`
	ScrapeCount  int       `json:"scrapeCount"`
	CacheTTLDays int       `json:"cacheTtlDays"`
	LatencyMs    int64     `json:"latencyMs"`
	CacheHit     bool      `json:"cacheHit"`
}

// ScrapeResponse represents the response for POST /scrape.
type ScrapeResponse struct {
	Data     models.PropertyRecord `json:"data"`
	Metadata ScrapeMetadata        `json:"metadata"`
	Warnings []string              `json:"warnings,omitempty"`
	Success  bool                  `json:"success"`
}

// HistoryData lists archived snapshots for one address.
type HistoryData struct {
	Address  string              `json:"address"`
	Key      string              `json:"key"`
	Versions []models.CacheEntry `json:"versions"`
	Count    int                 `json:"count"`
}

// HistoryMetadata correlates a history response with its request.
type HistoryMetadata struct {
	RequestID string `json:"requestId"`
	LatencyMs int64  `json:"latencyMs"`
}

// HistoryResponse represents the response for GET /api/v1/properties/history.
type HistoryResponse struct {
	Data     HistoryData     `json:"data"`
	Metadata HistoryMetadata `json:"metadata"`
	Success  bool            `json:"success"`
}

// Calculate handles POST /calculate (and POST /).
// It returns the tax savings analysis for the address in the request body.
func (h *CalculateHandler) Calculate(c *gin.Context) {
	raw, ok := bindAddress(c)
	if !ok {
		return
	}

	result, err := h.service.Calculate(h.requestContext(c), raw)
	if err != nil {
		h.fail(c, raw, err)
		return
	}
	middleware.SetAddress(c, result.Address)

	property := result.Property
	if property.Address == "" {
		property.Address = result.Address
	}

	c.JSON(http.StatusOK, CalculateResponse{
		Success: true,
		Data: CalculateData{
			Property: PropertyData{
				Address:         property.Address,
				PurchaseHistory: nonNilPurchases(property.PurchaseHistory),
				TaxHistory:      nonNilTaxHistory(property.TaxHistory),
				MarketEstimate:  property.MarketEstimate,
			},
			Calculations: result.Analysis,
		},
		Metadata: CalculateMetadata{
			RequestID:          middleware.GetRequestID(c),
			CacheHit:           result.CacheHit,
			CalculatedAt:       result.Analysis.CalculatedAt,
			CalculationVersion: result.Analysis.CalculationVersion,
			LatencyMs:          middleware.Latency(c).Milliseconds(),
		},
		Warnings: result.Warnings,
	})
}

// Scrape handles POST /scrape (and POST /scrape-property).
// It returns property data without computing an analysis.
func (h *CalculateHandler) Scrape(c *gin.Context) {
	raw, ok := bindAddress(c)
	if !ok {
		return
	}

	result, err := h.service.Scrape(h.requestContext(c), raw)
	if err != nil {
		h.fail(c, raw, err)
		return
	}
	middleware.SetAddress(c, result.Address)

	// A fresh scrape whose save failed still counts as the first scrape.
	scrapeCount := result.ScrapeCount
	if scrapeCount == 0 {
		scrapeCount = 1
	}

	data := result.Property
	if data.Address == "" {
		data.Address = result.Address
	}
	data.PurchaseHistory = nonNilPurchases(data.PurchaseHistory)
	data.TaxHistory = nonNilTaxHistory(data.TaxHistory)

	c.JSON(http.StatusOK, ScrapeResponse{
		Success: true,
		Data:    data,
		Metadata: ScrapeMetadata{
			RequestID:    middleware.GetRequestID(c),
			CacheHit:     result.CacheHit,
			ScrapedAt:    result.ScrapedAt,
			ScrapeCount:  scrapeCount,
			CacheTTLDays: int(h.cacheTTL.Hours() / 24),
			LatencyMs:    middleware.Latency(c).Milliseconds(),
		},
		Warnings: result.Warnings,
	})
}

// History handles GET /api/v1/properties/history.
// It lists archived snapshots for an address, most recent first.
func (h *CalculateHandler) History(c *gin.Context) {
	var req HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.InvalidInput(c, "Invalid query parameters", map[string]interface{}{"error": err.Error()})
		return
	}

	versions, err := h.service.History(h.requestContext(c), req.Address, req.Limit)
	if err != nil {
		h.fail(c, req.Address, err)
		return
	}

	trimmed := strings.TrimSpace(req.Address)
	middleware.SetAddress(c, trimmed)
	if versions == nil {
		versions = []models.CacheEntry{}
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Success: true,
		Data: HistoryData{
			Address:  trimmed,
			Key:      address.Key(trimmed),
			Versions: versions,
			Count:    len(versions),
		},
		Metadata: HistoryMetadata{
			RequestID: middleware.GetRequestID(c),
			LatencyMs: middleware.Latency(c).Milliseconds(),
		},
	})
}

// requestContext carries the request ID into service logs and background jobs.
func (h *CalculateHandler) requestContext(c *gin.Context) context.Context {
	return services.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))
}

// fail renders a service error. Input errors are answered before the address
// is known to be valid, so only later failures echo it.
func (h *CalculateHandler) fail(c *gin.Context, raw string, err error) {
	cl := classify(err)
	if cl.code != apierrors.ErrInvalidInput {
		middleware.SetAddress(c, strings.TrimSpace(raw))
	}

	switch cl.code {
	case apierrors.ErrInvalidInput:
		apierrors.InvalidInput(c, cl.message, nil)
	case apierrors.ErrCalculation:
		apierrors.CalculationError(c, cl.message)
	case apierrors.ErrPropertyNotFound:
		apierrors.PropertyNotFound(c, cl.message)
	case apierrors.ErrServiceUnavailable:
		apierrors.ServiceUnavailable(c, cl.message, err)
	case apierrors.ErrGatewayTimeout:
		apierrors.GatewayTimeout(c, cl.message, err)
	default:
		apierrors.InternalServerError(c, cl.message, err)
	}
}

// classification is the HTTP rendering of a service error.
type classification struct {
	status  int
	code    string
	message string
}

// classify maps every error the calculate service returns to a status, code
// and client-facing message.
func classify(err error) classification {
	var invalid *address.ValidationError

	switch {
	case errors.As(err, &invalid):
		return classification{http.StatusBadRequest, apierrors.ErrInvalidInput, invalid.Reason}
	case calculator.IsCalculationError(err):
		return classification{http.StatusBadRequest, apierrors.ErrCalculation, calculator.Reason(err)}
	case errors.Is(err, services.ErrPropertyNotFound):
		return classification{http.StatusNotFound, apierrors.ErrPropertyNotFound, "Property data not found."}
	case errors.Is(err, scraper.ErrTimeout):
		return classification{http.StatusGatewayTimeout, apierrors.ErrGatewayTimeout, "Property data service timed out. Please try again."}
	case errors.Is(err, scraper.ErrNotConfigured):
		return classification{http.StatusServiceUnavailable, apierrors.ErrServiceUnavailable, "Property data service is not configured."}
	case errors.Is(err, scraper.ErrServiceUnavailable), errors.Is(err, scraper.ErrMalformedData):
		return classification{http.StatusServiceUnavailable, apierrors.ErrServiceUnavailable, "Property data service is temporarily unavailable."}
	default:
		return classification{http.StatusInternalServerError, apierrors.ErrInternal, "An unexpected error occurred while processing the request."}
	}
}

// bindAddress decodes the address from the JSON body. It renders the
// INVALID_INPUT response itself and reports false when binding fails.
func bindAddress(c *gin.Context) (string, bool) {
	var req AddressRequest
	err := c.ShouldBindJSON(&req)
	if err == nil {
		return *req.Address, true
	}

	var validationErrors validator.ValidationErrors
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &validationErrors):
		apierrors.ValidationError(c, validationErrors)
	case errors.Is(err, io.EOF):
		apierrors.InvalidInput(c, "Address is required", nil)
	case errors.As(err, &typeErr) && typeErr.Field == "address":
		apierrors.InvalidInput(c, "Address must be a string", nil)
	default:
		apierrors.InvalidInput(c, "Request body must be valid JSON", map[string]interface{}{"error": err.Error()})
	}
	return "", false
}

func nonNilPurchases(events []models.PurchaseEvent) []models.PurchaseEvent {
	if events == nil {
		return []models.PurchaseEvent{}
	}
	return events
}

func nonNilTaxHistory(entries []models.TaxYearEntry) []models.TaxYearEntry {
	if entries == nil {
		return []models.TaxYearEntry{}
	}
	return entries
}
