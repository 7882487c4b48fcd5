package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/proptax/calculator/api/internal/address"
	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/models"
)

const (
	defaultBaseURL = "https://api.apify.com/v2"
	defaultActorID = "maxcopell/zillow-detail-scraper"
	defaultTimeout = 60 * time.Second
	retryBackoff   = 500 * time.Millisecond

	// maxPayloadBytes bounds how much of a dataset response is read.
	maxPayloadBytes = 8 << 20
)

// HTTPClient matches net/http.Client Do signature for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config defines settings for the Apify client.
type Config struct {
	APIKey     string
	ActorID    string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// ApifyClient runs the Zillow detail actor synchronously and maps the first
// dataset item into a PropertyRecord.
type ApifyClient struct {
	httpClient HTTPClient
	log        *logger.Logger
	apiKey     string
	actorID    string
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

var _ Fetcher = (*ApifyClient)(nil)

// NewApifyClient creates an ApifyClient. A nil httpClient gets a default
// client whose timeout leaves headroom over the actor budget.
func NewApifyClient(httpClient HTTPClient, cfg Config, log *logger.Logger) *ApifyClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout + 5*time.Second}
	}
	actorID := cfg.ActorID
	if actorID == "" {
		actorID = defaultActorID
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &ApifyClient{
		httpClient: httpClient,
		log:        log,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		actorID:    actorID,
		baseURL:    baseURL,
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

type actorInput struct {
	Addresses []string `json:"addresses"`
}

// Fetch implements Fetcher.
func (c *ApifyClient) Fetch(ctx context.Context, addr string) (*models.PropertyRecord, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: APIFY_API_KEY is not set", ErrNotConfigured)
	}

	cleaned := address.CleanForProvider(addr)
	c.log.Info("Starting property scraper", map[string]interface{}{
		"original_address": addr,
		"cleaned_address":  cleaned,
		"actor_id":         c.actorID,
	})

	body, err := json.Marshal(actorInput{Addresses: []string{cleaned}})
	if err != nil {
		return nil, fmt.Errorf("encode actor input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := c.runActor(ctx, body)
	if err != nil {
		c.log.Error("Property scraper failed", err, map[string]interface{}{
			"address": addr,
		})
		return nil, err
	}

	record, err := ParseItems(addr, payload)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.log.Warn("No property data found", map[string]interface{}{"address": addr})
		}
		return nil, err
	}

	if len(record.Warnings) > 0 {
		c.log.Warn("Address unit mismatch detected", map[string]interface{}{
			"requested_address": addr,
			"returned_address":  record.Address,
		})
	}
	c.log.Info("Property data transformed", map[string]interface{}{
		"requested_address":      addr,
		"returned_address":       record.Address,
		"has_market_estimate":    record.MarketEstimate != nil,
		"purchase_history_count": len(record.PurchaseHistory),
		"tax_history_count":      len(record.TaxHistory),
		"warnings_count":         len(record.Warnings),
	})

	return record, nil
}

// runActor posts the input to the run-sync endpoint, retrying transport
// failures, rate limiting and server errors. Timeouts are never retried.
func (c *ApifyClient) runActor(ctx context.Context, body []byte) ([]byte, error) {
	endpoint := c.endpoint()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, classifyTransportError(ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		payload, retryable, err := c.do(ctx, endpoint, body)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.log.Warn("Retrying property scraper request", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}

	return nil, lastErr
}

func (c *ApifyClient) do(ctx context.Context, endpoint string, body []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransportError(err)
		return nil, !errors.Is(classified, ErrTimeout), classified
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		classified := classifyTransportError(err)
		return nil, !errors.Is(classified, ErrTimeout), classified
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payload, false, nil
	case resp.StatusCode == http.StatusRequestTimeout:
		return nil, false, fmt.Errorf("%w: actor run exceeded %s", ErrTimeout, c.timeout)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, snippet(payload))
	default:
		return nil, false, fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, snippet(payload))
	}
}

func (c *ApifyClient) endpoint() string {
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(int(c.timeout.Seconds())))
	actor := strings.ReplaceAll(c.actorID, "/", "~")
	return fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?%s", c.baseURL, url.PathEscape(actor), params.Encode())
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
