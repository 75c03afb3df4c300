// Package platform holds the outbound HTTP clients for the three systems
// the core talks to: the ad platform itself, the embedding service, and
// the upstream creative generator. Each is a single wrapped client
// type with a constructor reading its own configuration and narrow
// request/response methods, over plain net/http since none of these are
// in-house services with a shared proto.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/executor"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
)

// Config configures the ad platform client.
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  uint64
	RetryBase   time.Duration
	BreakerName string
}

// DefaultConfig returns sane outbound-client defaults.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		RetryBase:   200 * time.Millisecond,
		BreakerName: "ad-platform",
	}
}

// Client is the outbound HTTP client to the ad platform, implementing
// executor.PlatformClient. A circuit breaker opens once at least 5 calls
// have been made in the current one-minute window and at least 60% of them
// failed (any error counts, 4xx included), so the executor stops hammering
// a down platform independent of its own retry loop; retries use
// exponential backoff with ±RetryBase/2 jitter for transient errors within
// a single call.
type Client struct {
	httpClient *http.Client
	cfg        Config
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates an ad platform client.
func NewClient(cfg Config) *Client {
	settings := gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// ApplyChange applies a single change to the ad platform, implementing
// executor.PlatformClient.
func (c *Client) ApplyChange(ctx context.Context, req executor.PlatformChangeRequest) executor.PlatformChangeResult {
	body, path, err := c.buildRequest(req)
	if err != nil {
		return executor.PlatformChangeResult{ChangeID: req.ChangeID, Success: false, Retryable: false, Err: err}
	}

	_, err = c.doWithBreakerAndRetry(ctx, path, body)
	if err != nil {
		return executor.PlatformChangeResult{ChangeID: req.ChangeID, Success: false, Retryable: isRetryable(err), Err: err}
	}
	return executor.PlatformChangeResult{ChangeID: req.ChangeID, Success: true}
}

// ApplyBatch applies a run of same-account changes in a single platform
// request when the executor decides the batch threshold is met.
func (c *Client) ApplyBatch(ctx context.Context, reqs []executor.PlatformChangeRequest) []executor.PlatformChangeResult {
	type batchItem struct {
		ChangeID   string                 `json:"change_id"`
		AdID       string                 `json:"ad_id"`
		ChangeType models.ChangeType      `json:"change_type"`
		Payload    executor.ChangePayload `json:"payload"`
	}
	items := make([]batchItem, len(reqs))
	for i, r := range reqs {
		items[i] = batchItem{ChangeID: r.ChangeID, AdID: r.AdID, ChangeType: r.ChangeType, Payload: r.Payload}
	}
	body, err := json.Marshal(map[string]any{"changes": items})
	if err != nil {
		return failAll(reqs, err, false)
	}

	_, err = c.doWithBreakerAndRetry(ctx, "/v1/ads/batch_update", body)
	if err != nil {
		return failAll(reqs, err, isRetryable(err))
	}

	results := make([]executor.PlatformChangeResult, len(reqs))
	for i, r := range reqs {
		results[i] = executor.PlatformChangeResult{ChangeID: r.ChangeID, Success: true}
	}
	return results
}

func failAll(reqs []executor.PlatformChangeRequest, err error, retryable bool) []executor.PlatformChangeResult {
	results := make([]executor.PlatformChangeResult, len(reqs))
	for i, r := range reqs {
		results[i] = executor.PlatformChangeResult{ChangeID: r.ChangeID, Success: false, Retryable: retryable, Err: err}
	}
	return results
}

func (c *Client) buildRequest(req executor.PlatformChangeRequest) ([]byte, string, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = req.ChangeID
	}
	payload := map[string]any{
		"ad_id":           req.AdID,
		"idempotency_key": key,
	}
	var path string
	switch req.ChangeType {
	case models.ChangeTypeBudgetIncrease, models.ChangeTypeBudgetDecrease:
		if req.Payload.TargetBudgetCents == nil {
			return nil, "", fmt.Errorf("budget change missing target_budget_cents")
		}
		payload["new_budget_cents"] = *req.Payload.TargetBudgetCents
		path = "/v1/ads/update_budget"
	case models.ChangeTypePause:
		path = "/v1/ads/pause"
	case models.ChangeTypeResume:
		path = "/v1/ads/resume"
	case models.ChangeTypeReplaceCreative:
		payload["winner_pattern_ids"] = req.Payload.WinnerPatternIDs
		path = "/v1/ads/replace_creative"
	default:
		return nil, "", fmt.Errorf("unsupported change type: %s", req.ChangeType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshaling platform request: %w", err)
	}
	return body, path, nil
}

// retryableError wraps a failure that a retry loop should keep retrying;
// anything else is treated as permanent (4xx except 429).
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}

func (c *Client) doWithBreakerAndRetry(ctx context.Context, path string, body []byte) ([]byte, error) {
	// lastTransient survives the retry loop so a transient failure that
	// exhausted the in-call retry budget still surfaces as retryable and
	// the executor requeues the row instead of dead-lettering it.
	var lastTransient bool

	result, err := c.breaker.Execute(func() (any, error) {
		backoff := retry.NewExponential(c.cfg.RetryBase)
		backoff = retry.WithJitter(c.cfg.RetryBase/2, backoff)
		backoff = retry.WithMaxRetries(c.cfg.MaxRetries, backoff)

		var respBody []byte
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			b, transient, err := c.doRequest(ctx, path, body)
			if err != nil {
				lastTransient = transient
				if transient {
					return retry.RetryableError(err)
				}
				return err
			}
			lastTransient = false
			respBody = b
			return nil
		})
		return respBody, err
	})
	if err != nil {
		return nil, classifyError(err, lastTransient)
	}
	respBody, _ := result.([]byte)
	return respBody, nil
}

func classifyError(err error, lastTransient bool) error {
	if lastTransient || err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return &retryableError{err: err}
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("calling ad platform: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading ad platform response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, false, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("ad platform transient error: status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("ad platform rejected request: status %d: %s", resp.StatusCode, string(respBody))
	}
}
