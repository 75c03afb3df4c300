package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
)

// CreativeClient requests replacement creatives from the upstream
// creative generator, implementing fatigue.CreativeRequester.
type CreativeClient struct {
	httpClient *http.Client
	cfg        Config
	breaker    *gobreaker.CircuitBreaker
}

// NewCreativeClient creates a creative generator client.
func NewCreativeClient(cfg Config) *CreativeClient {
	settings := gobreaker.Settings{
		Name:        "creative-generator",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}
	return &CreativeClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// RequestReplacement asks the creative generator to produce a new
// creative for accountID, conditioned on the account's top-performing
// winner patterns.
func (c *CreativeClient) RequestReplacement(ctx context.Context, accountID string, topWinners []string, reason string) error {
	body, err := json.Marshal(map[string]any{
		"account_id":         accountID,
		"winner_pattern_ids": topWinners,
		"reason":             reason,
	})
	if err != nil {
		return fmt.Errorf("marshaling creative replacement request: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		backoff := retry.NewExponential(c.cfg.RetryBase)
		backoff = retry.WithJitter(c.cfg.RetryBase/2, backoff)
		backoff = retry.WithMaxRetries(c.cfg.MaxRetries, backoff)

		return nil, retry.Do(ctx, backoff, func(ctx context.Context) error {
			_, retryable, err := c.doRequest(ctx, body)
			if err != nil {
				if retryable {
					return retry.RetryableError(err)
				}
				return err
			}
			return nil
		})
	})
	return err
}

func (c *CreativeClient) doRequest(ctx context.Context, body []byte) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/creative/replace", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("calling creative generator: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading creative generator response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, false, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("creative generator transient error: status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("creative generator rejected request: status %d: %s", resp.StatusCode, string(respBody))
	}
}
