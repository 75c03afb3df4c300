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

// EmbeddingClient turns an ad snapshot's creative/performance text into a
// fixed-length vector for the winner pattern index's similarity search.
type EmbeddingClient struct {
	httpClient *http.Client
	cfg        Config
	breaker    *gobreaker.CircuitBreaker
}

// NewEmbeddingClient creates an embedding client.
func NewEmbeddingClient(cfg Config) *EmbeddingClient {
	settings := gobreaker.Settings{
		Name:        "embedding-service",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}
	return &EmbeddingClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Embed returns the embedding vector for text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"input": text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		backoff := retry.NewExponential(c.cfg.RetryBase)
		backoff = retry.WithJitter(c.cfg.RetryBase/2, backoff)
		backoff = retry.WithMaxRetries(c.cfg.MaxRetries, backoff)

		var vec []float32
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			respBody, retryable, err := c.doRequest(ctx, body)
			if err != nil {
				if retryable {
					return retry.RetryableError(err)
				}
				return err
			}
			var parsed struct {
				Embedding []float32 `json:"embedding"`
			}
			if err := json.Unmarshal(respBody, &parsed); err != nil {
				return fmt.Errorf("decoding embedding response: %w", err)
			}
			vec = parsed.Embedding
			return nil
		})
		return vec, err
	})
	if err != nil {
		return nil, err
	}
	vec, _ := result.([]float32)
	return vec, nil
}

func (c *EmbeddingClient) doRequest(ctx context.Context, body []byte) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/embed", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("calling embedding service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading embedding response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, false, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("embedding service transient error: status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("embedding service rejected request: status %d: %s", resp.StatusCode, string(respBody))
	}
}
