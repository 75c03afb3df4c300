package config

import "time"

// PlatformConfig holds the outbound HTTP client settings for the ad
// platform, the embedding service, and the creative generator. Each
// client gets its own base URL and API key since they are independent
// upstream systems, but share the same timeout/retry shape.
type PlatformConfig struct {
	AdPlatformBaseURL string `yaml:"ad_platform_base_url"`
	AdPlatformAPIKey  string `yaml:"ad_platform_api_key"`

	EmbeddingBaseURL string `yaml:"embedding_base_url"`
	EmbeddingAPIKey  string `yaml:"embedding_api_key"`

	CreativeBaseURL string `yaml:"creative_base_url"`
	CreativeAPIKey  string `yaml:"creative_api_key"`

	// RequestTimeout bounds a single HTTP round trip to any of the three
	// upstreams.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is how many times a transient failure (5xx, 429,
	// network error) is retried with exponential backoff before giving
	// up and letting the caller decide (requeue, dead-letter).
	MaxRetries uint64 `yaml:"max_retries"`

	// RetryBaseDelay is the base delay used to compute exponential
	// backoff between retries.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// DefaultPlatformConfig returns the built-in outbound client defaults.
func DefaultPlatformConfig() *PlatformConfig {
	return &PlatformConfig{
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 200 * time.Millisecond,
	}
}
