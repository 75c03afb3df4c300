package config

import "time"

// ExecutorConfig contains queue and worker pool configuration for the Safe
// Executor. These values control how pending ad changes are polled,
// claimed, and retried.
type ExecutorConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and claims pending changes.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking pending changes.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// ClaimTimeout is how long a worker holds a claim before it must
	// either apply the change or the claim is considered abandoned.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`

	// MaxAttempts is how many delivery attempts a change gets in total;
	// after that many retryable failures it is moved to the dead status.
	MaxAttempts int `yaml:"max_attempts"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// claims to finish applying during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often the orphan sweep scans for
	// changes whose claim deadline has elapsed.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`
}

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      250 * time.Millisecond,
		ClaimTimeout:            2 * time.Minute,
		MaxAttempts:             5,
		GracefulShutdownTimeout: 30 * time.Second,
		OrphanDetectionInterval: 1 * time.Minute,
	}
}
