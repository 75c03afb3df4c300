package database

import (
	"context"
	"time"
)

// HealthStatus reports database connectivity and pool utilization.
type HealthStatus struct {
	Status            string        `json:"status"`
	ResponseTime      time.Duration `json:"response_time_ns"`
	AcquiredConns     int32         `json:"acquired_conns"`
	IdleConns         int32         `json:"idle_conns"`
	MaxConns          int32         `json:"max_conns"`
	NewConnsCount     int64         `json:"new_conns_count"`
	EmptyAcquireCount int64         `json:"empty_acquire_count"`
}

// Health pings the pool and reports its current statistics.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := c.Pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start),
		}, err
	}

	stats := c.Pool.Stat()

	return &HealthStatus{
		Status:            "healthy",
		ResponseTime:      time.Since(start),
		AcquiredConns:     stats.AcquiredConns(),
		IdleConns:         stats.IdleConns(),
		MaxConns:          stats.MaxConns(),
		NewConnsCount:     stats.NewConnsCount(),
		EmptyAcquireCount: stats.EmptyAcquireCount(),
	}, nil
}
