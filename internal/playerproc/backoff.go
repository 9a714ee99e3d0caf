package playerproc

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff restarts
type ReconnectConfig struct {
	MaxRetries    int           // Maximum number of consecutive restart attempts (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 500ms)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 10 seconds)
}

// DefaultReconnectConfig returns default restart configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    500 * time.Millisecond,
		MaxRetryDelay: 10 * time.Second,
	}
}

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	d := DefaultReconnectConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	return c
}

// retryWithBackoff calls fn until it succeeds, ctx is done or MaxRetries
// consecutive attempts failed. The first attempt waits RetryDelay.
func retryWithBackoff(ctx context.Context, cfg ReconnectConfig, logger *slog.Logger, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if attempt > cfg.MaxRetries {
			return fmt.Errorf("max retries exceeded (%d attempts)", cfg.MaxRetries)
		}

		delay := calculateBackoff(attempt, cfg)
		logger.Warn("restarting player helper",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		logger.Error("player helper restart failed", "attempt", attempt, "error", err)
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
