// internal/errors/retry.go
package errors

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultRetryConfig returns the backoff used for egress selection.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      10 * time.Second,
	}
}

// Retryer runs operations with exponential backoff.
type Retryer struct {
	config    RetryConfig
	retryable func(error) bool
}

// NewRetryer creates a retryer; zero fields in config take defaults.
func NewRetryer(config RetryConfig) *Retryer {
	def := DefaultRetryConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = def.BaseDelay
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = def.BackoffFactor
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	return &Retryer{config: config, retryable: IsRetryable}
}

// WithClassifier overrides which errors are retried.
func (r *Retryer) WithClassifier(fn func(error) bool) *Retryer {
	r.retryable = fn
	return r
}

// Do executes operation until it succeeds, returns a non-retryable error,
// exhausts MaxRetries or ctx is done.
func (r *Retryer) Do(ctx context.Context, operationName string, operation func(ctx context.Context) error) error {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempts++
		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= r.config.MaxRetries || !r.retryable(err) {
			break
		}

		timer := time.NewTimer(r.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operationName, attempts, lastErr)
}

// Delay returns the backoff before retry number attempt+1.
func (r *Retryer) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(r.config.BaseDelay) * math.Pow(r.config.BackoffFactor, float64(attempt)))
	if delay > r.config.MaxDelay || delay <= 0 {
		delay = r.config.MaxDelay
	}
	return delay
}
