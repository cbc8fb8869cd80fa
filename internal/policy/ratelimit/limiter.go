// Package ratelimit implements a token bucket throttle for per-model run admission.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/epiworldlab/epirunner/internal/metrics"
)

// Limiter manages per-model rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the given model, respecting the context.
func (l *Limiter) Wait(ctx context.Context, modelID string) error {
	if modelID == "" {
		modelID = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[modelID]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[modelID] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	err := limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// A sub-millisecond wait means the token was already available.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveThrottleDelay(modelID, duration)
	}
	return nil
}

// AllowRun reports whether a run may be admitted immediately without waiting.
func (l *Limiter) AllowRun(_ string, modelID string) bool {
	if modelID == "" {
		modelID = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[modelID]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[modelID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
