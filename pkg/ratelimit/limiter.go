package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter names of the outbound services
const (
	LimiterYouTube   = "youtube"
	LimiterAnthropic = "anthropic"
	LimiterFeed      = "feed"
	LimiterSheets    = "sheets"
)

// MultiLimiter manages multiple rate limiters for different services
type MultiLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewMultiLimiter creates a new multi-limiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// AddLimiter sets the limiter of a service, replacing any previous one
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// SetPerMinute sets the limiter of a service from a per-minute budget
func (m *MultiLimiter) SetPerMinute(name string, perMinute, burst int) {
	m.AddLimiter(name, float64(perMinute)/60, burst)
}

func (m *MultiLimiter) get(name string) (*rate.Limiter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limiter, ok := m.limiters[name]
	if !ok {
		return nil, fmt.Errorf("limiter %s not found", name)
	}
	return limiter, nil
}

// Wait blocks until the limiter allows an event or ctx is done
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	limiter, err := m.get(name)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

// Allow reports whether an event may happen now. Unknown services are never allowed.
func (m *MultiLimiter) Allow(name string) bool {
	limiter, err := m.get(name)
	if err != nil {
		return false
	}
	return limiter.Allow()
}

// Has reports whether a limiter is registered for the service
func (m *MultiLimiter) Has(name string) bool {
	_, err := m.get(name)
	return err == nil
}

// NewDefaultLimiter creates a limiter with default rate limits
func NewDefaultLimiter() *MultiLimiter {
	m := NewMultiLimiter()

	// YouTube Data API: an upload costs 1600 of 10k daily units
	m.AddLimiter(LimiterYouTube, 1, 3)

	m.SetPerMinute(LimiterAnthropic, 10, 2)

	// Channel feeds are public, 1 per second
	m.AddLimiter(LimiterFeed, 1, 10)

	// Sheets: 60 writes per minute per user
	m.SetPerMinute(LimiterSheets, 60, 5)

	return m
}
