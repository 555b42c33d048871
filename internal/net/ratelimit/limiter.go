// Package ratelimit paces outbound requests per venue with token buckets.
// Every adapter call waits on its venue's bucket before touching the wire.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Manager holds one token bucket per venue. Venues not explicitly
// configured get the default rate on first use.
type Manager struct {
	mu           sync.RWMutex
	limiters     map[string]*rate.Limiter
	defaultRPS   float64
	defaultBurst int
}

// NewManager builds a manager with a default requests-per-second and burst
// applied to venues without their own configuration.
func NewManager(defaultRPS float64, defaultBurst int) *Manager {
	return &Manager{
		limiters:     make(map[string]*rate.Limiter),
		defaultRPS:   defaultRPS,
		defaultBurst: defaultBurst,
	}
}

// Configure sets a venue-specific rate, replacing any existing bucket.
func (m *Manager) Configure(venue string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[venue] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (m *Manager) limiter(venue string) *rate.Limiter {
	m.mu.RLock()
	l, ok := m.limiters[venue]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[venue]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(m.defaultRPS), m.defaultBurst)
	m.limiters[venue] = l
	return l
}

// Wait blocks until the venue's bucket releases a token or ctx is done.
func (m *Manager) Wait(ctx context.Context, venue string) error {
	return m.limiter(venue).Wait(ctx)
}

// Allow reports whether a request could proceed right now without waiting.
func (m *Manager) Allow(venue string) bool {
	return m.limiter(venue).Allow()
}

// Tokens returns the venue bucket's currently available tokens.
func (m *Manager) Tokens(venue string) float64 {
	return m.limiter(venue).Tokens()
}
