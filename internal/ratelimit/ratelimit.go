package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter admits new connections per source key (usually the remote IP)
// and optionally in total. A zero rate disables that layer.
type Limiter struct {
	mu        sync.Mutex
	global    *rate.Limiter
	perSource map[string]*limiterEntry
	rate      rate.Limit
	burst     int
}

// New creates a limiter. globalRate and perSourceRate are connections per
// second; burst applies to both layers.
func New(globalRate, perSourceRate float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		perSource: make(map[string]*limiterEntry),
		rate:      rate.Limit(perSourceRate),
		burst:     burst,
	}
	if globalRate > 0 {
		l.global = rate.NewLimiter(rate.Limit(globalRate), burst)
	}
	return l
}

// Enabled reports whether any limit is configured.
func (l *Limiter) Enabled() bool {
	return l != nil && (l.global != nil || l.rate > 0)
}

// Allow reports whether a connection from source may proceed and consumes a token if so.
func (l *Limiter) Allow(source string) bool {
	if !l.Enabled() {
		return true
	}
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	e, ok := l.perSource[source]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.perSource[source] = e
	}
	e.lastAccess = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Cleanup drops per-source limiters unused for longer than ttl and returns how many were removed.
func (l *Limiter) Cleanup(ttl time.Duration) int {
	if l == nil {
		return 0
	}
	cutoff := time.Now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for source, e := range l.perSource {
		if e.lastAccess.Before(cutoff) {
			delete(l.perSource, source)
			removed++
		}
	}
	return removed
}
