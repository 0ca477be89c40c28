// Package ratelimit provides per-key token bucket rate limiting for the brain's
// MCP tools.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/clock"
)

// Tool names with a configured limit.
const (
	ToolStatus       = "brain_status"
	ToolPublishEvent = "brain_publish_event"
	ToolRequestSpark = "brain_request_spark"
	ToolTriggers     = "brain_triggers"
	ToolHistory      = "brain_history"
)

// Limiter implements a per-key token bucket rate limiter.
// Each key gets its own bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max burst size (also initial token count)
	clock   clock.Clock
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst
// size, reading the system clock. The burst size also serves as the initial
// number of tokens available.
func NewLimiter(rate float64, burst int) *Limiter {
	return NewLimiterWithClock(rate, burst, clock.System())
}

// NewLimiterWithClock is NewLimiter with an explicit clock.
func NewLimiterWithClock(rate float64, burst int, c clock.Clock) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		clock:   c,
	}
}

// Allow checks if a request for the given key should be allowed.
// Returns true if allowed, false if rate limited.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	b, ok := l.buckets[key]
	if !ok {
		// First request for this key: start with full burst
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens = min(b.tokens+l.rate*elapsed, float64(l.burst))
		b.lastCheck = now
	}

	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates the default set of per-tool rate limiters. Reads
// are generous; anything that changes what the robot does is tighter.
func NewToolLimiters(c clock.Clock) ToolLimiters {
	if c == nil {
		c = clock.System()
	}
	return ToolLimiters{
		ToolStatus:       NewLimiterWithClock(5.0, 20, c),      // 300/minute, burst 20
		ToolTriggers:     NewLimiterWithClock(1.0, 10, c),      // 60/minute, burst 10
		ToolHistory:      NewLimiterWithClock(30.0/60.0, 5, c), // 30/minute, burst 5
		ToolPublishEvent: NewLimiterWithClock(2.0, 10, c),      // 120/minute, burst 10
		ToolRequestSpark: NewLimiterWithClock(10.0/60.0, 2, c), // 10/minute, burst 2
	}
}

// ErrRateLimited is wrapped by CheckLimit when a tool's bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// CheckLimit takes a token for toolName. Tools without a limiter always pass.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if !limiter.Allow(toolName) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrRateLimited, toolName)
	}
	return nil
}
