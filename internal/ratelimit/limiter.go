// Package ratelimit provides per-key token bucket rate limiting for the MCP tools.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nvandessel/contagion/internal/constants"
)

// ErrLimited is returned by CheckLimit when a bucket is empty.
var ErrLimited = errors.New("rate limit exceeded")

// Limiter implements a per-key token bucket rate limiter.
// Each key gets its own bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64          // tokens per second
	burst   int              // max burst size (also initial token count)
	nowFunc func() time.Time // injectable clock for testing
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
// The burst size also serves as the initial number of tokens available.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// SetClock replaces the time source.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = now
}

// refill returns the bucket for key topped up to now. Caller holds l.mu.
func (l *Limiter) refill(key string) *bucket {
	now := l.nowFunc()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens = min(b.tokens+l.rate*elapsed, float64(l.burst))
		b.lastCheck = now
	}
	return b
}

// Allow reports whether a request for key may proceed, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the tokens currently available to key.
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refill(key).tokens
}

// Forget drops the bucket for key. A later request starts with a full burst.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates the default set of per-tool rate limiters.
// contagion_inject is keyed per session so one noisy session cannot starve
// the others; the remaining tools share a single bucket each.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		constants.ToolInject:      NewLimiter(20.0, 40),     // 1200/minute per session, burst 40
		constants.ToolRegister:    NewLimiter(30.0/60.0, 5), // 30/minute, burst 5
		constants.ToolDeregister:  NewLimiter(30.0/60.0, 5), // 30/minute, burst 5
		constants.ToolDiagnostics: NewLimiter(1.0, 10),      // 60/minute, burst 10
		constants.ToolEffects:     NewLimiter(2.0, 10),      // 120/minute, burst 10
	}
}

// SetClock replaces the time source on every limiter.
func (tl ToolLimiters) SetClock(now func() time.Time) {
	for _, l := range tl {
		l.SetClock(now)
	}
}

// CheckLimit checks the rate limit for toolName. key scopes the bucket; an
// empty key uses the tool name itself. Tools without a configured limiter are
// always allowed.
func CheckLimit(limiters ToolLimiters, toolName, key string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if key == "" {
		key = toolName
	}
	if !limiter.Allow(key) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrLimited, toolName)
	}
	return nil
}
