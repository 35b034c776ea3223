package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/contagion/internal/constants"
)

// fixedClock returns a clock pinned to start and a function that advances it.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	get := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
	return get, advance
}

func TestAllow_Burst(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		burst   int
		allowed int
	}{
		{"burst of three", 1.0, 3, 3},
		{"burst of one", 1.0, 1, 1},
		{"zero rate still gets burst", 0.0, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now, _ := fixedClock(time.Unix(1000, 0))
			l := NewLimiter(tt.rate, tt.burst)
			l.SetClock(now)

			got := 0
			for i := 0; i < tt.burst+3; i++ {
				if l.Allow("s1") {
					got++
				}
			}
			if got != tt.allowed {
				t.Errorf("allowed %d, want %d", got, tt.allowed)
			}
		})
	}
}

func TestAllow_Refill(t *testing.T) {
	now, advance := fixedClock(time.Unix(1000, 0))
	l := NewLimiter(10.0, 2)
	l.SetClock(now)

	l.Allow("s1")
	l.Allow("s1")
	if l.Allow("s1") {
		t.Fatal("expected rejection after burst")
	}

	// 10 tokens/sec for 150ms refills 1.5 tokens
	advance(150 * time.Millisecond)
	if !l.Allow("s1") {
		t.Fatal("expected allow after refill")
	}
	if l.Allow("s1") {
		t.Error("only half a token should remain")
	}
}

func TestAllow_RefillCappedAtBurst(t *testing.T) {
	now, advance := fixedClock(time.Unix(1000, 0))
	l := NewLimiter(100.0, 3)
	l.SetClock(now)

	for i := 0; i < 3; i++ {
		l.Allow("s1")
	}
	advance(time.Minute)

	if got := l.Tokens("s1"); got != 3 {
		t.Errorf("Tokens = %v, want 3", got)
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := NewLimiter(0, 1)

	if !l.Allow("alpha") {
		t.Fatal("alpha first request should pass")
	}
	if l.Allow("alpha") {
		t.Error("alpha should be exhausted")
	}
	if !l.Allow("beta") {
		t.Error("beta has its own bucket")
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want 2", l.Len())
	}
}

func TestForget(t *testing.T) {
	l := NewLimiter(0, 1)
	l.Allow("alpha")
	if l.Allow("alpha") {
		t.Fatal("alpha should be exhausted")
	}

	l.Forget("alpha")
	if l.Len() != 0 {
		t.Errorf("Len after Forget = %d, want 0", l.Len())
	}
	if !l.Allow("alpha") {
		t.Error("forgotten key should start with a full burst")
	}
}

func TestAllow_ConcurrentAccess(t *testing.T) {
	now, _ := fixedClock(time.Unix(1000, 0))
	l := NewLimiter(1000.0, 100)
	l.SetClock(now)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// the clock is frozen so nothing refills
	if allowed != 100 {
		t.Errorf("allowed %d requests, want exactly 100", allowed)
	}
}

func TestNewToolLimiters(t *testing.T) {
	limiters := NewToolLimiters()

	tests := []struct {
		tool  string
		burst int
	}{
		{constants.ToolInject, 40},
		{constants.ToolRegister, 5},
		{constants.ToolDeregister, 5},
		{constants.ToolDiagnostics, 10},
		{constants.ToolEffects, 10},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			limiter, ok := limiters[tt.tool]
			if !ok {
				t.Fatalf("missing rate limiter for %s", tt.tool)
			}
			if limiter.burst != tt.burst {
				t.Errorf("burst = %d, want %d", limiter.burst, tt.burst)
			}
		})
	}
}

func TestCheckLimit(t *testing.T) {
	now, _ := fixedClock(time.Unix(1000, 0))
	limiters := ToolLimiters{
		constants.ToolInject:   NewLimiter(0, 1),
		constants.ToolRegister: NewLimiter(0, 1),
	}
	limiters.SetClock(now)

	if err := CheckLimit(limiters, "unknown_tool", ""); err != nil {
		t.Errorf("unlimited tool returned %v", err)
	}

	// per-session keys
	if err := CheckLimit(limiters, constants.ToolInject, "alpha"); err != nil {
		t.Fatalf("first alpha inject: %v", err)
	}
	if err := CheckLimit(limiters, constants.ToolInject, "beta"); err != nil {
		t.Fatalf("beta should not share alpha's bucket: %v", err)
	}
	err := CheckLimit(limiters, constants.ToolInject, "alpha")
	if !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}
	if !strings.Contains(err.Error(), constants.ToolInject) {
		t.Errorf("error should name the tool: %v", err)
	}

	// empty key falls back to the tool name
	if err := CheckLimit(limiters, constants.ToolRegister, ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := CheckLimit(limiters, constants.ToolRegister, ""); !errors.Is(err, ErrLimited) {
		t.Errorf("expected ErrLimited on second register, got %v", err)
	}
}
