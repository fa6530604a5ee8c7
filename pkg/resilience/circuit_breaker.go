package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is rejecting requests.
var ErrCircuitOpen = errors.New("circuit open")

// RateLimitError is a 429 style rejection. RetryAfter is zero when the
// service did not say.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after threshold consecutive rate limits and stays
// open for the cooldown, or for the service's Retry-After when longer. Once
// the window passes a single probe is let through; its outcome closes or
// reopens the breaker.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	// probeUntil bounds a probe whose outcome is never reported.
	probeUntil time.Time
	now        func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	switch c.state {
	case BreakerOpen:
		if now.Before(c.openUntil) {
			return false
		}
		c.state = BreakerHalfOpen
		c.probeUntil = now.Add(c.cooldown)
		return true
	case BreakerHalfOpen:
		if now.Before(c.probeUntil) {
			return false
		}
		c.probeUntil = now.Add(c.cooldown)
		return true
	default:
		return true
	}
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.state = BreakerClosed
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

// OnError counts rate limits. Other errors only end a pending probe.
func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rl RateLimitError
	if !errors.As(err, &rl) {
		if c.state == BreakerHalfOpen {
			c.probeUntil = time.Time{}
		}
		return
	}
	c.failures++
	if c.state == BreakerHalfOpen || c.failures >= c.threshold {
		wait := c.cooldown
		if rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		c.state = BreakerOpen
		c.openUntil = c.now().Add(wait)
	}
}
