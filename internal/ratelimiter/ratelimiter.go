package ratelimiter

import (
	"golang.org/x/time/rate"
)

// RateLimiter throttles the commands of one client connection using a token
// bucket: tokens are added at RequestsPerSecond and each command takes one.
// Up to Burst commands can run back to back before the limit applies.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond commands sustained and
// burst commands at once.
//
// A requestsPerSecond of 0 disables limiting. A burst of 0 is raised to 1 so
// that a limited connection can still make progress.
//
// Example:
//
//	// 50 commands/s, bursts of up to 100
//	limiter := New(50, 100)
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available and reports whether it did.
// It never blocks; the line adapter rejects the command when it returns false.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Tokens returns the number of commands that could run right now.
// The line adapter logs it when it rejects a command.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
