package resilience

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("resilience: rate limited")

// LimiterOpts configures a Limiter.
type LimiterOpts struct {
	// Rate is tokens per second. Zero or negative means unlimited.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// Limiter is a token bucket backed by golang.org/x/time/rate.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter creates a limiter. The bucket starts full.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Limit(opts.Rate)
	if opts.Rate <= 0 {
		limit = rate.Inf
	}
	return &Limiter{rl: rate.NewLimiter(limit, opts.Burst)}
}

// Allow reports whether a token was taken without blocking.
func (l *Limiter) Allow() bool { return l.rl.Allow() }

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.rl.Wait(ctx); err != nil {
		return errors.Join(ErrRateLimited, err)
	}
	return nil
}

// Call runs f if a token is available and returns ErrRateLimited otherwise.
func (l *Limiter) Call(ctx context.Context, f func(context.Context) error) error {
	if !l.Allow() {
		return ErrRateLimited
	}
	return f(ctx)
}

// CallWait waits for a token, then runs f.
func (l *Limiter) CallWait(ctx context.Context, f func(context.Context) error) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return f(ctx)
}
