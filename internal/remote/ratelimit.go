package remote

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// RateLimitedExecutor paces the commands sent through another executor.
// sshd drops new connections past MaxStartups, and every command opens one.
type RateLimitedExecutor struct {
	next    Executor
	host    string
	limiter *rate.Limiter
}

// NewRateLimitedExecutor allows perSecond commands on average with bursts of
// up to ceil(perSecond), at least one.
func NewRateLimitedExecutor(next Executor, host string, perSecond float64) *RateLimitedExecutor {
	burst := int(math.Ceil(perSecond))
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedExecutor{
		next:    next,
		host:    host,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Run waits for a slot, then runs command. A context that ends first is
// reported as a connection timeout.
func (r *RateLimitedExecutor) Run(ctx context.Context, command string) (*Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &ConnectionError{Kind: ConnectionTimeout, Host: r.host, Err: err}
	}
	return r.next.Run(ctx, command)
}
