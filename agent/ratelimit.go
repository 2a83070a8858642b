package agent

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedResolver wraps a Resolver with a token-bucket limiter so bursts
// of graph builds cannot overwhelm a remote agent registry. Resolve blocks
// until a token is available or the context is cancelled.
type RateLimitedResolver struct {
	inner   Resolver
	limiter *rate.Limiter
}

var _ Resolver = (*RateLimitedResolver)(nil)

// NewRateLimitedResolver wraps inner, allowing rps resolutions per second
// with the given burst.
func NewRateLimitedResolver(inner Resolver, rps float64, burst int) *RateLimitedResolver {
	return &RateLimitedResolver{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Resolve implements Resolver.
func (r *RateLimitedResolver) Resolve(ctx context.Context, name string) (Agent, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for resolver slot: %w", err)
	}
	return r.inner.Resolve(ctx, name)
}
