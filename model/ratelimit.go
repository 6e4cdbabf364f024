package model

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a wrapped ChatService. Waiting honours ctx.
type RateLimited struct {
	next    ChatService
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket of rps requests per second and
// the given burst. rps <= 0 disables limiting.
func NewRateLimited(next ChatService, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Send implements ChatService.
func (r *RateLimited) Send(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return r.next.Send(ctx, req)
}
