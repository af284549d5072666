package ai

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/teranos/tally/errors"
)

// ErrRateLimited means the limiter could not grant a slot before the
// call deadline
var ErrRateLimited = errors.New("ai request rate exceeded")

// RateLimited throttles a Generator to a number of requests per minute
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimited wraps next. requestsPerMinute <= 0 means unlimited.
func NewRateLimited(next Generator, requestsPerMinute float64) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(perMinute(requestsPerMinute), 1),
	}
}

// SetRate changes the limit without dropping waiters
func (r *RateLimited) SetRate(requestsPerMinute float64) {
	r.limiter.SetLimit(perMinute(requestsPerMinute))
}

// Limit reports the current limit in requests per minute, 0 if unlimited
func (r *RateLimited) Limit() float64 {
	l := r.limiter.Limit()
	if l == rate.Inf {
		return 0
	}
	return float64(l) * 60
}

func (r *RateLimited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", errors.Mark(errors.Wrap(err, "waiting for ai rate limiter"), ErrRateLimited)
	}
	return r.next.Generate(ctx, prompt)
}

func (r *RateLimited) Provider() string { return r.next.Provider() }
func (r *RateLimited) Model() string    { return r.next.Model() }

func perMinute(n float64) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(n / 60)
}
