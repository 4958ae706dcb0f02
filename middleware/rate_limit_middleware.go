package middleware

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"instrument-rpc/message"
)

// ErrRateLimited is returned when a request is rejected by RateLimitMiddleware.
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware rejects requests beyond a token bucket of r per second with burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if !limiter.Allow() {
				return nil, fmt.Errorf("%s: %w", req.Method, ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}

// RateLimitWaitMiddleware delays requests instead of rejecting them. Waiting is
// bounded by ctx.
func RateLimitWaitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%s: rate limit wait: %w", req.Method, err)
			}
			return next(ctx, req)
		}
	}
}
