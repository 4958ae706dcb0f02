package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"instrument-rpc/message"
	"instrument-rpc/rpcerr"
)

// RetryMiddleware re-issues a request that ended in a *rpcerr.TimeoutError, with
// exponential backoff starting at baseDelay. Every other outcome is final: remote
// errors are answers, and transport or framing errors have already torn down state.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !rpcerr.IsTimeout(err) {
					return resp, err
				}
				zerolog.Ctx(ctx).Warn().Err(err).Str("method", req.Method).Int("attempt", i+1).Msg("retrying rpc call")

				t := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					t.Stop()
					return nil, ctx.Err()
				case <-t.C:
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}
