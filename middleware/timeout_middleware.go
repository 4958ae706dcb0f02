package middleware

import (
	"context"
	"time"

	"instrument-rpc/message"
	"instrument-rpc/rpcerr"
)

// TimeOutMiddleware bounds a request by wall-clock time. The inner handler keeps its
// cancelled context and is expected to notice it at its next attempt boundary.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp *message.Response
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				deadline, _ := ctx.Deadline()
				return nil, &rpcerr.TimeoutError{Method: req.Method, Deadline: deadline}
			}
		}
	}
}
