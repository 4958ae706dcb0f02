package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"instrument-rpc/message"
	"instrument-rpc/rpcerr"
)

// LoggingMiddleware logs every request with its duration. Remote errors are logged
// at warn level, everything else that failed at error level.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			logErr := err
			if logErr == nil && resp != nil && resp.Error != nil {
				logErr = resp.Error.Err()
			}
			switch cat := rpcerr.CategoryOf(logErr); {
			case logErr == nil:
				logger.Debug().Str("method", req.Method).Dur("duration", duration).Msg("rpc call")
			case cat == rpcerr.CategoryRemote:
				logger.Warn().Err(logErr).Str("method", req.Method).Dur("duration", duration).Msg("rpc call returned error")
			default:
				logger.Error().Err(logErr).Str("method", req.Method).Str("category", string(cat)).Dur("duration", duration).Msg("rpc call failed")
			}
			return resp, err
		}
	}
}
