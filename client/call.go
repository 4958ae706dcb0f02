package client

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"instrument-rpc/message"
	"instrument-rpc/rpcerr"
	"instrument-rpc/transport"
)

// delivery is a notification taken off the stream while the lock was held,
// invoked once the lock is released.
type delivery struct {
	cb Callback
	n  *Notification
}

// Call invokes method and decodes its result into reply (which may be nil).
// A server-side error comes back as *rpcerr.RemoteError.
func (c *Client) Call(ctx context.Context, method string, params any, reply any) error {
	raw, err := c.CallRaw(ctx, method, params)
	if err != nil {
		return err
	}
	if reply == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := c.opts.Codec.Decode(raw, reply); err != nil {
		return &rpcerr.DecodeError{Payload: raw, Err: err}
	}
	return nil
}

// CallRaw invokes method and returns its undecoded result. A null result is returned
// as the JSON literal null.
func (c *Client) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req, err := message.NewRequest(method, params)
	if err != nil {
		return nil, err
	}
	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		ctx = c.logger.WithContext(ctx)
	}

	c.hmu.RLock()
	handler := c.handler
	c.hmu.RUnlock()

	resp, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.Err()
	}
	return resp.Result, nil
}

// exchange is the innermost handler: flush, send, then wait for the next frame.
func (c *Client) exchange(ctx context.Context, req *message.Request) (*message.Response, error) {
	c.mu.Lock()
	resp, pending, err := c.exchangeLocked(ctx, req)
	c.mu.Unlock()

	c.deliver(pending)
	return resp, err
}

func (c *Client) exchangeLocked(ctx context.Context, req *message.Request) (*message.Response, []delivery, error) {
	if c.conn == nil {
		return nil, nil, rpcerr.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	pending, err := c.flushLocked()
	if err != nil {
		return nil, pending, err
	}

	payload, err := c.opts.Codec.Encode(req)
	if err != nil {
		return nil, pending, err
	}
	if err := c.conn.WriteFrame(payload); err != nil {
		c.failLocked(err)
		return nil, pending, err
	}

	// The next frame is taken as the response: nothing else was buffered when the
	// request went out, and only one request is ever in flight.
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		frame, err := c.conn.TryReadFrame()
		switch {
		case err == nil:
			resp, err := decodeResponse(frame)
			return resp, pending, err
		case errors.Is(err, transport.ErrIdle):
			if err := ctx.Err(); err != nil {
				return nil, pending, err
			}
		default:
			c.failLocked(err)
			return nil, pending, err
		}
	}
	return nil, pending, &rpcerr.TimeoutError{Method: req.Method, Attempts: c.opts.MaxAttempts}
}

// flushLocked drains frames that are already on the wire and queues them as
// notifications. Malformed data ends the flush and invalidates the subscription
// table; only a transport failure aborts the call.
func (c *Client) flushLocked() ([]delivery, error) {
	var pending []delivery
	for {
		frame, err := c.conn.TryReadFrame()
		if errors.Is(err, transport.ErrIdle) {
			return pending, nil
		}
		var fe *rpcerr.FramingError
		if errors.As(err, &fe) {
			c.logger.Warn().Err(err).Msg("flush hit malformed data")
			c.clearSubscriptionsLocked()
			return pending, nil
		}
		if err != nil {
			c.failLocked(err)
			return pending, err
		}

		env, err := message.Parse(frame)
		if err != nil {
			c.logger.Warn().Err(err).Msg("flush hit undecodable frame")
			c.clearSubscriptionsLocked()
			return pending, nil
		}
		if d, ok := c.routeLocked(env); ok {
			pending = append(pending, d)
		}
	}
}

// routeLocked looks up the callback for a notification envelope. Frames that are not
// notifications, and notifications nobody subscribed to, are dropped.
func (c *Client) routeLocked(env *message.Envelope) (delivery, bool) {
	if !env.IsNotification() {
		c.logger.Debug().Bytes("frame", env.Raw).Msg("dropping stray frame")
		return delivery{}, false
	}
	cb, ok := c.subs[env.Method]
	if !ok || cb == nil {
		c.logger.Debug().Str("notification", env.Method).Msg("no handler for notification")
		return delivery{}, false
	}
	return delivery{cb: cb, n: env.Notification()}, true
}

// failLocked applies the connection-loss policy for an error seen mid-call.
func (c *Client) failLocked(err error) {
	var fe *rpcerr.FramingError
	switch {
	case errors.As(err, &fe):
		c.logger.Warn().Err(err).Msg("framing error, subscriptions invalidated")
		c.clearSubscriptionsLocked()
	case rpcerr.CategoryOf(err) == rpcerr.CategoryTransport:
		c.logger.Error().Err(err).Msg("transport error, connection dropped")
		c.teardownLocked()
	}
}

// decodeResponse turns the frame that followed a request into a response. A
// frame with neither result nor error, such as a notification that slipped in after
// the flush, is handed back whole as the result.
func decodeResponse(frame []byte) (*message.Response, error) {
	env, err := message.Parse(frame)
	if err != nil {
		return nil, err
	}
	resp := env.Response()
	if !env.IsResponse() {
		resp.Result = json.RawMessage(env.Raw)
	}
	return resp, nil
}

func (c *Client) deliver(pending []delivery) {
	for _, d := range pending {
		c.invoke(d.cb, d.n)
	}
}

// invoke runs one callback; a panic is logged and never reaches the caller.
func (c *Client) invoke(cb Callback, n *Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("notification", n.Method).Interface("panic", r).Msg("notification callback panicked")
		}
	}()
	cb(n)
}
