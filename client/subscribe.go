package client

import (
	"context"
	"time"

	"instrument-rpc/message"
	"instrument-rpc/rpcerr"
)

// Notification is a server push as handed to callbacks.
type Notification = message.Notification

// Remote methods that manage the server-side subscription list.
const (
	MethodSubscribe   = "subscribeToNotification"
	MethodUnsubscribe = "unsubscribeToNotification"
)

// Subscribe asks the server for name notifications and registers cb for them.
// The dispatcher starts with the first subscription on a live connection.
func (c *Client) Subscribe(ctx context.Context, name string, cb Callback) error {
	if _, err := c.CallRaw(ctx, MethodSubscribe, name); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[name] = cb
	if c.disp == nil && c.conn != nil {
		c.startDispatcherLocked()
	}
	c.logger.Debug().Str("notification", name).Msg("subscribed")
	return nil
}

// Unsubscribe cancels name on the server and drops its callback. Removing the last
// subscription signals the dispatcher to stop; it exits at its next iteration.
func (c *Client) Unsubscribe(ctx context.Context, name string) error {
	if _, err := c.CallRaw(ctx, MethodUnsubscribe, name); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, name)
	if len(c.subs) == 0 {
		c.stopDispatcherLocked()
	}
	c.logger.Debug().Str("notification", name).Msg("unsubscribed")
	return nil
}

// WaitForNotification blocks until any notification arrives and returns it without
// dispatching it to callbacks. A zero deadline waits Options.DefaultWait. The lock is
// released between idle polls, so calls and the dispatcher keep running; whichever
// reader gets a frame first owns it.
func (c *Client) WaitForNotification(ctx context.Context, deadline time.Time) (*Notification, error) {
	if deadline.IsZero() {
		deadline = time.Now().Add(c.opts.DefaultWait)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, &rpcerr.TimeoutError{Method: "waitForNotification", Deadline: deadline}
		}

		c.mu.Lock()
		if c.conn == nil {
			c.mu.Unlock()
			return nil, rpcerr.ErrNotConnected
		}
		slice := time.Now().Add(c.conn.Config().IdleTimeout)
		if slice.After(deadline) {
			slice = deadline
		}
		frame, err := c.conn.ReadFrameBefore(slice, c.opts.WaitStallRetries)
		if err != nil && !rpcerr.IsTimeout(err) {
			c.failLocked(err)
		}
		c.mu.Unlock()

		switch {
		case rpcerr.IsTimeout(err):
			continue
		case err != nil:
			return nil, err
		}

		env, err := message.Parse(frame)
		if err != nil {
			return nil, err
		}
		if env.IsNotification() {
			return env.Notification(), nil
		}
		c.logger.Debug().Bytes("frame", env.Raw).Msg("dropping stray frame")
	}
}
