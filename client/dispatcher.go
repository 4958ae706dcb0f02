package client

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"instrument-rpc/message"
	"instrument-rpc/transport"
)

// dispatcher is the handle of the background notification loop.
type dispatcher struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
	// inCallback is set while the loop runs a callback; Close must not wait on done then.
	inCallback atomic.Bool
}

func (d *dispatcher) signal() {
	d.once.Do(func() { close(d.stop) })
}

// startDispatcherLocked launches the loop. Caller holds c.mu and has checked c.disp == nil.
func (c *Client) startDispatcherLocked() {
	d := &dispatcher{stop: make(chan struct{}), done: make(chan struct{})}
	c.disp = d
	go c.dispatch(d)
	c.logger.Debug().Msg("dispatcher started")
}

// stopDispatcherLocked signals the loop and forgets it. Caller holds c.mu.
func (c *Client) stopDispatcherLocked() *dispatcher {
	d := c.disp
	if d != nil {
		d.signal()
		c.disp = nil
	}
	return d
}

func (c *Client) dispatch(d *dispatcher) {
	defer func() {
		c.logger.Debug().Msg("dispatcher stopped")
		close(d.done)
	}()

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		c.mu.Lock()
		if c.disp != d || c.conn == nil {
			c.mu.Unlock()
			return
		}
		frame, err := c.conn.TryReadFrame()
		if errors.Is(err, transport.ErrIdle) {
			c.mu.Unlock()
			if !d.sleep(c.opts.PollInterval) {
				return
			}
			continue
		}
		if err != nil {
			// Only the loop stops; the next Subscribe restarts it.
			c.logger.Error().Err(err).Msg("dispatcher read failed")
			c.disp = nil
			c.mu.Unlock()
			return
		}

		env, err := message.Parse(frame)
		if err != nil {
			c.mu.Unlock()
			c.logger.Warn().Err(err).Msg("dispatcher skipped undecodable frame")
			continue
		}
		dl, ok := c.routeLocked(env)
		c.mu.Unlock()

		if ok {
			d.inCallback.Store(true)
			c.invoke(dl.cb, dl.n)
			d.inCallback.Store(false)
		}
	}
}

// sleep waits for interval and reports false when stop was signalled first.
func (d *dispatcher) sleep(interval time.Duration) bool {
	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-d.stop:
		return false
	case <-t.C:
		return true
	}
}
