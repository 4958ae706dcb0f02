// Package transport owns the single TCP connection to the instrument server.
//
// Conn is not safe for concurrent reads or writes; the client serialises every
// framing operation behind its own lock. Close may be called from any goroutine.
//
// Two read modes exist on top of the netstring codec:
//
//	TryReadFrame      one poll. The header is peeked under IdleTimeout; nothing
//	                  buffered yet → ErrIdle and the stream is untouched.
//	ReadFrameBefore   blocking. Waits for a frame to begin until a deadline, then
//	                  tolerates a bounded number of stalls inside the frame.
package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"instrument-rpc/protocol"
	"instrument-rpc/rpcerr"
)

// ErrIdle reports that no frame was available within the idle timeout.
// It is a normal poll outcome, not a failure.
var ErrIdle = errors.New("transport: idle")

// Config holds connection timeouts and buffer sizes.
type Config struct {
	DialTimeout    time.Duration
	IdleTimeout    time.Duration // how long one poll waits for a frame to start
	FrameTimeout   time.Duration // budget for the rest of a frame once it started
	WriteTimeout   time.Duration
	ReadBufferSize int
	KeepAlive      time.Duration
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:    5 * time.Second,
		IdleTimeout:    100 * time.Millisecond,
		FrameTimeout:   5 * time.Second,
		WriteTimeout:   5 * time.Second,
		ReadBufferSize: 64 * 1024,
		KeepAlive:      30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = d.FrameTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadBufferSize < protocol.MaxHeaderLen {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = d.KeepAlive
	}
	return c
}

// Conn is one established connection.
type Conn struct {
	addr   string
	cfg    Config
	nc     net.Conn
	r      *bufio.Reader
	closed atomic.Bool
	once   sync.Once
}

// Dial connects to addr. Failures, including a dial timeout, are *rpcerr.ConnectionError.
func Dial(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	d := net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &rpcerr.ConnectionError{Addr: addr, Err: err}
	}
	return NewConn(nc, cfg), nil
}

// NewConn wraps an accepted or pre-dialled connection.
func NewConn(nc net.Conn, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		addr: nc.RemoteAddr().String(),
		cfg:  cfg,
		nc:   nc,
		r:    bufio.NewReaderSize(nc, cfg.ReadBufferSize),
	}
}

func (c *Conn) Addr() string { return c.addr }

func (c *Conn) Config() Config { return c.cfg }

func (c *Conn) Connected() bool { return !c.closed.Load() }

// Close closes the socket. A second Close returns rpcerr.ErrNotConnected.
func (c *Conn) Close() error {
	err := rpcerr.ErrNotConnected
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.nc.Close()
	})
	return err
}

// WriteFrame sends one frame under WriteTimeout.
func (c *Conn) WriteFrame(payload []byte) error {
	if c.closed.Load() {
		return rpcerr.ErrNotConnected
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return &rpcerr.TransportError{Op: "write", Err: err}
	}
	if err := protocol.WriteFrame(c.nc, payload); err != nil {
		var fe *rpcerr.FramingError
		if errors.As(err, &fe) {
			return err
		}
		return &rpcerr.TransportError{Op: "write", Err: err}
	}
	return nil
}

// TryReadFrame polls for one frame. It returns ErrIdle when no frame started within
// IdleTimeout, leaving any partially received header buffered for the next poll.
func (c *Conn) TryReadFrame() ([]byte, error) {
	if c.closed.Load() {
		return nil, rpcerr.ErrNotConnected
	}
	if err := c.nc.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
		return nil, &rpcerr.TransportError{Op: "read", Err: err}
	}
	length, headerLen, err := protocol.PeekLength(c.r)
	if err != nil {
		if isDeadline(err) {
			return nil, ErrIdle
		}
		return nil, c.readErr(err)
	}

	if err := c.nc.SetReadDeadline(time.Now().Add(c.cfg.FrameTimeout)); err != nil {
		return nil, &rpcerr.TransportError{Op: "read", Err: err}
	}
	payload, err := protocol.ReadPeeked(c.r, length, headerLen)
	if err != nil {
		return nil, c.readErr(err)
	}
	return payload, nil
}

// ReadFrameBefore blocks until a frame begins or deadline passes, in which case it
// returns *rpcerr.TimeoutError. Once a frame has begun, each read waits up to
// IdleTimeout and up to stallRetries consecutive stalls are tolerated; a frame that
// stalls longer leaves the stream unusable and yields a *rpcerr.FramingError.
func (c *Conn) ReadFrameBefore(deadline time.Time, stallRetries int) ([]byte, error) {
	if c.closed.Load() {
		return nil, rpcerr.ErrNotConnected
	}
	if !time.Now().Before(deadline) {
		return nil, &rpcerr.TimeoutError{Deadline: deadline}
	}
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, &rpcerr.TransportError{Op: "read", Err: err}
	}
	if _, err := c.r.Peek(1); err != nil {
		if isDeadline(err) {
			return nil, &rpcerr.TimeoutError{Deadline: deadline}
		}
		return nil, c.readErr(err)
	}

	stalls := 0
	var (
		length    int
		headerLen int
		err       error
	)
	for {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
			return nil, &rpcerr.TransportError{Op: "read", Err: err}
		}
		length, headerLen, err = protocol.PeekLength(c.r)
		if err == nil {
			break
		}
		if !isDeadline(err) {
			return nil, c.readErr(err)
		}
		if stalls++; stalls > stallRetries {
			return nil, c.readErr(rpcerr.Framingf("length header stalled after %d retries", stallRetries))
		}
	}
	if _, err := c.r.Discard(headerLen); err != nil {
		return nil, c.readErr(err)
	}

	buf := make([]byte, length+1)
	off := 0
	stalls = 0
	for off < len(buf) {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
			return nil, &rpcerr.TransportError{Op: "read", Err: err}
		}
		n, err := c.r.Read(buf[off:])
		off += n
		if n > 0 {
			stalls = 0
		}
		if err == nil {
			continue
		}
		if !isDeadline(err) {
			return nil, c.readErr(err)
		}
		if stalls++; stalls > stallRetries {
			return nil, c.readErr(rpcerr.Framingf("frame stalled after %d retries", stallRetries))
		}
	}
	if buf[length] != protocol.Terminator {
		return nil, c.readErr(rpcerr.Framingf("missing terminator, got %q", buf[length]))
	}
	return buf[:length], nil
}

// ReadFrame blocks without any deadline until a whole frame arrives.
func (c *Conn) ReadFrame() ([]byte, error) {
	if c.closed.Load() {
		return nil, rpcerr.ErrNotConnected
	}
	if err := c.nc.SetReadDeadline(time.Time{}); err != nil {
		return nil, &rpcerr.TransportError{Op: "read", Err: err}
	}
	payload, err := protocol.ReadFrame(c.r)
	if err != nil {
		return nil, c.readErr(err)
	}
	return payload, nil
}

// readErr keeps framing errors as they are and wraps everything else. After a framing
// error the buffered bytes cannot be trusted, so they are dropped and the next read
// starts on whatever arrives afterwards.
func (c *Conn) readErr(err error) error {
	var fe *rpcerr.FramingError
	if errors.As(err, &fe) {
		c.r.Discard(c.r.Buffered())
		return err
	}
	if c.closed.Load() {
		return rpcerr.ErrNotConnected
	}
	return &rpcerr.TransportError{Op: "read", Err: err}
}

func isDeadline(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
