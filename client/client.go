// Package client drives an instrument server over one netstring JSON-RPC connection.
//
// A Client owns exactly one connection and one lock. The lock is held for a whole
// call (flush, send, bounded receive) or for a single dispatcher poll, so the
// synchronous request path and the background notification path never interleave
// bytes on the stream. Only one request is in flight at a time.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"instrument-rpc/codec"
	"instrument-rpc/loadbalance"
	"instrument-rpc/middleware"
	"instrument-rpc/registry"
	"instrument-rpc/rpcerr"
	"instrument-rpc/transport"
)

var ErrAlreadyConnected = errors.New("client: already connected")

// Options configures a Client. Zero fields take the defaults from DefaultOptions.
type Options struct {
	Transport transport.Config

	// MaxAttempts bounds the idle polls spent waiting for a response.
	MaxAttempts int
	// PollInterval is how long the dispatcher sleeps after an idle poll.
	PollInterval time.Duration
	// WaitStallRetries is how many mid-frame stalls WaitForNotification tolerates.
	WaitStallRetries int
	// DefaultWait applies to WaitForNotification when no deadline is given.
	DefaultWait time.Duration

	Logger zerolog.Logger
	Codec  codec.Codec

	// Registry and Balancer are only needed by ConnectService.
	Registry registry.Registry
	Balancer loadbalance.Balancer
}

func DefaultOptions() Options {
	return Options{
		Transport:        transport.DefaultConfig(),
		MaxAttempts:      50,
		PollInterval:     500 * time.Millisecond,
		WaitStallRetries: 3,
		DefaultWait:      2 * time.Hour,
		Logger:           zerolog.Nop(),
		Codec:            &codec.JSONCodec{},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.WaitStallRetries < 0 {
		o.WaitStallRetries = d.WaitStallRetries
	}
	if o.DefaultWait <= 0 {
		o.DefaultWait = d.DefaultWait
	}
	if o.Codec == nil {
		o.Codec = d.Codec
	}
	if o.Balancer == nil {
		o.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	return o
}

// Callback receives one notification. A nil Callback subscribes without a handler.
type Callback func(n *Notification)

type Client struct {
	id     string
	opts   Options
	logger zerolog.Logger

	// mu guards conn, subs and disp.
	mu   sync.Mutex
	conn *transport.Conn
	subs map[string]Callback
	disp *dispatcher

	hmu         sync.RWMutex
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	id := xid.New().String()
	c := &Client{
		id:     id,
		opts:   opts,
		logger: opts.Logger.With().Str("client_id", id).Logger(),
		subs:   make(map[string]Callback),
	}
	c.handler = c.exchange
	return c
}

func (c *Client) ID() string { return c.id }

// Use wraps every subsequent call in the given middlewares; the first is outermost.
func (c *Client) Use(mws ...middleware.Middleware) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.middlewares = append(c.middlewares, mws...)
	c.handler = middleware.Chain(c.middlewares...)(c.exchange)
}

// Connect dials addr. The subscription table starts empty.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	conn, err := transport.Dial(ctx, addr, c.opts.Transport)
	if err != nil {
		c.logger.Warn().Err(err).Str("addr", addr).Msg("connect failed")
		return err
	}
	c.conn = conn
	c.logger.Info().Str("addr", addr).Msg("connected")
	return nil
}

// ConnectService resolves service through the configured registry and balancer.
func (c *Client) ConnectService(ctx context.Context, service string) error {
	if c.opts.Registry == nil {
		return fmt.Errorf("client: connect %q: no registry configured", service)
	}
	instances, err := c.opts.Registry.Discover(ctx, service)
	if err != nil {
		return &rpcerr.ConnectionError{Addr: service, Err: err}
	}
	inst, err := c.opts.Balancer.Pick(instances)
	if err != nil {
		return &rpcerr.ConnectionError{Addr: service, Err: err}
	}
	c.logger.Debug().Str("service", service).Str("balancer", c.opts.Balancer.Name()).Str("addr", inst.Addr).Msg("instance picked")
	return c.Connect(ctx, inst.Addr)
}

// Disconnect closes the connection, clears the subscription table and signals the
// dispatcher to stop.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return rpcerr.ErrNotConnected
	}
	c.teardownLocked()
	c.logger.Info().Msg("disconnected")
	return nil
}

// Close disconnects if connected and waits for the dispatcher to exit. Called from a
// notification callback it only signals the dispatcher, which exits once the callback returns.
func (c *Client) Close() error {
	c.mu.Lock()
	d := c.disp
	if c.conn != nil {
		c.teardownLocked()
	} else {
		c.stopDispatcherLocked()
	}
	c.mu.Unlock()

	if d != nil && !d.inCallback.Load() {
		<-d.done
	}
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.Addr()
}

// Subscriptions returns the subscribed notification names, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.subs))
	for name := range c.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// teardownLocked drops all connection state. Caller holds c.mu.
func (c *Client) teardownLocked() {
	c.clearSubscriptionsLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// clearSubscriptionsLocked empties the table; the dispatcher has nothing left to do.
func (c *Client) clearSubscriptionsLocked() {
	if len(c.subs) > 0 {
		c.logger.Debug().Int("count", len(c.subs)).Msg("subscriptions cleared")
	}
	clear(c.subs)
	c.stopDispatcherLocked()
}
