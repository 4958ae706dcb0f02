// Package server implements an instrument server speaking the netstring JSON-RPC
// protocol: method dispatch through a middleware chain, per-connection notification
// subscriptions, server-pushed notifications and graceful shutdown.
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → read frame → Parse → middleware chain → businessHandler → write response
//	Notify(name) → every session subscribed to name → write notification
//
// Requests on one connection are answered strictly in order. Every request carries
// the same id, so the client can only match a response by its position.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"instrument-rpc/codec"
	"instrument-rpc/message"
	"instrument-rpc/middleware"
	"instrument-rpc/registry"
	"instrument-rpc/rpcerr"
	"instrument-rpc/transport"
)

// Error codes written into error responses.
const (
	CodeUnknownMethod = -1
	CodeServerError   = -32000
	CodeInvalidParams = -32602
	CodeParseError    = -32700
)

// Built-in methods that manage a connection's notification subscriptions.
const (
	MethodSubscribe   = "subscribeToNotification"
	MethodUnsubscribe = "unsubscribeToNotification"
)

// Handler serves one remote method. The returned value is marshalled as the result;
// a returned *rpcerr.RemoteError keeps its code.
type Handler func(ctx context.Context, sess *Session, params json.RawMessage) (any, error)

// InvalidParamsError reports params that do not fit the method.
type InvalidParamsError struct {
	Err error
}

func (e *InvalidParamsError) Error() string { return "invalid params: " + e.Err.Error() }

func (e *InvalidParamsError) Unwrap() error { return e.Err }

// Options configures a Server.
type Options struct {
	// Name is the service name advertised in the registry.
	Name      string
	Logger    zerolog.Logger
	Transport transport.Config
	// TTL is the registry lease in seconds.
	TTL int64
}

type Server struct {
	name   string
	logger zerolog.Logger
	tcfg   transport.Config
	ttl    int64
	codec  codec.Codec

	handlers    map[string]Handler
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	listener      net.Listener
	registry      registry.Registry
	advertiseAddr string
	ready         chan struct{}

	mu       sync.Mutex
	sessions map[string]*Session

	wg       sync.WaitGroup // in-flight requests
	conns    sync.WaitGroup // connection goroutines
	shutdown atomic.Bool
}

func NewServer(opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "instrument"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10
	}
	s := &Server{
		name:     opts.Name,
		logger:   opts.Logger.With().Str("service", opts.Name).Logger(),
		tcfg:     opts.Transport,
		ttl:      opts.TTL,
		codec:    &codec.JSONCodec{},
		handlers: make(map[string]Handler),
		sessions: make(map[string]*Session),
		ready:    make(chan struct{}),
	}
	s.handlers[MethodSubscribe] = s.subscribe
	s.handlers[MethodUnsubscribe] = s.unsubscribe
	return s
}

// HandleFunc exposes h under method, replacing any earlier registration.
// Handlers must be registered before Serve.
func (svr *Server) HandleFunc(method string, h Handler) {
	svr.handlers[method] = h
}

// Register exposes every method of rcvr that matches (args *A, reply *R) error.
func (svr *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	for name, mt := range svc.method {
		svr.handlers[name] = svc.handler(mt)
	}
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown.
//   - advertiseAddr: the routable address to register, which may differ from a
//     wildcard listen address.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.listener = listener
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := reg.Register(ctx, svr.name, registry.ServiceInstance{Addr: advertiseAddr, Weight: 1}, svr.ttl)
		cancel()
		if err != nil {
			listener.Close()
			return fmt.Errorf("server: register %s: %w", svr.name, err)
		}
	}
	close(svr.ready)
	svr.logger.Info().Str("addr", listener.Addr().String()).Str("advertise", advertiseAddr).Msg("serving")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.conns.Add(1)
		go svr.handleConn(conn)
	}
}

// Addr blocks until the server is listening and returns the listen address.
func (svr *Server) Addr() net.Addr {
	<-svr.ready
	return svr.listener.Addr()
}

// handleConn reads and answers requests on one connection until it closes.
func (svr *Server) handleConn(nc net.Conn) {
	defer svr.conns.Done()

	sess := newSession(transport.NewConn(nc, svr.tcfg))
	logger := svr.logger.With().Str("conn_id", sess.id).Str("remote", sess.RemoteAddr()).Logger()

	svr.mu.Lock()
	svr.sessions[sess.id] = sess
	svr.mu.Unlock()
	logger.Debug().Msg("connection opened")

	defer func() {
		svr.mu.Lock()
		delete(svr.sessions, sess.id)
		svr.mu.Unlock()
		sess.conn.Close()
		logger.Debug().Msg("connection closed")
	}()

	ctx := logger.WithContext(context.WithValue(context.Background(), sessionKey{}, sess))
	for {
		frame, err := sess.conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, rpcerr.ErrNotConnected) {
				logger.Debug().Err(err).Msg("read ended")
			}
			return
		}
		if svr.shutdown.Load() {
			return
		}
		svr.handleFrame(ctx, sess, frame)
	}
}

func (svr *Server) handleFrame(ctx context.Context, sess *Session, frame []byte) {
	svr.wg.Add(1)
	defer svr.wg.Done()

	sess.hold()
	defer func() {
		if err := sess.release(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("write queued notification failed")
		}
	}()

	var resp *message.Response
	env, err := message.Parse(frame)
	switch {
	case err != nil:
		resp = message.NewErrorResponse(CodeParseError, "parse error")
	case env.Method == "":
		zerolog.Ctx(ctx).Debug().Bytes("frame", frame).Msg("ignoring frame without method")
		return
	default:
		req := &message.Request{JSONRPC: env.JSONRPC, Method: env.Method, Params: env.Params}
		resp, err = svr.handler(ctx, req)
		if err != nil {
			resp = errorResponse(err)
		}
	}

	payload, err := svr.codec.Encode(resp)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("encode response failed")
		payload, _ = svr.codec.Encode(message.NewErrorResponse(CodeServerError, "unencodable result"))
	}
	if err := sess.write(payload); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("write response failed")
	}
}

// businessHandler dispatches to the registered method. It sits innermost in the chain.
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	h, ok := svr.handlers[req.Method]
	if !ok {
		return message.NewErrorResponse(CodeUnknownMethod, "unknown method"), nil
	}
	result, err := h(ctx, SessionFromContext(ctx), req.Params)
	if err != nil {
		return errorResponse(err), nil
	}
	return message.NewResult(result)
}

func errorResponse(err error) *message.Response {
	var re *rpcerr.RemoteError
	if errors.As(err, &re) {
		return message.NewErrorResponse(re.Code, re.Message)
	}
	var ip *InvalidParamsError
	if errors.As(err, &ip) {
		return message.NewErrorResponse(CodeInvalidParams, ip.Error())
	}
	return message.NewErrorResponse(CodeServerError, err.Error())
}

func notificationName(params json.RawMessage) (string, error) {
	var names []string
	if err := json.Unmarshal(params, &names); err != nil || len(names) != 1 || names[0] == "" {
		return "", &InvalidParamsError{Err: errors.New("expected one notification name")}
	}
	return names[0], nil
}

func (svr *Server) subscribe(ctx context.Context, sess *Session, params json.RawMessage) (any, error) {
	name, err := notificationName(params)
	if err != nil {
		return nil, err
	}
	sess.subscribe(name)
	zerolog.Ctx(ctx).Debug().Str("notification", name).Msg("subscribed")
	return nil, nil
}

func (svr *Server) unsubscribe(ctx context.Context, sess *Session, params json.RawMessage) (any, error) {
	name, err := notificationName(params)
	if err != nil {
		return nil, err
	}
	sess.unsubscribe(name)
	zerolog.Ctx(ctx).Debug().Str("notification", name).Msg("unsubscribed")
	return nil, nil
}

// Notify pushes a notification to every connection subscribed to method and returns
// how many connections it was written to. A connection that is mid-request gets the
// notification right after that request's response.
func (svr *Server) Notify(method string, params any) (int, error) {
	n, err := message.NewNotification(method, params)
	if err != nil {
		return 0, err
	}
	payload, err := svr.codec.Encode(n)
	if err != nil {
		return 0, err
	}

	svr.mu.Lock()
	targets := make([]*Session, 0, len(svr.sessions))
	for _, sess := range svr.sessions {
		if sess.Subscribed(method) {
			targets = append(targets, sess)
		}
	}
	svr.mu.Unlock()

	sent := 0
	for _, sess := range targets {
		if err := sess.push(payload); err != nil {
			svr.logger.Warn().Err(err).Str("conn_id", sess.id).Str("notification", method).Msg("notify failed")
			continue
		}
		sent++
	}
	return sent, nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so clients stop picking this server
//  2. Set the shutdown flag so the Accept error is recognised as intentional
//  3. Close the listener
//  4. Wait for in-flight requests (bounded by timeout), then close every connection
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := svr.registry.Deregister(ctx, svr.name, svr.advertiseAddr); err != nil {
			svr.logger.Warn().Err(err).Msg("deregister failed")
		}
		cancel()
	}

	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("server: timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	for _, sess := range svr.sessions {
		sess.conn.Close()
	}
	svr.mu.Unlock()
	if err == nil {
		svr.conns.Wait()
	}
	return err
}
