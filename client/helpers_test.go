package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"instrument-rpc/logging"
	"instrument-rpc/message"
	"instrument-rpc/protocol"
)

// fakeServer is a scripted instrument server for one client connection.
type fakeServer struct {
	t      *testing.T
	ln     net.Listener
	handle func(s *fakeServer, req *message.Request)

	mu       sync.Mutex
	conn     net.Conn
	requests []*message.Request
}

func newFakeServer(t *testing.T, handle func(s *fakeServer, req *message.Request)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if handle == nil {
		handle = instrumentHandler
	}
	s := &fakeServer{t: t, ln: ln, handle: handle}
	t.Cleanup(func() {
		ln.Close()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
	go s.serve()
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	r := bufio.NewReader(conn)
	for {
		frame, err := protocol.ReadFrame(r)
		if err != nil {
			return
		}
		var req message.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, &req)
		s.mu.Unlock()
		s.handle(s, &req)
	}
}

func (s *fakeServer) writeRaw(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		s.t.Errorf("fake server: no connection")
		return
	}
	s.conn.Write(b)
}

func (s *fakeServer) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.t.Errorf("fake server: marshal: %v", err)
		return
	}
	frame, _ := protocol.Encode(data)
	s.writeRaw(frame)
}

func (s *fakeServer) reply(result any) {
	resp, err := message.NewResult(result)
	if err != nil {
		s.t.Errorf("fake server: %v", err)
		return
	}
	s.send(resp)
}

func (s *fakeServer) replyError(code int, msg string) {
	s.send(message.NewErrorResponse(code, msg))
}

func (s *fakeServer) push(method string, params any) {
	n, err := message.NewNotification(method, params)
	if err != nil {
		s.t.Errorf("fake server: %v", err)
		return
	}
	s.send(n)
}

func (s *fakeServer) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *fakeServer) received() []*message.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*message.Request(nil), s.requests...)
}

// instrumentHandler answers the handful of methods the tests use.
func instrumentHandler(s *fakeServer, req *message.Request) {
	switch req.Method {
	case "ping":
		s.reply("pong")
	case "getState":
		s.reply("IDLE")
	case MethodSubscribe, MethodUnsubscribe:
		s.reply(nil)
	default:
		s.replyError(-1, "unknown method")
	}
}

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.Transport.IdleTimeout = 20 * time.Millisecond
	opts.Transport.FrameTimeout = time.Second
	opts.MaxAttempts = 25
	opts.PollInterval = 20 * time.Millisecond
	opts.Logger = logging.ForTests(t)
	return opts
}

func connectedClient(t *testing.T, s *fakeServer, opts Options) *Client {
	t.Helper()
	c := New(opts)
	if err := c.Connect(context.Background(), s.addr()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
