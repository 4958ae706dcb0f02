package server

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"instrument-rpc/transport"
)

// Session is one client connection and its notification subscriptions.
type Session struct {
	id   string
	conn *transport.Conn

	// writeMu keeps responses and pushed notifications from interleaving.
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]struct{}
	// While a request is being handled, pushes queue in pending and follow its response.
	busy    bool
	pending [][]byte
}

func newSession(conn *transport.Conn) *Session {
	return &Session{
		id:   uuid.NewString(),
		conn: conn,
		subs: make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) RemoteAddr() string { return s.conn.Addr() }

func (s *Session) subscribe(name string) {
	s.mu.Lock()
	s.subs[name] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) unsubscribe(name string) {
	s.mu.Lock()
	delete(s.subs, name)
	s.mu.Unlock()
}

// Subscribed reports whether the client asked for name notifications.
func (s *Session) Subscribed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[name]
	return ok
}

func (s *Session) write(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteFrame(payload)
}

// push writes a notification, or queues it behind the response being produced.
func (s *Session) push(payload []byte) error {
	s.mu.Lock()
	if s.busy {
		s.pending = append(s.pending, payload)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.write(payload)
}

func (s *Session) hold() {
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()
}

// release ends the request and writes the notifications it queued.
func (s *Session) release() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.busy = false
	s.mu.Unlock()

	for _, payload := range pending {
		if err := s.write(payload); err != nil {
			return err
		}
	}
	return nil
}

type sessionKey struct{}

// SessionFromContext returns the session a request arrived on.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
