// Package rpcerr defines the error taxonomy shared by every layer of the client.
//
// Errors fall into five categories. Callers inspect them with errors.Is / errors.As:
//
//	connection  ConnectionError, ErrNotConnected
//	protocol    FramingError, DecodeError
//	remote      RemoteError (a normal outcome of a successful round trip)
//	timeout     TimeoutError
//	transport   TransportError
package rpcerr

import (
	"errors"
	"fmt"
	"time"
)

// Category groups errors for logging and retry decisions.
type Category string

const (
	CategoryConnection Category = "connection"
	CategoryProtocol   Category = "protocol"
	CategoryRemote     Category = "remote"
	CategoryTimeout    Category = "timeout"
	CategoryTransport  Category = "transport"
)

// ErrNotConnected is returned by any operation that needs an established connection.
var ErrNotConnected = errors.New("rpc: not connected")

// ConnectionError reports a failed or timed out connect attempt.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rpc: connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Category() Category { return CategoryConnection }

// FramingError reports a malformed length header, a missing terminator or a truncated frame.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "rpc: framing: " + e.Reason
}

func (e *FramingError) Category() Category { return CategoryProtocol }

// Framingf builds a FramingError with a formatted reason.
func Framingf(format string, args ...any) *FramingError {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// DecodeError reports a frame payload that is not valid JSON-RPC.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	const maxShown = 64
	p := e.Payload
	if len(p) > maxShown {
		p = p[:maxShown]
	}
	return fmt.Sprintf("rpc: decode %q: %v", p, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Category() Category { return CategoryProtocol }

// RemoteError is an application error reported by the server.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %d: %s", e.Code, e.Message)
}

func (e *RemoteError) Category() Category { return CategoryRemote }

// TimeoutError reports an exhausted retry budget or a passed deadline.
// The connection is left open; the caller may retry.
type TimeoutError struct {
	Method   string
	Attempts int
	Deadline time.Time
}

func (e *TimeoutError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("rpc: %s: no response after %d attempts", e.Method, e.Attempts)
	}
	return fmt.Sprintf("rpc: %s: deadline %s exceeded", e.Method, e.Deadline.Format(time.RFC3339Nano))
}

func (e *TimeoutError) Category() Category { return CategoryTimeout }

// Timeout lets TimeoutError satisfy the net.Error style check used by retry middleware.
func (e *TimeoutError) Timeout() bool { return true }

// TransportError reports an I/O failure other than an idle timeout.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Category() Category { return CategoryTransport }

// CategoryOf returns the category of err, or "" when err is not from this package.
func CategoryOf(err error) Category {
	var c interface{ Category() Category }
	if errors.As(err, &c) {
		return c.Category()
	}
	if errors.Is(err, ErrNotConnected) {
		return CategoryConnection
	}
	return ""
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
