package rpcerr

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{&ConnectionError{Addr: "127.0.0.1:1", Err: io.EOF}, CategoryConnection},
		{ErrNotConnected, CategoryConnection},
		{fmt.Errorf("call: %w", ErrNotConnected), CategoryConnection},
		{Framingf("bad byte %q", 'x'), CategoryProtocol},
		{&DecodeError{Payload: []byte("{"), Err: io.ErrUnexpectedEOF}, CategoryProtocol},
		{&RemoteError{Code: -1, Message: "unknown method"}, CategoryRemote},
		{&TimeoutError{Method: "ping", Attempts: 50}, CategoryTimeout},
		{fmt.Errorf("wrapped: %w", &TransportError{Op: "read", Err: io.EOF}), CategoryTransport},
		{errors.New("plain"), ""},
	}
	for _, tc := range cases {
		if got := CategoryOf(tc.err); got != tc.want {
			t.Errorf("CategoryOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	err := &TransportError{Op: "write", Err: io.ErrClosedPipe}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected TransportError to unwrap to io.ErrClosedPipe")
	}
	cerr := &ConnectionError{Addr: "x", Err: io.EOF}
	if !errors.Is(cerr, io.EOF) {
		t.Fatalf("expected ConnectionError to unwrap to io.EOF")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("x: %w", &TimeoutError{Method: "ping", Attempts: 3})) {
		t.Fatal("expected wrapped TimeoutError to be a timeout")
	}
	if IsTimeout(&TransportError{Op: "read", Err: io.EOF}) {
		t.Fatal("transport error is not a timeout")
	}
}

func TestDecodeErrorTruncatesPayload(t *testing.T) {
	err := &DecodeError{Payload: []byte(strings.Repeat("a", 500)), Err: io.ErrUnexpectedEOF}
	if len(err.Error()) > 200 {
		t.Fatalf("error message too long: %d", len(err.Error()))
	}
}

func TestRemoteErrorMessage(t *testing.T) {
	err := &RemoteError{Code: -1, Message: "unknown method"}
	if err.Error() != "rpc: remote error -1: unknown method" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
