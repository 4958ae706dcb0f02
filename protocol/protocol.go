// Package protocol implements the netstring frame codec used on the instrument connection.
//
// A frame is self-delimiting and needs no payload escaping: the payload length in
// ASCII decimal, a colon, exactly that many payload bytes, and a trailing comma.
//
//	"13:{\"id\":0,...}," → length=13, payload={"id":0,...}
//	┌────────┬───┬──────────────────┬───┐
//	│ digits │ : │ payload (length) │ , │
//	│  1..7  │   │  0..9999999 B    │   │
//	└────────┴───┴──────────────────┴───┘
//
// Two read paths exist. ReadFrame consumes the stream as it parses and is used for
// blocking reads. PeekLength parses the header without consuming anything so a poller
// can give up on an idle stream (read deadline hit) without losing bytes.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"strconv"

	"instrument-rpc/rpcerr"
)

const (
	MaxLengthDigits       = 7
	MaxPayloadLen         = 9999999
	MaxHeaderLen          = MaxLengthDigits + 1 // digits + separator
	Separator        byte = ':'
	Terminator       byte = ','
)

// Reader is what the consuming decoders need: byte-wise header reads, bulk payload reads.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Encode wraps payload into a single frame.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, rpcerr.Framingf("payload of %d bytes exceeds %d", len(payload), MaxPayloadLen)
	}
	buf := make([]byte, 0, MaxHeaderLen+len(payload)+1)
	buf = strconv.AppendInt(buf, int64(len(payload)), 10)
	buf = append(buf, Separator)
	buf = append(buf, payload...)
	buf = append(buf, Terminator)
	return buf, nil
}

// WriteFrame encodes payload and writes the whole frame with a single Write,
// so concurrent writers holding a lock never interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// lengthParser accumulates header bytes one at a time.
type lengthParser struct {
	length int
	digits int
}

// feed consumes one header byte and reports whether the separator was reached.
func (p *lengthParser) feed(b byte) (bool, error) {
	switch {
	case b == Separator:
		if p.digits == 0 {
			return false, rpcerr.Framingf("empty length header")
		}
		return true, nil
	case b >= '0' && b <= '9':
		if p.digits == MaxLengthDigits {
			return false, rpcerr.Framingf("length header exceeds %d digits", MaxLengthDigits)
		}
		p.length = p.length*10 + int(b-'0')
		p.digits++
		return false, nil
	default:
		return false, rpcerr.Framingf("unexpected byte %q in length header", b)
	}
}

// DecodeLength reads the length header up to and including the separator.
// Read errors other than a mid-header EOF are returned as is, so callers can still
// recognise deadline errors.
func DecodeLength(r io.ByteReader) (int, error) {
	var p lengthParser
	for {
		b, err := r.ReadByte()
		if err != nil {
			if p.digits > 0 && errors.Is(err, io.EOF) {
				return 0, rpcerr.Framingf("truncated length header")
			}
			return 0, err
		}
		done, err := p.feed(b)
		if err != nil {
			return 0, err
		}
		if done {
			return p.length, nil
		}
	}
}

// DecodeFrame reads exactly length payload bytes followed by the terminator.
func DecodeFrame(r io.Reader, length int) ([]byte, error) {
	if length < 0 || length > MaxPayloadLen {
		return nil, rpcerr.Framingf("invalid payload length %d", length)
	}
	buf := make([]byte, length+1)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, rpcerr.Framingf("truncated frame: want %d payload bytes", length)
		}
		return nil, err
	}
	if buf[length] != Terminator {
		return nil, rpcerr.Framingf("missing terminator, got %q", buf[length])
	}
	return buf[:length], nil
}

// ReadFrame reads one complete frame and returns its payload.
func ReadFrame(r Reader) ([]byte, error) {
	length, err := DecodeLength(r)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(r, length)
}

// PeekLength parses the length header of the next frame without consuming it.
// headerLen counts the digits plus the separator. Nothing is removed from r, even
// when the peek fails, so a deadline error here leaves the stream intact.
func PeekLength(r *bufio.Reader) (length, headerLen int, err error) {
	var p lengthParser
	for n := 1; n <= MaxHeaderLen; n++ {
		hdr, err := r.Peek(n)
		if err != nil {
			if n > 1 && errors.Is(err, io.EOF) {
				return 0, 0, rpcerr.Framingf("truncated length header")
			}
			return 0, 0, err
		}
		done, err := p.feed(hdr[n-1])
		if err != nil {
			return 0, 0, err
		}
		if done {
			return p.length, n, nil
		}
	}
	// unreachable: feed rejects an eighth digit
	return 0, 0, rpcerr.Framingf("length header exceeds %d digits", MaxLengthDigits)
}

// ReadPeeked consumes the frame whose header was returned by PeekLength.
func ReadPeeked(r *bufio.Reader, length, headerLen int) ([]byte, error) {
	if _, err := r.Discard(headerLen); err != nil {
		return nil, err
	}
	return DecodeFrame(r, length)
}
