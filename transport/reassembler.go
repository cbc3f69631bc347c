// Package transport turns the raw byte stream of one connection into Yar frames.
//
// TCP gives no message boundaries: a single read may hold half a header, or the
// tail of one frame and the head of the next. The Reassembler buffers chunks
// and moves between two states:
//
//	AwaitHeader ──(≥90 bytes, magic ok)──► AwaitBody
//	     ▲                                     │
//	     └──(≥body_len-8 bytes, id ok, emit)───┘
//
// Bytes beyond a completed header or body are carried into the next state.
// A Reassembler belongs to exactly one connection and is not safe for
// concurrent use.
package transport

import (
	"errors"
	"fmt"

	"yar-rpc/codec"
	"yar-rpc/message"
	"yar-rpc/protocol"
)

var (
	ErrMagicMismatch = errors.New("transport: magic number mismatch")
	ErrIDMismatch    = errors.New("transport: request id does not match header id")
	ErrClosed        = errors.New("transport: reassembler closed")
)

// IsProtocolViolation reports whether err was caused by a frame that decoded
// but broke a framing rule, as opposed to bytes that could not be decoded.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrMagicMismatch) || errors.Is(err, ErrIDMismatch)
}

type state int

const (
	awaitHeader state = iota
	awaitBody
)

func (s state) String() string {
	if s == awaitBody {
		return "await-body"
	}
	return "await-header"
}

// Frame is one fully reassembled request together with the packager it used.
type Frame struct {
	Header  protocol.Header
	Request *message.Request
	Codec   codec.Codec
}

// Reassembler is the per-connection framing state machine.
type Reassembler struct {
	state   state
	buf     []byte
	header  protocol.Header
	maxBody uint32 // 0 = unbounded
	closed  bool
}

// NewReassembler creates a reassembler in AwaitHeader. maxBody bounds
// body_len; zero disables the check.
func NewReassembler(maxBody uint32) *Reassembler {
	return &Reassembler{maxBody: maxBody}
}

// Feed appends chunk and returns every frame it completes, in stream order.
//
// Any error is terminal: the buffered state is discarded, later calls return
// ErrClosed, and the caller must close the connection. Frames completed
// before the offending one are still returned alongside the error.
func (r *Reassembler) Feed(chunk []byte) ([]Frame, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	r.buf = append(r.buf, chunk...)

	var frames []Frame
	for {
		switch r.state {
		case awaitHeader:
			if len(r.buf) < protocol.HeaderSize {
				return frames, nil
			}
			h, err := protocol.DecodeHeader(r.buf[:protocol.HeaderSize])
			if err != nil {
				return frames, r.fail(err)
			}
			if h.MagicNum != protocol.MagicNum {
				return frames, r.fail(fmt.Errorf("%w: got %#x", ErrMagicMismatch, h.MagicNum))
			}
			if h.BodyLen < protocol.TrailerSize {
				return frames, r.fail(fmt.Errorf("%w: %d", protocol.ErrBodyLen, h.BodyLen))
			}
			if r.maxBody > 0 && h.BodyLen > r.maxBody {
				return frames, r.fail(fmt.Errorf("%w: %d > %d", protocol.ErrBodyTooBig, h.BodyLen, r.maxBody))
			}
			r.header = h
			r.buf = r.buf[protocol.HeaderSize:]
			r.state = awaitBody

		case awaitBody:
			n := r.header.PayloadLen()
			if len(r.buf) < n {
				return frames, nil
			}
			c := codec.ForPackager(r.header.Packager)
			req, err := protocol.DecodePayload(r.buf[:n], c)
			if err != nil {
				return frames, r.fail(err)
			}
			if req.ID != r.header.ID {
				return frames, r.fail(fmt.Errorf("%w: header %d, body %d", ErrIDMismatch, r.header.ID, req.ID))
			}
			frames = append(frames, Frame{Header: r.header, Request: req, Codec: c})
			r.buf = r.buf[n:]
			r.header = protocol.Header{}
			r.state = awaitHeader
		}
	}
}

// Buffered returns the number of bytes held for the current state.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset drops all buffered state. Called when the connection closes.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.header = protocol.Header{}
	r.state = awaitHeader
	r.closed = true
}

func (r *Reassembler) fail(err error) error {
	r.Reset()
	return err
}
