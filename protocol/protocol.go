// Package protocol implements the Yar binary frame.
//
// Every frame is a fixed 90-byte header followed by the serialized payload.
// body_len also counts the 8-byte packager name at the end of the header, so
// the payload is the first body_len-8 bytes after the header.
//
// Header format (network byte order):
//
//	0    4  6      10     14          46          78     82       90
//	┌────┬──┬──────┬──────┬───────────┬───────────┬──────┬────────┐
//	│ id │v │magic │resvd │ provider  │  token    │ body │packager│
//	│u32 │16│ u32  │ u32  │ 32 bytes  │ 32 bytes  │ u32  │8 bytes │
//	└────┴──┴──────┴──────┴───────────┴───────────┴──────┴────────┘
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"yar-rpc/codec"
	"yar-rpc/message"
)

const (
	MagicNum     uint32 = 0x80DFEC60
	HeaderSize   int    = 90
	TrailerSize  uint32 = 8  // packager bytes counted by body_len
	ProviderSize int    = 32 // provider and token share this width
	PackagerSize int    = 8

	// ServerProvider is stamped into the provider field of every response.
	ServerProvider = "Swoole Server"
)

var (
	ErrHeaderSize = errors.New("protocol: header must be 90 bytes")
	ErrFormat     = errors.New("protocol: malformed payload")
	ErrBodyLen    = errors.New("protocol: body_len smaller than packager name")
	ErrBodyTooBig = errors.New("protocol: body exceeds package_max_length")
	ErrBadMagic   = errors.New("protocol: magic number mismatch")
)

// Header is the decoded fixed header.
type Header struct {
	ID       uint32
	Version  uint16
	MagicNum uint32
	Reserved uint32
	Provider string
	Token    string
	BodyLen  uint32
	Packager string
}

// PayloadLen is the number of serialized bytes that follow the header.
// Callers must check BodyLen >= TrailerSize first.
func (h Header) PayloadLen() int {
	return int(h.BodyLen - TrailerSize)
}

// DecodeHeader parses exactly HeaderSize bytes. It does not validate the magic
// number; that is a protocol decision left to the caller.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d", ErrHeaderSize, len(b))
	}
	return Header{
		ID:       binary.BigEndian.Uint32(b[0:4]),
		Version:  binary.BigEndian.Uint16(b[4:6]),
		MagicNum: binary.BigEndian.Uint32(b[6:10]),
		Reserved: binary.BigEndian.Uint32(b[10:14]),
		Provider: trimPadding(b[14:46]),
		Token:    trimPadding(b[46:78]),
		BodyLen:  binary.BigEndian.Uint32(b[78:82]),
		Packager: trimPadding(b[82:90]),
	}, nil
}

// EncodeHeader is the inverse of DecodeHeader. Strings longer than their
// field are truncated.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.ID)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint32(buf[6:10], h.MagicNum)
	binary.BigEndian.PutUint32(buf[10:14], h.Reserved)
	copy(buf[14:46], h.Provider)
	copy(buf[46:78], h.Token)
	binary.BigEndian.PutUint32(buf[78:82], h.BodyLen)
	copy(buf[82:90], h.Packager)
	return buf
}

// DecodePayload decodes a request payload with c.
func DecodePayload(b []byte, c codec.Codec) (*message.Request, error) {
	req := &message.Request{}
	if err := c.Decode(b, req); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, c.Name(), err)
	}
	return req, nil
}

// EncodeResponse builds a complete response frame.
func EncodeResponse(resp *message.Response, c codec.Codec) ([]byte, error) {
	payload, err := c.Encode(resp)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode response: %w", err)
	}
	return frame(Header{
		ID:       resp.ID,
		MagicNum: MagicNum,
		Provider: ServerProvider,
		Packager: c.Name(),
	}, payload), nil
}

// EncodeRequest builds a complete request frame. h.ID, MagicNum, BodyLen and
// Packager are filled from req and c.
func EncodeRequest(h Header, req *message.Request, c codec.Codec) ([]byte, error) {
	payload, err := c.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode request: %w", err)
	}
	h.ID = req.ID
	h.MagicNum = MagicNum
	h.Packager = c.Name()
	return frame(h, payload), nil
}

func frame(h Header, payload []byte) []byte {
	h.BodyLen = TrailerSize + uint32(len(payload))
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, EncodeHeader(h)...)
	return append(out, payload...)
}

// ReadFrame reads one frame from r and returns its header and payload.
// maxBody of zero means unbounded. Used by stream readers such as the client;
// the server side goes through transport.Reassembler instead.
func ReadFrame(r io.Reader, maxBody uint32) (Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return Header{}, nil, err
	}

	h, err := DecodeHeader(headerBuf)
	if err != nil {
		return Header{}, nil, err
	}
	if h.MagicNum != MagicNum {
		return Header{}, nil, fmt.Errorf("%w: %#x", ErrBadMagic, h.MagicNum)
	}
	if h.BodyLen < TrailerSize {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrBodyLen, h.BodyLen)
	}
	if maxBody > 0 && h.BodyLen > maxBody {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrBodyTooBig, h.BodyLen)
	}

	payload := make([]byte, h.PayloadLen())
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, err
	}
	return h, payload, nil
}

func trimPadding(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
