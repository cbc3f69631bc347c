// Package client calls Yar servers.
//
// Conn multiplexes concurrent calls over one TCP connection. Each request gets
// a unique id; a background goroutine (recvLoop) reads response frames and
// routes each one to its waiting caller by id.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Call(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2] → goroutine-2 wakes up
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"yar-rpc/codec"
	"yar-rpc/message"
	"yar-rpc/protocol"
)

var (
	ErrConnClosed = errors.New("client: connection closed")
	// ErrNotSent marks a failure before the request was written. Only these
	// calls are safe to retry: the server cannot have run the handler.
	ErrNotSent = errors.New("client: request not sent")
)

// RemoteError is an EXCEPTION response returned by the server.
type RemoteError struct {
	Detail message.ErrorDetail
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("yar: %s (code %d)", e.Detail.Message, e.Detail.Code)
}

func (e *RemoteError) Code() int {
	return e.Detail.Code
}

// ConnOptions configures the header fields and packager of outgoing frames.
type ConnOptions struct {
	Codec    codec.Codec // default msgpack
	Provider string
	Token    string
	MaxBody  uint32 // 0 = unbounded
}

// Conn is one multiplexed connection to a server.
type Conn struct {
	nc   net.Conn
	opts ConnOptions

	seq     atomic.Uint32
	sending sync.Mutex // whole frames only; concurrent writes would interleave

	mu      sync.Mutex
	pending map[uint32]chan result
	err     error // set once the connection is broken
	done    chan struct{}
}

type result struct {
	resp *message.Response
	err  error
}

// Dial connects to addr and starts the receive loop.
func Dial(ctx context.Context, addr string, opts ConnOptions) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, opts), nil
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn, opts ConnOptions) *Conn {
	if opts.Codec == nil {
		opts.Codec = codec.Default()
	}
	c := &Conn{
		nc:      nc,
		opts:    opts,
		pending: make(map[uint32]chan result),
		done:    make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

// Call sends method with params and waits for the matching response or ctx.
// An EXCEPTION response is returned as a *RemoteError alongside the response.
func (c *Conn) Call(ctx context.Context, method string, params ...any) (*message.Response, error) {
	if params == nil {
		params = []any{}
	}
	req := &message.Request{ID: c.nextID(), Method: method, Params: params}

	ch, err := c.send(req)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Failed() {
			return res.resp, &RemoteError{Detail: errorDetail(res.resp.Error)}
		}
		return res.resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// nextID skips 0 so a zero id never reaches the server.
func (c *Conn) nextID() uint32 {
	for {
		if id := c.seq.Add(1); id != 0 {
			return id
		}
	}
}

func (c *Conn) send(req *message.Request) (<-chan result, error) {
	data, err := protocol.EncodeRequest(protocol.Header{
		Provider: c.opts.Provider,
		Token:    c.opts.Token,
	}, req, c.opts.Codec)
	if err != nil {
		return nil, err
	}

	// register before writing so recvLoop cannot miss the response
	ch := make(chan result, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrNotSent, c.err)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.sending.Lock()
	_, err = c.nc.Write(data)
	c.sending.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		// a short write never completes a frame on the server side
		return nil, fmt.Errorf("%w: %w: %v", ErrNotSent, ErrConnClosed, err)
	}
	return ch, nil
}

// recvLoop owns the read side. Frames must be read sequentially, so there is
// exactly one reader per connection.
func (c *Conn) recvLoop() {
	for {
		h, payload, err := protocol.ReadFrame(c.nc, c.opts.MaxBody)
		if err != nil {
			c.closeAllPending(fmt.Errorf("%w: %v", ErrConnClosed, err))
			return
		}

		resp := &message.Response{}
		if err := codec.ForPackager(h.Packager).Decode(payload, resp); err != nil {
			c.closeAllPending(fmt.Errorf("%w: %v", protocol.ErrFormat, err))
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[h.ID]
		delete(c.pending, h.ID)
		c.mu.Unlock()
		if ok {
			ch <- result{resp: resp}
		}
	}
}

// closeAllPending fails every waiting caller and marks the connection broken.
func (c *Conn) closeAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		close(c.done)
	}
	for id, ch := range c.pending {
		ch <- result{err: err}
		delete(c.pending, id)
	}
	c.nc.Close()
}

// Broken reports whether the receive loop has stopped.
func (c *Conn) Broken() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() error {
	err := c.nc.Close()
	<-c.done
	return err
}

// errorDetail rebuilds the "e" member after a round trip through a packager,
// which yields a generic map.
func errorDetail(v any) message.ErrorDetail {
	switch e := v.(type) {
	case message.ErrorDetail:
		return e
	case map[string]any:
		d := message.ErrorDetail{}
		d.Message, _ = e["message"].(string)
		d.File, _ = e["file"].(string)
		d.Code = toInt(e["code"])
		d.Line = toInt(e["line"])
		return d
	case string:
		return message.ErrorDetail{Message: e}
	}
	return message.ErrorDetail{Message: fmt.Sprint(v)}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
