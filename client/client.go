package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"yar-rpc/loadbalance"
	"yar-rpc/message"
	"yar-rpc/registry"
)

// Options tunes a Client.
type Options struct {
	Conn ConnOptions

	// MaxRetries is the number of extra attempts after a failure that happened
	// before the request was written. Calls lost after sending and exceptions
	// returned by the server are never retried.
	MaxRetries int
	BaseDelay  time.Duration // backoff before retry i is BaseDelay << i

	Logger *zerolog.Logger
}

// Client calls a named service discovered through a Registry, picking an
// instance per call with a Balancer and keeping one Conn per instance.
type Client struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	service  string
	opts     Options
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, service string, opts Options) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 50 * time.Millisecond
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		registry: reg,
		balancer: bal,
		service:  service,
		opts:     opts,
		log:      logger.With().Str("component", "client").Str("service", service).Logger(),
		conns:    make(map[string]*Conn),
	}
}

// Call invokes method on one instance of the service and returns the result
// value. Failures before the request is sent are retried with exponential
// backoff, each attempt re-picking an instance.
func (c *Client) Call(ctx context.Context, method string, params ...any) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.BaseDelay * time.Duration(1<<(attempt-1))
			c.log.Debug().Err(lastErr).Int("attempt", attempt).Str("method", method).Dur("backoff", delay).Msg("retry")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.call(ctx, method, params)
		if err == nil {
			return resp.Result, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("client: %s failed after %d attempts: %w", method, c.opts.MaxRetries+1, lastErr)
}

func (c *Client) call(ctx context.Context, method string, params []any) (*message.Response, error) {
	instances, err := c.registry.Discover(ctx, c.service)
	if err != nil {
		return nil, err
	}
	inst, err := c.balancer.Pick(method, instances)
	if err != nil {
		return nil, err
	}

	conn, err := c.conn(ctx, inst.Addr)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Call(ctx, method, params...)
	if errors.Is(err, ErrConnClosed) {
		c.drop(inst.Addr, conn)
	}
	return resp, err
}

// conn returns the cached connection to addr, dialing a new one when there is
// none or the old one broke.
func (c *Client) conn(ctx context.Context, addr string) (*Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cn, ok := c.conns[addr]; ok && !cn.Broken() {
		return cn, nil
	}
	cn, err := Dial(ctx, addr, c.opts.Conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrNotSent, ErrConnClosed, err)
	}
	c.conns[addr] = cn
	return cn, nil
}

func (c *Client) drop(addr string, cn *Conn) {
	c.mu.Lock()
	if c.conns[addr] == cn {
		delete(c.conns, addr)
	}
	c.mu.Unlock()
	cn.Close()
}

// Close closes every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, cn := range c.conns {
		cn.Close()
		delete(c.conns, addr)
	}
	return nil
}

// retryable reports whether err left the server untouched. A connection that
// breaks after the write may already have run the handler.
func retryable(err error) bool {
	return errors.Is(err, ErrNotSent) || errors.Is(err, loadbalance.ErrNoInstances)
}
