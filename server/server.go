// Package server implements the Yar RPC server.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection owns the Reassembler)
//	  → each complete frame becomes a task on the bounded task queue
//	    → task worker: middleware chain → Dispatcher → EncodeResponse → Send(connID)
//
// Slow handlers only occupy task workers; connection readers keep framing.
// A response whose connection has gone away is dropped.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"yar-rpc/message"
	"yar-rpc/metrics"
	"yar-rpc/middleware"
	"yar-rpc/protocol"
	"yar-rpc/registry"
	"yar-rpc/transport"
)

const Version = "yar-rpc server 0.1.0"

// Options tunes a Server. Zero values take the defaults noted per field.
type Options struct {
	TaskWorkers    int    // default 4
	TaskQueueSize  int    // default 1024
	MaxBodyLen     uint32 // 0 = unbounded
	ReadBufferSize int    // default 64 KiB

	Logger *zerolog.Logger // default log.Logger

	// Registry, when set, advertises ServiceName at AdvertiseAddr for the
	// lifetime of Serve.
	Registry      registry.Registry
	ServiceName   string
	AdvertiseAddr string
	RegistryTTL   int64 // seconds, default 10
}

func (o *Options) setDefaults() {
	if o.TaskWorkers <= 0 {
		o.TaskWorkers = 4
	}
	if o.TaskQueueSize <= 0 {
		o.TaskQueueSize = 1024
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 64 * 1024
	}
	if o.RegistryTTL <= 0 {
		o.RegistryTTL = 10
	}
}

// Server accepts Yar connections and answers every reassembled request.
type Server struct {
	opts        Options
	log         zerolog.Logger
	dispatcher  *Dispatcher
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	lnMu     sync.Mutex
	listener net.Listener
	conns    *connTable
	nextConn atomic.Uint64
	tasks    chan task
	workers  *workerPool
	inflight sync.WaitGroup // submitted tasks not yet answered
	readers  sync.WaitGroup // live connection goroutines
	submitMu sync.Mutex     // orders inflight.Add against Shutdown's Wait
	shutdown atomic.Bool
	closed   chan struct{}
}

func NewServer(d *Dispatcher, opts Options) *Server {
	opts.setDefaults()
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		opts:       opts,
		log:        logger.With().Str("component", "server").Logger(),
		dispatcher: d,
		conns:      newConnTable(),
		tasks:      make(chan task, opts.TaskQueueSize),
		closed:     make(chan struct{}),
	}
	s.workers = newWorkerPool(opts.TaskWorkers, s.tasks, s.runTask)
	return s
}

// Use registers a middleware. Middlewares apply in the order added and must
// be registered before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address and blocks until Shutdown or a listener error.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

// ServeListener serves connections accepted from listener.
func (s *Server) ServeListener(listener net.Listener) error {
	s.lnMu.Lock()
	s.listener = listener
	if s.shutdown.Load() {
		// Shutdown ran before there was a listener to close.
		s.lnMu.Unlock()
		listener.Close()
		return nil
	}
	s.lnMu.Unlock()
	s.handler = middleware.Chain(s.middlewares...)(s.dispatcher.Dispatch)
	s.workers.start()

	if s.opts.Registry != nil {
		if err := s.opts.Registry.Register(context.Background(), s.opts.ServiceName, registry.ServiceInstance{
			Addr:    s.opts.AdvertiseAddr,
			Weight:  s.opts.TaskWorkers,
			Version: Version,
		}, s.opts.RegistryTTL); err != nil {
			s.workers.stop()
			return fmt.Errorf("server: register %s: %w", s.opts.ServiceName, err)
		}
	}

	s.log.Info().Str("addr", listener.Addr().String()).Int("task_workers", s.opts.TaskWorkers).Msg("start")

	for {
		nc, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.readers.Add(1)
		go s.handleConn(nc)
	}
}

// Addr returns the listener address once serving has started.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConn is the I/O side of one connection: read, reassemble, submit.
func (s *Server) handleConn(nc net.Conn) {
	defer s.readers.Done()

	id := s.nextConn.Add(1)
	s.conns.add(id, nc)
	metrics.ConnectionOpened()
	logger := s.log.With().Uint64("conn", id).Str("remote", nc.RemoteAddr().String()).Logger()
	logger.Debug().Msg("connect")

	reasm := transport.NewReassembler(s.opts.MaxBodyLen)
	defer func() {
		reasm.Reset()
		s.conns.remove(id)
		nc.Close()
		metrics.ConnectionClosed()
		logger.Debug().Msg("close")
	}()

	buf := make([]byte, s.opts.ReadBufferSize)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			frames, ferr := reasm.Feed(buf[:n])
			for _, f := range frames {
				if !s.submit(task{connID: id, frame: f}) {
					logger.Debug().Uint32("id", f.Request.ID).Msg("shutting down, request ignored")
				}
			}
			if ferr != nil {
				kind := "format"
				if transport.IsProtocolViolation(ferr) {
					kind = "protocol"
				}
				metrics.RecordConnectionError(kind)
				logger.Warn().Err(ferr).Str("kind", kind).Msg("closing connection")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug().Err(err).Msg("read")
			}
			return
		}
	}
}

// submit hands t to the task pool. It blocks while the queue is full, which
// stalls only this connection's reader.
func (s *Server) submit(t task) bool {
	s.submitMu.Lock()
	if s.shutdown.Load() {
		s.submitMu.Unlock()
		return false
	}
	s.inflight.Add(1)
	s.submitMu.Unlock()

	select {
	case s.tasks <- t:
		return true
	case <-s.closed:
		s.inflight.Done()
		return false
	}
}

// runTask is the task side: dispatch, encode, send back to the owning connection.
func (s *Server) runTask(t task) {
	defer s.inflight.Done()

	req := t.frame.Request
	ctx := withCall(context.Background(), t.connID, t.frame.Header)
	resp := s.handle(ctx, req)
	if resp == nil {
		resp = message.NewException(req.ID, message.ErrorDetail{Message: "empty response"})
	}

	data, err := protocol.EncodeResponse(resp, t.frame.Codec)
	if err != nil {
		s.log.Error().Err(err).Uint32("id", req.ID).Str("method", req.Method).Msg("encode response")
		data, err = protocol.EncodeResponse(message.NewException(req.ID, message.ErrorDetail{
			Message: err.Error(),
		}), t.frame.Codec)
		if err != nil {
			return
		}
	}

	if err := s.Send(t.connID, data); err != nil {
		metrics.RecordDroppedResponse()
		s.log.Debug().Err(err).Uint64("conn", t.connID).Uint32("id", req.ID).Msg("response dropped")
	}
}

// handle runs the middleware chain. A panic raised outside the Dispatcher
// becomes an EXCEPTION for req.
func (s *Server) handle(ctx context.Context, req *message.Request) (resp *message.Response) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error().Interface("panic", p).Uint32("id", req.ID).Str("method", req.Method).Msg("middleware panic")
			resp = message.NewException(req.ID, message.ErrorDetail{Message: fmt.Sprint(p)})
		}
	}()
	return s.handler(ctx, req)
}

// Send writes data to connection connID. It returns ErrConnClosed when the
// connection is no longer in the table.
func (s *Server) Send(connID uint64, data []byte) error {
	c, ok := s.conns.get(connID)
	if !ok {
		return ErrConnClosed
	}
	return c.write(data)
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	return s.conns.len()
}

// Reload replaces the task workers. Queued tasks are picked up by the new
// generation.
func (s *Server) Reload() {
	gen := s.workers.reload()
	s.log.Info().Int("generation", gen).Int("task_workers", s.opts.TaskWorkers).Msg("task workers reloaded")
}

// Shutdown performs graceful shutdown:
//  1. Ignore newly framed requests
//  2. Deregister from the registry and stop accepting
//  3. Wait for in-flight requests to be answered (bounded by timeout)
//  4. Close every connection and stop the task workers
func (s *Server) Shutdown(timeout time.Duration) error {
	s.submitMu.Lock()
	if s.shutdown.Load() {
		s.submitMu.Unlock()
		return nil
	}
	s.shutdown.Store(true)
	s.submitMu.Unlock()

	if s.opts.Registry != nil {
		if err := s.opts.Registry.Deregister(context.Background(), s.opts.ServiceName, s.opts.AdvertiseAddr); err != nil {
			s.log.Warn().Err(err).Msg("deregister")
		}
	}

	s.lnMu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.lnMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	close(s.closed)
	s.conns.closeAll()
	s.readers.Wait()
	s.workers.stop()
	s.log.Info().Msg("shutdown")
	return err
}
