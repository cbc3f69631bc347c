package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"yar-rpc/message"
	"yar-rpc/router"
)

// Dispatcher routes a decoded request to its handler and always produces a
// Response. Route lookups, resolution errors, handler errors and panics never
// escape Dispatch.
type Dispatcher struct {
	routes   router.RouteTable
	resolver router.Resolver
	reporter *Reporter
}

// NewDispatcher builds a dispatcher over an immutable route table. resolver
// may be nil when every route is an inline callable; reporter may be nil.
func NewDispatcher(routes router.RouteTable, resolver router.Resolver, reporter *Reporter) *Dispatcher {
	return &Dispatcher{
		routes:   routes,
		resolver: resolver,
		reporter: reporter,
	}
}

// Dispatch runs req and returns its response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request) (resp *message.Response) {
	var h router.Handler
	defer func() {
		if p := recover(); p != nil {
			resp = d.exception(req, newPanicError(p), h)
		}
	}()

	route, err := d.routes.Lookup(req.Method)
	if err != nil {
		return d.exception(req, message.NewError(0, "Not Found %s", req.Method), nil)
	}

	h, err = d.handler(route.Action)
	if err != nil {
		return d.exception(req, err, nil)
	}

	result, err := h.Invoke(ctx, req.Params)
	if err != nil {
		var early *message.EarlyResponse
		if errors.As(err, &early) && early.Response != nil {
			return earlyResponse(req, early.Response)
		}
		return d.exception(req, err, h)
	}

	if r, ok := result.(*message.Response); ok && r != nil {
		return earlyResponse(req, r)
	}
	return message.NewResponse(req.ID, result)
}

func (d *Dispatcher) handler(action router.Action) (router.Handler, error) {
	if action.Callable != nil {
		return action.Callable, nil
	}
	if d.resolver == nil {
		return nil, fmt.Errorf("%w: no resolver for %s", router.ErrUnresolvable, action.Target)
	}
	return d.resolver.Resolve(action.Target)
}

// earlyResponse returns a copy of a handler-built response. A zero id is
// filled in so the client can still correlate it. The handler may share the
// original between calls, so it is never written to.
func earlyResponse(req *message.Request, resp *message.Response) *message.Response {
	out := *resp
	if out.ID == 0 {
		out.ID = req.ID
	}
	return &out
}

func (d *Dispatcher) exception(req *message.Request, err error, h router.Handler) *message.Response {
	if d.reporter != nil {
		d.reporter.Report(req, err)
	}
	return message.NewException(req.ID, errorDetail(err, h))
}

// errorDetail flattens err into the wire error shape. The code comes from a
// Code() method anywhere in the chain; file and line come from a
// *message.Error, the panic site, or the handler's declaration, in that order.
func errorDetail(err error, h router.Handler) message.ErrorDetail {
	detail := message.ErrorDetail{Message: err.Error()}

	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		detail.Code = coder.Code()
	}

	var me *message.Error
	var pe *panicError
	switch {
	case errors.As(err, &me):
		detail.File, detail.Line = me.File, me.Line
	case errors.As(err, &pe):
		detail.File, detail.Line = pe.file, pe.line
	case h != nil:
		detail.File, detail.Line = router.Location(h)
	}
	return detail
}

// panicError carries a recovered panic and the frame that raised it.
type panicError struct {
	value any
	file  string
	line  int
}

func newPanicError(p any) *panicError {
	pe := &panicError{value: p}

	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	panicking := false
	for {
		frame, more := frames.Next()
		if frame.Function == "runtime.gopanic" {
			panicking = true
		} else if panicking && !strings.HasPrefix(frame.Function, "runtime.") {
			pe.file, pe.line = frame.File, frame.Line
			break
		}
		if !more {
			break
		}
	}
	return pe
}

func (e *panicError) Error() string {
	if err, ok := e.value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.value)
}

func (e *panicError) Unwrap() error {
	err, _ := e.value.(error)
	return err
}
