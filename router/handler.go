package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"runtime"
)

var (
	ErrArgCount = errors.New("router: wrong number of arguments")
	ErrArgType  = errors.New("router: argument type mismatch")
)

// Handler runs one call with the request's positional params.
//
// Returning a *message.Response, or an error wrapping *message.EarlyResponse,
// short-circuits the dispatcher's result wrapping.
type Handler interface {
	Invoke(ctx context.Context, args []any) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, args []any) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, args []any) (any, error) {
	return f(ctx, args)
}

// Locator is implemented by handlers that know where they were declared.
type Locator interface {
	Location() (file string, line int)
}

// Location returns the declaration site of h, or "", 0 if unknown.
func Location(h Handler) (string, int) {
	switch v := h.(type) {
	case Locator:
		return v.Location()
	case HandlerFunc:
		return funcLocation(reflect.ValueOf(v))
	}
	return "", 0
}

func funcLocation(fn reflect.Value) (string, int) {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return "", 0
	}
	return f.FileLine(f.Entry())
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// funcHandler binds positional params to an arbitrary Go function.
type funcHandler struct {
	fn      reflect.Value
	typ     reflect.Type
	withCtx bool // first parameter is context.Context
	file    string
	line    int
}

// Func wraps fn so it can be routed. fn may take a leading context.Context and
// may return nothing, a value, an error, or a value and an error. Params are
// bound to the remaining parameters in order; numbers convert between kinds
// when no precision is lost. It panics if fn is not a function.
func Func(fn any) Handler {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic(fmt.Sprintf("router: action must be a func, got %T", fn))
	}
	h := newFuncHandler(v, v.Type())
	h.file, h.line = funcLocation(v)
	return h
}

func newFuncHandler(fn reflect.Value, typ reflect.Type) *funcHandler {
	h := &funcHandler{fn: fn, typ: typ}
	h.withCtx = typ.NumIn() > 0 && typ.In(0) == contextType
	return h
}

func (h *funcHandler) Location() (string, int) {
	return h.file, h.line
}

func (h *funcHandler) Invoke(ctx context.Context, args []any) (any, error) {
	in, err := h.bind(ctx, args)
	if err != nil {
		return nil, err
	}

	return h.results(h.fn.Call(in))
}

func (h *funcHandler) bind(ctx context.Context, args []any) ([]reflect.Value, error) {
	offset := 0
	if h.withCtx {
		offset = 1
	}
	fixed := h.typ.NumIn() - offset
	variadic := h.typ.IsVariadic()
	if variadic {
		fixed--
	}

	if len(args) < fixed || (!variadic && len(args) > fixed) {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrArgCount, fixed, len(args))
	}

	in := make([]reflect.Value, 0, len(args)+offset)
	if h.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		var want reflect.Type
		if i < fixed {
			want = h.typ.In(offset + i)
		} else {
			want = h.typ.In(h.typ.NumIn() - 1).Elem()
		}
		v, err := convert(arg, want)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

// results maps the call's return values to (value, error). A trailing error
// result is split off; of the rest, only the first is kept.
func (h *funcHandler) results(out []reflect.Value) (any, error) {
	var err error
	if n := len(out); n > 0 && h.typ.Out(n-1) == errorType {
		if !out[n-1].IsNil() {
			err = out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, err
	}
	return out[0].Interface(), err
}

// convert coerces a decoded param into the parameter type want.
func convert(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(want), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(want) {
		return v, nil
	}

	switch {
	case isNumber(v.Kind()) && isNumber(want.Kind()):
		return convertNumber(v, want)
	case v.Kind() == reflect.Slice && want.Kind() == reflect.Slice:
		out := reflect.MakeSlice(want, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := convert(v.Index(i).Interface(), want.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	case v.Kind() == reflect.Map && want.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(want, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, err := convert(iter.Key().Interface(), want.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			val, err := convert(iter.Value().Interface(), want.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(key, val)
		}
		return out, nil
	case v.Kind() == reflect.String && want.Kind() == reflect.String:
		return v.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrArgType, arg, want)
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func convertNumber(v reflect.Value, want reflect.Type) (reflect.Value, error) {
	out := v.Convert(want)
	if v.CanFloat() && out.CanFloat() {
		return out, nil
	}

	// Reject conversions that change the value, e.g. 1.5 -> int or 300 -> uint8.
	var same bool
	switch {
	case v.CanFloat():
		f := v.Float()
		same = !math.IsNaN(f) && back(out) == f
	case v.CanInt():
		same = back(out) == float64(v.Int())
	default:
		same = back(out) == float64(v.Uint())
	}
	if !same {
		return reflect.Value{}, fmt.Errorf("%w: %v does not fit %s", ErrArgType, v.Interface(), want)
	}
	return out, nil
}

func back(v reflect.Value) float64 {
	switch {
	case v.CanFloat():
		return v.Float()
	case v.CanInt():
		return float64(v.Int())
	default:
		return float64(v.Uint())
	}
}
