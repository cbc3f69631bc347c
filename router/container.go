package router

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

var (
	ErrBadTarget    = errors.New("router: target is not Controller@method")
	ErrUnresolvable = errors.New("router: target not bound")
	ErrNoMethod     = errors.New("router: controller has no such method")
)

// Resolver turns a named target into a Handler.
type Resolver interface {
	Resolve(target string) (Handler, error)
}

// controller is a registered receiver and its exported methods.
type controller struct {
	name    string
	rcvr    reflect.Value
	typ     reflect.Type
	methods map[string]*funcHandler
}

// Container is the startup-populated Resolver. Register everything before
// serving; lookups afterwards only read.
type Container struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	controllers map[string]*controller
}

func NewContainer() *Container {
	return &Container{
		handlers:    make(map[string]Handler),
		controllers: make(map[string]*controller),
	}
}

// Bind registers h under an exact target string, e.g. `App\User@find`.
// Exact bindings win over controller methods.
func (c *Container) Bind(target string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[target] = h
}

// RegisterController exposes every exported method of rcvr as
// "name@Method". rcvr must be a pointer to a struct.
func (c *Container) RegisterController(name string, rcvr any) error {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return fmt.Errorf("router: controller %s must be a pointer, got %T", name, rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("router: controller %s must point to a struct, got %s", name, typ.Elem().Kind())
	}

	ctrl := &controller{
		name:    name,
		rcvr:    reflect.ValueOf(rcvr),
		typ:     typ,
		methods: make(map[string]*funcHandler),
	}
	ctrl.registerMethods()
	if len(ctrl.methods) == 0 {
		return fmt.Errorf("router: controller %s has no exported methods", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.controllers[name] = ctrl
	return nil
}

func (ctrl *controller) registerMethods() {
	for i := 0; i < ctrl.typ.NumMethod(); i++ {
		method := ctrl.typ.Method(i)
		// Bound method values drop the receiver from the signature.
		fn := ctrl.rcvr.Method(i)
		h := newFuncHandler(fn, fn.Type())
		h.file, h.line = funcLocation(method.Func)
		ctrl.methods[method.Name] = h
	}
}

// Resolve splits target at "@" and finds the bound method. A lower-case
// method name also matches its exported form, so "User@find" reaches Find.
func (c *Container) Resolve(target string) (Handler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if h, ok := c.handlers[target]; ok {
		return h, nil
	}

	name, method, ok := strings.Cut(target, TargetSeparator)
	if !ok || name == "" || method == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadTarget, target)
	}

	ctrl, ok := c.controllers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvable, name)
	}
	if h, ok := ctrl.methods[method]; ok {
		return h, nil
	}
	if h, ok := ctrl.methods[exported(method)]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrNoMethod, name, method)
}

func exported(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
